package repository

import "errors"

// Error taxonomy for the persistence layer. Implementations wrap their
// driver errors with exactly one of these; callers branch with errors.Is.
// The core retries ErrTransient once where safe and surfaces the rest.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrTransient = errors.New("transient storage error")
	ErrPermanent = errors.New("permanent storage error")
)
