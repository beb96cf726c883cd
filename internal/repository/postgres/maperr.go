package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/dasher-monitor/internal/repository"
)

// mapErr translates a driver error into the repository taxonomy, keeping
// the operation name and the driver detail in the message. Callers branch
// on the taxonomy sentinel with errors.Is.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%s: %w: %v", op, repository.ErrTransient, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%s: %w: %s", op, repository.ErrConflict, pqErr.Message)
		case transientCode(string(pqErr.Code)):
			return fmt.Errorf("%s: %w: %s", op, repository.ErrTransient, pqErr.Message)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, repository.ErrPermanent, err)
}

// transientCode reports whether a SQLSTATE names a condition that a
// prompt retry can plausibly clear: serialization failures, deadlocks,
// connection-class errors and connection-slot exhaustion.
func transientCode(code string) bool {
	switch code {
	case "40001", "40P01", "53300", "57P03":
		return true
	}
	return strings.HasPrefix(code, "08")
}
