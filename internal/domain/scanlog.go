package domain

import (
	"encoding/json"
	"time"
)

// ScanStatus is the lifecycle state of one scanner run.
type ScanStatus string

const (
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// ScanLog tracks one invocation of the fleet scanner. Progress fields
// are updated between batches; status becomes terminal exactly once.
type ScanLog struct {
	ID               string          `json:"id" db:"id"`
	Status           ScanStatus      `json:"status" db:"status"`
	StartedAt        time.Time       `json:"started_at" db:"started_at"`
	FinishedAt       *time.Time      `json:"finished_at" db:"finished_at"`
	TotalAccounts    int             `json:"total_accounts" db:"total_accounts"`
	Scanned          int             `json:"scanned" db:"scanned"`
	Errors           int             `json:"errors" db:"errors"`
	StageTransitions int             `json:"stage_transitions" db:"stage_transitions"`
	ErrorDetails     json.RawMessage `json:"error_details,omitempty" db:"error_details"`
	CurrentAccount   string          `json:"current_account" db:"current_account"`
}
