package domain

import (
	"fmt"
	"time"
)

// Stage is the lifecycle position of a tracked inbox. Stages are totally
// ordered by priority; scanner-driven promotions only ever move to a
// strictly higher priority, with one exception: DEACTIVATED -> ACTIVE is
// allowed when a reactivation signal was observed.
type Stage string

const (
	StageRegistered       Stage = "REGISTERED"
	StageIdentityVerified Stage = "IDENTITY_VERIFIED"
	StageBGCPending       Stage = "BGC_PENDING"
	StageBGCClear         Stage = "BGC_CLEAR"
	StageBGCConsider      Stage = "BGC_CONSIDER"
	StageActive           Stage = "ACTIVE"
	StageDeactivated      Stage = "DEACTIVATED"
)

// stagePriorities maps each stage to its rank in the promotion order.
var stagePriorities = map[Stage]int{
	StageRegistered:       0,
	StageIdentityVerified: 1,
	StageBGCPending:       2,
	StageBGCClear:         3,
	StageBGCConsider:      4,
	StageActive:           5,
	StageDeactivated:      6,
}

// AllStages lists every stage in priority order.
var AllStages = []Stage{
	StageRegistered,
	StageIdentityVerified,
	StageBGCPending,
	StageBGCClear,
	StageBGCConsider,
	StageActive,
	StageDeactivated,
}

// Priority returns the promotion rank of the stage. Unknown stages rank
// lowest so a bad value in the database never blocks a real promotion.
func (s Stage) Priority() int {
	if p, ok := stagePriorities[s]; ok {
		return p
	}
	return -1
}

// Valid reports whether s is one of the seven known stages.
func (s Stage) Valid() bool {
	_, ok := stagePriorities[s]
	return ok
}

// ParseStage validates a raw stage token.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q", raw)
	}
	return s, nil
}

// ShouldPromote reports whether a detected stage may replace the current
// one. Promotion requires a strictly higher priority, or the explicit
// DEACTIVATED -> ACTIVE path backed by reactivation evidence.
func ShouldPromote(current, detected Stage, reactivated bool) bool {
	if current == StageDeactivated && detected == StageActive {
		return reactivated
	}
	return detected.Priority() > current.Priority()
}

// Inbox is one monitored mail account on the external provider.
type Inbox struct {
	ID             string     `json:"id" db:"id"`
	ProviderID     string     `json:"smtp_account_id" db:"smtp_account_id"`
	Email          string     `json:"email" db:"email"`
	Name           string     `json:"name" db:"name"`
	Stage          Stage      `json:"stage" db:"stage"`
	StageUpdatedAt *time.Time `json:"stage_updated_at" db:"stage_updated_at"`
	LastScannedAt  *time.Time `json:"last_scanned_at" db:"last_scanned_at"`
	ScanError      string     `json:"scan_error" db:"scan_error"`
	Notes          string     `json:"notes" db:"notes"`
	Status         string     `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// StageHistoryEntry is one append-only record of a stage promotion.
// Entries are immutable once written.
type StageHistoryEntry struct {
	ID             string     `json:"id" db:"id"`
	InboxID        string     `json:"account_id" db:"account_id"`
	OldStage       Stage      `json:"old_stage" db:"old_stage"`
	NewStage       Stage      `json:"new_stage" db:"new_stage"`
	TriggerSubject string     `json:"trigger_subject" db:"trigger_subject"`
	TriggerDate    *time.Time `json:"trigger_date" db:"trigger_date"`
	ChangedAt      time.Time  `json:"changed_at" db:"changed_at"`
}

// PortalUser is the minimal portal credential record the provisioner
// maintains. Authentication itself lives outside this service.
type PortalUser struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	InboxID      string     `json:"account_id" db:"account_id"`
	LastLoginAt  *time.Time `json:"last_login_at" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
