// Package repository defines the narrow persistence contract consumed by
// the scanner, the classification pipeline and the API layer, plus the
// error taxonomy implementations map their driver errors into.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignite/dasher-monitor/internal/domain"
)

// Inboxes is the tracked-inbox contract. Implementations must be safe for
// concurrent use.
type Inboxes interface {
	// UpsertByProviderID inserts the inbox if its provider id is unknown,
	// otherwise refreshes email/name. Returns whether a row was created.
	UpsertByProviderID(ctx context.Context, inbox *domain.Inbox) (created bool, err error)

	// List returns every tracked inbox, email ascending.
	List(ctx context.Context) ([]domain.Inbox, error)

	// FindByEmail returns a single inbox. Returns ErrNotFound if unknown.
	FindByEmail(ctx context.Context, email string) (*domain.Inbox, error)

	// FindByID returns a single inbox. Returns ErrNotFound if unknown.
	FindByID(ctx context.Context, id string) (*domain.Inbox, error)

	// UpdateStage promotes an inbox and appends the stage-history row in one
	// transaction. The write only happens when the new stage outranks the
	// stored one, or the stored stage is DEACTIVATED, the new one ACTIVE and
	// reactivated is true. Returns ErrConflict when the guard rejects the
	// write (typically a lost race with another scanner).
	UpdateStage(ctx context.Context, id string, newStage domain.Stage, triggerSubject string, triggerDate *time.Time, reactivated bool) error

	// UpdateScanState records the outcome of a per-inbox scan pass:
	// last_scanned_at plus the scan error ("" clears it).
	UpdateScanState(ctx context.Context, id string, lastScannedAt time.Time, scanError string) error

	// UpdateNotes replaces the operator notes.
	UpdateNotes(ctx context.Context, id, notes string) error

	// StageHistory returns the append-only promotion trail, oldest first.
	StageHistory(ctx context.Context, inboxID string) ([]domain.StageHistoryEntry, error)

	// StageCounts returns the number of inboxes per stage.
	StageCounts(ctx context.Context) (map[domain.Stage]int, error)
}

// Classifications is the persisted-classification contract.
type Classifications interface {
	// GetByMessageIDs fetches every stored classification for the inbox whose
	// message id is in ids, keyed by message id. One round trip.
	GetByMessageIDs(ctx context.Context, inboxID string, ids []string) (map[string]domain.Classification, error)

	// Upsert writes a classification keyed on (account_id, message_id),
	// replacing any previous verdict for that message. Fills ID/CreatedAt.
	Upsert(ctx context.Context, c *domain.Classification) error

	// ListByInbox returns an inbox's classifications, newest first.
	ListByInbox(ctx context.Context, inboxID string) ([]domain.Classification, error)

	// Stats aggregates counts by category, source and urgency.
	Stats(ctx context.Context) (*AnalysisStats, error)

	// ReviewQueue returns manually-routed classifications, newest first.
	ReviewQueue(ctx context.Context, limit int) ([]domain.Classification, error)

	// Review applies an operator override: non-nil fields are written, the
	// source becomes manual and confidence 1.0. Returns the updated row.
	Review(ctx context.Context, id string, u ReviewUpdate) (*domain.Classification, error)
}

// ReviewUpdate holds the operator-editable classification fields. Nil
// fields are left untouched.
type ReviewUpdate struct {
	Category       *string
	SubCategory    *string
	Summary        *string
	Urgency        *string
	ActionRequired *bool
}

// AnalysisStats aggregates the classification table.
type AnalysisStats struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
	BySource   map[string]int `json:"by_source"`
	ByUrgency  map[string]int `json:"by_urgency"`
}

// Alerts is the operator-alert contract.
type Alerts interface {
	// Insert stores a new unread alert. Fills ID/CreatedAt.
	Insert(ctx context.Context, a *domain.Alert) error

	// List returns alerts matching the filter, newest first, plus the total
	// match count before paging.
	List(ctx context.Context, f AlertFilter) ([]domain.Alert, int, error)

	// MarkRead flags one alert as read. Returns ErrNotFound for unknown ids.
	MarkRead(ctx context.Context, id, readBy string, at time.Time) error

	// MarkAllRead flags every unread alert, returning how many flipped.
	MarkAllRead(ctx context.Context, readBy string, at time.Time) (int, error)
}

// AlertFilter controls alert listing.
type AlertFilter struct {
	UnreadOnly bool
	Severity   string
	InboxID    string
	Limit      int
	Offset     int
}

// ScanLogs is the scan-run bookkeeping contract.
type ScanLogs interface {
	// Insert stores a new scan-log row (status running).
	Insert(ctx context.Context, s *domain.ScanLog) error

	// Update applies the non-nil fields to an existing row.
	Update(ctx context.Context, id string, u ScanLogUpdate) error

	// Get returns one scan log. Returns ErrNotFound if unknown.
	Get(ctx context.Context, id string) (*domain.ScanLog, error)

	// Latest returns the most recent scan logs, newest first.
	Latest(ctx context.Context, limit int) ([]domain.ScanLog, error)
}

// ScanLogUpdate holds the mutable scan-log fields. Nil fields are not
// applied.
type ScanLogUpdate struct {
	Status           *domain.ScanStatus
	FinishedAt       *time.Time
	TotalAccounts    *int
	Scanned          *int
	Errors           *int
	StageTransitions *int
	ErrorDetails     json.RawMessage
	CurrentAccount   *string
}

// PortalUsers maintains the minimal portal credential rows created during
// provisioning. Authentication lives outside this service.
type PortalUsers interface {
	// UpsertMinimal creates the credential row for an email or refreshes its
	// password hash and inbox linkage.
	UpsertMinimal(ctx context.Context, email, passwordHash, inboxID string) error
}
