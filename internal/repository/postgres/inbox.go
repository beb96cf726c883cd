package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/repository"
)

// InboxRepo implements repository.Inboxes against PostgreSQL.
type InboxRepo struct{ db *sql.DB }

// NewInboxRepo creates a Postgres-backed inbox repository.
func NewInboxRepo(db *sql.DB) *InboxRepo { return &InboxRepo{db: db} }

func scanInbox(row interface{ Scan(...interface{}) error }, in *domain.Inbox) error {
	return row.Scan(
		&in.ID, &in.ProviderID, &in.Email, &in.Name, &in.Stage,
		&in.StageUpdatedAt, &in.LastScannedAt, &in.ScanError, &in.Notes,
		&in.Status, &in.CreatedAt, &in.UpdatedAt,
	)
}

func (r *InboxRepo) UpsertByProviderID(ctx context.Context, inbox *domain.Inbox) (bool, error) {
	if inbox.ID == "" {
		inbox.ID = uuid.New().String()
	}
	if inbox.Stage == "" {
		inbox.Stage = domain.StageRegistered
	}
	if inbox.Status == "" {
		inbox.Status = "active"
	}

	// xmax is zero only for rows this statement inserted, which tells an
	// insert apart from a conflict update in one round trip.
	var created bool
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, smtp_account_id, email, name, stage, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (smtp_account_id)
		DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name, updated_at = NOW()
		RETURNING id, stage, stage_updated_at, last_scanned_at, scan_error, notes,
		          status, created_at, updated_at, (xmax = 0)
	`, inbox.ID, inbox.ProviderID, inbox.Email, inbox.Name, inbox.Stage, inbox.Status).Scan(
		&inbox.ID, &inbox.Stage, &inbox.StageUpdatedAt, &inbox.LastScannedAt,
		&inbox.ScanError, &inbox.Notes, &inbox.Status, &inbox.CreatedAt,
		&inbox.UpdatedAt, &created,
	)
	if err != nil {
		return false, mapErr("upsert inbox", err)
	}
	return created, nil
}

func (r *InboxRepo) List(ctx context.Context) ([]domain.Inbox, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, smtp_account_id, email, name, stage, stage_updated_at,
		       last_scanned_at, scan_error, notes, status, created_at, updated_at
		FROM accounts
		ORDER BY email
	`)
	if err != nil {
		return nil, mapErr("list inboxes", err)
	}
	defer rows.Close()

	var out []domain.Inbox
	for rows.Next() {
		var in domain.Inbox
		if err := scanInbox(rows, &in); err != nil {
			return nil, mapErr("scan inbox", err)
		}
		out = append(out, in)
	}
	return out, nil
}

func (r *InboxRepo) FindByEmail(ctx context.Context, email string) (*domain.Inbox, error) {
	in := &domain.Inbox{}
	err := scanInbox(r.db.QueryRowContext(ctx, `
		SELECT id, smtp_account_id, email, name, stage, stage_updated_at,
		       last_scanned_at, scan_error, notes, status, created_at, updated_at
		FROM accounts
		WHERE LOWER(email) = LOWER($1)
	`, email), in)
	if err != nil {
		return nil, mapErr("find inbox by email", err)
	}
	return in, nil
}

func (r *InboxRepo) FindByID(ctx context.Context, id string) (*domain.Inbox, error) {
	in := &domain.Inbox{}
	err := scanInbox(r.db.QueryRowContext(ctx, `
		SELECT id, smtp_account_id, email, name, stage, stage_updated_at,
		       last_scanned_at, scan_error, notes, status, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id), in)
	if err != nil {
		return nil, mapErr("find inbox by id", err)
	}
	return in, nil
}

// UpdateStage promotes the inbox under a row lock so concurrent scanners
// serialize on the same account. The guard re-checks the stored stage
// inside the transaction; a rejected promotion rolls back untouched.
func (r *InboxRepo) UpdateStage(ctx context.Context, id string, newStage domain.Stage, triggerSubject string, triggerDate *time.Time, reactivated bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin stage update", err)
	}
	defer tx.Rollback()

	var current domain.Stage
	if err := tx.QueryRowContext(ctx,
		`SELECT stage FROM accounts WHERE id = $1 FOR UPDATE`, id,
	).Scan(&current); err != nil {
		return mapErr("lock inbox stage", err)
	}

	if !domain.ShouldPromote(current, newStage, reactivated) {
		return fmt.Errorf("stage %s does not outrank %s: %w", newStage, current, repository.ErrConflict)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET stage = $1, stage_updated_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`, newStage, id); err != nil {
		return mapErr("update inbox stage", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stage_history (id, account_id, old_stage, new_stage, trigger_subject, trigger_date, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, uuid.New().String(), id, current, newStage, triggerSubject, triggerDate); err != nil {
		return mapErr("insert stage history", err)
	}

	if err := tx.Commit(); err != nil {
		return mapErr("commit stage update", err)
	}
	return nil
}

func (r *InboxRepo) UpdateScanState(ctx context.Context, id string, lastScannedAt time.Time, scanError string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET last_scanned_at = $1, scan_error = $2, updated_at = NOW()
		WHERE id = $3
	`, lastScannedAt, scanError, id)
	if err != nil {
		return mapErr("update scan state", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update scan state: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *InboxRepo) UpdateNotes(ctx context.Context, id, notes string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET notes = $1, updated_at = NOW() WHERE id = $2
	`, notes, id)
	if err != nil {
		return mapErr("update notes", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update notes: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *InboxRepo) StageHistory(ctx context.Context, inboxID string) ([]domain.StageHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, old_stage, new_stage, trigger_subject, trigger_date, changed_at
		FROM stage_history
		WHERE account_id = $1
		ORDER BY changed_at
	`, inboxID)
	if err != nil {
		return nil, mapErr("stage history", err)
	}
	defer rows.Close()

	var out []domain.StageHistoryEntry
	for rows.Next() {
		var e domain.StageHistoryEntry
		if err := rows.Scan(&e.ID, &e.InboxID, &e.OldStage, &e.NewStage,
			&e.TriggerSubject, &e.TriggerDate, &e.ChangedAt); err != nil {
			return nil, mapErr("scan stage history", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *InboxRepo) StageCounts(ctx context.Context) (map[domain.Stage]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT stage, COUNT(*) FROM accounts GROUP BY stage`,
	)
	if err != nil {
		return nil, mapErr("stage counts", err)
	}
	defer rows.Close()

	counts := make(map[domain.Stage]int, len(domain.AllStages))
	for _, s := range domain.AllStages {
		counts[s] = 0
	}
	for rows.Next() {
		var s domain.Stage
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, mapErr("scan stage count", err)
		}
		counts[s] = n
	}
	return counts, nil
}
