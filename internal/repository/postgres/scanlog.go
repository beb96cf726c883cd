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

// ScanLogRepo implements repository.ScanLogs against PostgreSQL.
type ScanLogRepo struct{ db *sql.DB }

// NewScanLogRepo creates a Postgres-backed scan-log repository.
func NewScanLogRepo(db *sql.DB) *ScanLogRepo { return &ScanLogRepo{db: db} }

func scanScanLog(row interface{ Scan(...interface{}) error }, s *domain.ScanLog) error {
	return row.Scan(
		&s.ID, &s.Status, &s.StartedAt, &s.FinishedAt, &s.TotalAccounts,
		&s.Scanned, &s.Errors, &s.StageTransitions, &s.ErrorDetails, &s.CurrentAccount,
	)
}

func (r *ScanLogRepo) Insert(ctx context.Context, s *domain.ScanLog) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = domain.ScanRunning
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scan_logs (id, status, started_at, total_accounts, scanned, errors, stage_transitions, current_account)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.Status, s.StartedAt, s.TotalAccounts, s.Scanned, s.Errors,
		s.StageTransitions, s.CurrentAccount)
	if err != nil {
		return mapErr("insert scan log", err)
	}
	return nil
}

func (r *ScanLogRepo) Update(ctx context.Context, id string, u repository.ScanLogUpdate) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.FinishedAt != nil {
		add("finished_at", *u.FinishedAt)
	}
	if u.TotalAccounts != nil {
		add("total_accounts", *u.TotalAccounts)
	}
	if u.Scanned != nil {
		add("scanned", *u.Scanned)
	}
	if u.Errors != nil {
		add("errors", *u.Errors)
	}
	if u.StageTransitions != nil {
		add("stage_transitions", *u.StageTransitions)
	}
	if u.ErrorDetails != nil {
		add("error_details", []byte(u.ErrorDetails))
	}
	if u.CurrentAccount != nil {
		add("current_account", *u.CurrentAccount)
	}
	if len(sets) == 0 {
		return nil
	}

	q := fmt.Sprintf(`UPDATE scan_logs SET %s WHERE id = $%d`, joinComma(sets), idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapErr("update scan log", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update scan log: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *ScanLogRepo) Get(ctx context.Context, id string) (*domain.ScanLog, error) {
	s := &domain.ScanLog{}
	err := scanScanLog(r.db.QueryRowContext(ctx, `
		SELECT id, status, started_at, finished_at, total_accounts, scanned,
		       errors, stage_transitions, error_details, current_account
		FROM scan_logs
		WHERE id = $1
	`, id), s)
	if err != nil {
		return nil, mapErr("get scan log", err)
	}
	return s, nil
}

func (r *ScanLogRepo) Latest(ctx context.Context, limit int) ([]domain.ScanLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, started_at, finished_at, total_accounts, scanned,
		       errors, stage_transitions, error_details, current_account
		FROM scan_logs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, mapErr("latest scan logs", err)
	}
	defer rows.Close()

	var out []domain.ScanLog
	for rows.Next() {
		var s domain.ScanLog
		if err := scanScanLog(rows, &s); err != nil {
			return nil, mapErr("scan scan log", err)
		}
		out = append(out, s)
	}
	return out, nil
}
