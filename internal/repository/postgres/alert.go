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

// AlertRepo implements repository.Alerts against PostgreSQL.
type AlertRepo struct{ db *sql.DB }

// NewAlertRepo creates a Postgres-backed alert repository.
func NewAlertRepo(db *sql.DB) *AlertRepo { return &AlertRepo{db: db} }

func (r *AlertRepo) Insert(ctx context.Context, a *domain.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO alerts (id, account_id, alert_type, severity, title, message, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, NOW())
		RETURNING created_at
	`, a.ID, a.InboxID, a.AlertType, a.Severity, a.Title, a.Message).Scan(&a.CreatedAt)
	if err != nil {
		return mapErr("insert alert", err)
	}
	return nil
}

func (r *AlertRepo) List(ctx context.Context, f repository.AlertFilter) ([]domain.Alert, int, error) {
	where := ""
	args := []interface{}{}
	idx := 1
	and := func(cond string, val interface{}) {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, idx)
		args = append(args, val)
		idx++
	}

	if f.UnreadOnly {
		and("is_read = $%d", false)
	}
	if f.Severity != "" {
		and("severity = $%d", f.Severity)
	}
	if f.InboxID != "" {
		and("account_id = $%d", f.InboxID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, mapErr("count alerts", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := fmt.Sprintf(`
		SELECT id, account_id, alert_type, severity, title, message,
		       is_read, read_by, read_at, created_at
		FROM alerts%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, mapErr("list alerts", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := rows.Scan(&a.ID, &a.InboxID, &a.AlertType, &a.Severity,
			&a.Title, &a.Message, &a.IsRead, &a.ReadBy, &a.ReadAt, &a.CreatedAt); err != nil {
			return nil, 0, mapErr("scan alert", err)
		}
		out = append(out, a)
	}
	return out, total, nil
}

func (r *AlertRepo) MarkRead(ctx context.Context, id, readBy string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET is_read = true, read_by = $1, read_at = $2 WHERE id = $3
	`, readBy, at, id)
	if err != nil {
		return mapErr("mark alert read", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("mark alert read: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *AlertRepo) MarkAllRead(ctx context.Context, readBy string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET is_read = true, read_by = $1, read_at = $2 WHERE is_read = false
	`, readBy, at)
	if err != nil {
		return 0, mapErr("mark all alerts read", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
