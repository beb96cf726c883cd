package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// PortalUserRepo implements repository.PortalUsers against PostgreSQL.
type PortalUserRepo struct{ db *sql.DB }

// NewPortalUserRepo creates a Postgres-backed portal-user repository.
func NewPortalUserRepo(db *sql.DB) *PortalUserRepo { return &PortalUserRepo{db: db} }

func (r *PortalUserRepo) UpsertMinimal(ctx context.Context, email, passwordHash, inboxID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO portal_users (id, email, password_hash, account_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (email)
		DO UPDATE SET password_hash = EXCLUDED.password_hash, account_id = EXCLUDED.account_id
	`, uuid.New().String(), email, passwordHash, inboxID)
	if err != nil {
		return mapErr("upsert portal user", err)
	}
	return nil
}
