package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/repository"
)

// ClassificationRepo implements repository.Classifications against
// PostgreSQL. Rows are unique on (account_id, message_id).
type ClassificationRepo struct{ db *sql.DB }

// NewClassificationRepo creates a Postgres-backed classification repository.
func NewClassificationRepo(db *sql.DB) *ClassificationRepo { return &ClassificationRepo{db: db} }

func scanClassification(row interface{ Scan(...interface{}) error }, c *domain.Classification) error {
	return row.Scan(
		&c.ID, &c.InboxID, &c.MessageID, &c.Category, &c.SubCategory,
		&c.Confidence, &c.Source, &c.Summary, &c.Urgency, &c.ActionRequired,
		&c.KeyDetails, &c.RawResponse, &c.CreatedAt,
	)
}

func (r *ClassificationRepo) GetByMessageIDs(ctx context.Context, inboxID string, ids []string) (map[string]domain.Classification, error) {
	out := make(map[string]domain.Classification, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, message_id, category, sub_category, confidence,
		       analysis_source, summary, urgency, action_required, key_details,
		       raw_response, created_at
		FROM email_analyses
		WHERE account_id = $1 AND message_id = ANY($2)
	`, inboxID, pq.Array(ids))
	if err != nil {
		return nil, mapErr("batch classification lookup", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.Classification
		if err := scanClassification(rows, &c); err != nil {
			return nil, mapErr("scan classification", err)
		}
		out[c.MessageID] = c
	}
	return out, nil
}

func (r *ClassificationRepo) Upsert(ctx context.Context, c *domain.Classification) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	// created_at refreshes on replacement so a recomputed verdict is never
	// mistaken for a stale one.
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO email_analyses
			(id, account_id, message_id, category, sub_category, confidence,
			 analysis_source, summary, urgency, action_required, key_details,
			 raw_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (account_id, message_id)
		DO UPDATE SET category = EXCLUDED.category,
		              sub_category = EXCLUDED.sub_category,
		              confidence = EXCLUDED.confidence,
		              analysis_source = EXCLUDED.analysis_source,
		              summary = EXCLUDED.summary,
		              urgency = EXCLUDED.urgency,
		              action_required = EXCLUDED.action_required,
		              key_details = EXCLUDED.key_details,
		              raw_response = EXCLUDED.raw_response,
		              created_at = NOW()
		RETURNING id, created_at
	`, c.ID, c.InboxID, c.MessageID, c.Category, c.SubCategory, c.Confidence,
		c.Source, c.Summary, c.Urgency, c.ActionRequired,
		nullableJSON(c.KeyDetails), nullableJSON(c.RawResponse),
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return mapErr("upsert classification", err)
	}
	return nil
}

func (r *ClassificationRepo) ListByInbox(ctx context.Context, inboxID string) ([]domain.Classification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, message_id, category, sub_category, confidence,
		       analysis_source, summary, urgency, action_required, key_details,
		       raw_response, created_at
		FROM email_analyses
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, inboxID)
	if err != nil {
		return nil, mapErr("list classifications", err)
	}
	defer rows.Close()

	var out []domain.Classification
	for rows.Next() {
		var c domain.Classification
		if err := scanClassification(rows, &c); err != nil {
			return nil, mapErr("scan classification", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *ClassificationRepo) Stats(ctx context.Context) (*repository.AnalysisStats, error) {
	stats := &repository.AnalysisStats{
		ByCategory: map[string]int{},
		BySource:   map[string]int{},
		ByUrgency:  map[string]int{},
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_analyses`,
	).Scan(&stats.Total); err != nil {
		return nil, mapErr("count classifications", err)
	}

	groups := []struct {
		col  string
		dest map[string]int
	}{
		{"category", stats.ByCategory},
		{"analysis_source", stats.BySource},
		{"urgency", stats.ByUrgency},
	}
	for _, g := range groups {
		if err := r.groupCount(ctx, g.col, g.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (r *ClassificationRepo) groupCount(ctx context.Context, col string, dest map[string]int) error {
	q := fmt.Sprintf(`SELECT %s, COUNT(*) FROM email_analyses GROUP BY %s`, col, col)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return mapErr("group "+col, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return mapErr("scan group "+col, err)
		}
		dest[key] = n
	}
	return nil
}

func (r *ClassificationRepo) ReviewQueue(ctx context.Context, limit int) ([]domain.Classification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, message_id, category, sub_category, confidence,
		       analysis_source, summary, urgency, action_required, key_details,
		       raw_response, created_at
		FROM email_analyses
		WHERE analysis_source = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, domain.SourceManual, limit)
	if err != nil {
		return nil, mapErr("review queue", err)
	}
	defer rows.Close()

	var out []domain.Classification
	for rows.Next() {
		var c domain.Classification
		if err := scanClassification(rows, &c); err != nil {
			return nil, mapErr("scan classification", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *ClassificationRepo) Review(ctx context.Context, id string, u repository.ReviewUpdate) (*domain.Classification, error) {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Category != nil {
		add("category", *u.Category)
	}
	if u.SubCategory != nil {
		add("sub_category", *u.SubCategory)
	}
	if u.Summary != nil {
		add("summary", *u.Summary)
	}
	if u.Urgency != nil {
		add("urgency", *u.Urgency)
	}
	if u.ActionRequired != nil {
		add("action_required", *u.ActionRequired)
	}
	add("analysis_source", domain.SourceManual)
	add("confidence", 1.0)

	q := fmt.Sprintf(`
		UPDATE email_analyses SET %s
		WHERE id = $%d
		RETURNING id, account_id, message_id, category, sub_category, confidence,
		          analysis_source, summary, urgency, action_required, key_details,
		          raw_response, created_at
	`, joinComma(sets), idx)
	args = append(args, id)

	c := &domain.Classification{}
	if err := scanClassification(r.db.QueryRowContext(ctx, q, args...), c); err != nil {
		return nil, mapErr("review classification", err)
	}
	return c, nil
}

// nullableJSON maps an empty raw payload to SQL NULL.
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
