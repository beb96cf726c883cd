package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/repository"
)

func classificationColumns() []string {
	return []string{"id", "account_id", "message_id", "category", "sub_category",
		"confidence", "analysis_source", "summary", "urgency", "action_required",
		"key_details", "raw_response", "created_at"}
}

func TestGetByMessageIDsEmpty(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewClassificationRepo(db)
	got, err := repo.GetByMessageIDs(context.Background(), "inbox-1", nil)
	if err != nil {
		t.Fatalf("GetByMessageIDs: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d rows for empty id list", len(got))
	}
}

func TestGetByMessageIDsKeysByMessage(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM email_analyses").
		WillReturnRows(sqlmock.NewRows(classificationColumns()).
			AddRow("row-1", "inbox-1", "msg-1", "earnings", "weekly_pay", 0.95, "rules", "Weekly pay statement", "info", false, nil, nil, now).
			AddRow("row-2", "inbox-1", "msg-3", "bgc", "report_ready", 1.0, "ai", "Background check finished", "high", true, []byte(`{"vendor":"checkr"}`), nil, now))

	repo := NewClassificationRepo(db)
	got, err := repo.GetByMessageIDs(context.Background(), "inbox-1", []string{"msg-1", "msg-2", "msg-3"})
	if err != nil {
		t.Fatalf("GetByMessageIDs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if got["msg-1"].Category != domain.CategoryEarnings {
		t.Errorf("msg-1 category = %q", got["msg-1"].Category)
	}
	if _, ok := got["msg-2"]; ok {
		t.Error("msg-2 should be absent")
	}
	if string(got["msg-3"].KeyDetails) != `{"vendor":"checkr"}` {
		t.Errorf("msg-3 key details = %s", got["msg-3"].KeyDetails)
	}
}

func TestUpsertFillsIDAndCreatedAt(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO email_analyses").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("row-9", now))

	repo := NewClassificationRepo(db)
	c := &domain.Classification{
		InboxID:    "inbox-1",
		MessageID:  "msg-1",
		Category:   domain.CategoryAccount,
		Source:     domain.SourceRules,
		Confidence: 1.0,
	}
	if err := repo.Upsert(context.Background(), c); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if c.ID != "row-9" {
		t.Errorf("ID = %q, want row-9", c.ID)
	}
	if !c.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", c.CreatedAt, now)
	}
}

func TestStatsAggregates(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("SELECT category, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"category", "count"}).
			AddRow("bgc", 3).AddRow("earnings", 4))
	mock.ExpectQuery("SELECT analysis_source, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"analysis_source", "count"}).
			AddRow("rules", 5).AddRow("ai", 2))
	mock.ExpectQuery("SELECT urgency, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"urgency", "count"}).
			AddRow("info", 6).AddRow("critical", 1))

	repo := NewClassificationRepo(db)
	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 7 {
		t.Errorf("Total = %d, want 7", stats.Total)
	}
	if stats.ByCategory["bgc"] != 3 {
		t.Errorf("ByCategory[bgc] = %d, want 3", stats.ByCategory["bgc"])
	}
	if stats.BySource["rules"] != 5 {
		t.Errorf("BySource[rules] = %d, want 5", stats.BySource["rules"])
	}
	if stats.ByUrgency["critical"] != 1 {
		t.Errorf("ByUrgency[critical] = %d, want 1", stats.ByUrgency["critical"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestReviewOverridesVerdict(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("UPDATE email_analyses SET").
		WithArgs("warning", "manual", 1.0, "row-1").
		WillReturnRows(sqlmock.NewRows(classificationColumns()).
			AddRow("row-1", "inbox-1", "msg-1", "warning", "contract_violation", 1.0, "manual", "Contract violation notice", "critical", true, nil, nil, now))

	repo := NewClassificationRepo(db)
	cat := "warning"
	got, err := repo.Review(context.Background(), "row-1", repository.ReviewUpdate{Category: &cat})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if got.Source != domain.SourceManual {
		t.Errorf("Source = %q, want manual", got.Source)
	}
	if got.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", got.Confidence)
	}
}

func TestReviewNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE email_analyses SET").
		WillReturnError(sql.ErrNoRows)

	repo := NewClassificationRepo(db)
	_, err := repo.Review(context.Background(), "missing", repository.ReviewUpdate{})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
