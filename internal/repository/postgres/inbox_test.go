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

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func inboxColumns() []string {
	return []string{"id", "smtp_account_id", "email", "name", "stage",
		"stage_updated_at", "last_scanned_at", "scan_error", "notes",
		"status", "created_at", "updated_at"}
}

func TestUpsertByProviderIDInsert(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO accounts").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "stage", "stage_updated_at", "last_scanned_at", "scan_error",
			"notes", "status", "created_at", "updated_at", "created",
		}).AddRow("inbox-1", "REGISTERED", nil, nil, "", "", "active", now, now, true))

	repo := NewInboxRepo(db)
	inbox := &domain.Inbox{ProviderID: "prov-1", Email: "d1@dashers.example.com"}
	created, err := repo.UpsertByProviderID(context.Background(), inbox)
	if err != nil {
		t.Fatalf("UpsertByProviderID: %v", err)
	}
	if !created {
		t.Error("created = false, want true for fresh insert")
	}
	if inbox.ID != "inbox-1" {
		t.Errorf("ID = %q, want inbox-1", inbox.ID)
	}
	if inbox.Stage != domain.StageRegistered {
		t.Errorf("Stage = %q, want REGISTERED", inbox.Stage)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpsertByProviderIDExisting(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO accounts").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "stage", "stage_updated_at", "last_scanned_at", "scan_error",
			"notes", "status", "created_at", "updated_at", "created",
		}).AddRow("inbox-stored", "ACTIVE", now, now, "", "keep these notes", "active", now, now, false))

	repo := NewInboxRepo(db)
	inbox := &domain.Inbox{ProviderID: "prov-1", Email: "d1@dashers.example.com"}
	created, err := repo.UpsertByProviderID(context.Background(), inbox)
	if err != nil {
		t.Fatalf("UpsertByProviderID: %v", err)
	}
	if created {
		t.Error("created = true, want false for existing row")
	}
	if inbox.ID != "inbox-stored" {
		t.Errorf("ID = %q, want the stored id", inbox.ID)
	}
	if inbox.Stage != domain.StageActive {
		t.Errorf("Stage = %q, want the stored stage", inbox.Stage)
	}
	if inbox.Notes != "keep these notes" {
		t.Errorf("Notes = %q, want stored notes preserved", inbox.Notes)
	}
}

func TestUpdateStagePromotes(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT stage FROM accounts").
		WillReturnRows(sqlmock.NewRows([]string{"stage"}).AddRow("REGISTERED"))
	mock.ExpectExec("UPDATE accounts SET stage").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO stage_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewInboxRepo(db)
	trigger := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	err := repo.UpdateStage(context.Background(), "inbox-1", domain.StageBGCPending,
		"Checkr is processing your background check", &trigger, false)
	if err != nil {
		t.Fatalf("UpdateStage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateStageGuardRejects(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT stage FROM accounts").
		WillReturnRows(sqlmock.NewRows([]string{"stage"}).AddRow("ACTIVE"))
	mock.ExpectRollback()

	repo := NewInboxRepo(db)
	err := repo.UpdateStage(context.Background(), "inbox-1", domain.StageBGCClear,
		"Your background check is complete", nil, false)
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateStageReactivation(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT stage FROM accounts").
		WillReturnRows(sqlmock.NewRows([]string{"stage"}).AddRow("DEACTIVATED"))
	mock.ExpectExec("UPDATE accounts SET stage").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO stage_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewInboxRepo(db)
	err := repo.UpdateStage(context.Background(), "inbox-1", domain.StageActive,
		"Welcome back! Your account has been reactivated", nil, true)
	if err != nil {
		t.Fatalf("UpdateStage with reactivation: %v", err)
	}
}

func TestUpdateStageReactivationWithoutEvidence(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT stage FROM accounts").
		WillReturnRows(sqlmock.NewRows([]string{"stage"}).AddRow("DEACTIVATED"))
	mock.ExpectRollback()

	repo := NewInboxRepo(db)
	err := repo.UpdateStage(context.Background(), "inbox-1", domain.StageActive,
		"Your payment has been processed", nil, false)
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict without reactivation evidence", err)
	}
}

func TestFindByEmailNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnError(sql.ErrNoRows)

	repo := NewInboxRepo(db)
	_, err := repo.FindByEmail(context.Background(), "missing@dashers.example.com")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListScansAllColumns(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(sqlmock.NewRows(inboxColumns()).
			AddRow("inbox-1", "prov-1", "a@dashers.example.com", "Alice", "ACTIVE", now, now, "", "", "active", now, now).
			AddRow("inbox-2", "prov-2", "b@dashers.example.com", "", "REGISTERED", nil, nil, "scan timed out", "", "active", now, now))

	repo := NewInboxRepo(db)
	inboxes, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(inboxes) != 2 {
		t.Fatalf("got %d inboxes, want 2", len(inboxes))
	}
	if inboxes[0].StageUpdatedAt == nil {
		t.Error("StageUpdatedAt = nil for first row")
	}
	if inboxes[1].LastScannedAt != nil {
		t.Error("LastScannedAt != nil for never-scanned row")
	}
	if inboxes[1].ScanError != "scan timed out" {
		t.Errorf("ScanError = %q", inboxes[1].ScanError)
	}
}

func TestUpdateScanStateNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE accounts SET last_scanned_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewInboxRepo(db)
	err := repo.UpdateScanState(context.Background(), "nope", time.Now(), "")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestStageCountsIncludesEmptyStages(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT stage, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"stage", "count"}).
			AddRow("ACTIVE", 12).
			AddRow("DEACTIVATED", 3))

	repo := NewInboxRepo(db)
	counts, err := repo.StageCounts(context.Background())
	if err != nil {
		t.Fatalf("StageCounts: %v", err)
	}
	if len(counts) != len(domain.AllStages) {
		t.Errorf("got %d stages, want %d (zeroes included)", len(counts), len(domain.AllStages))
	}
	if counts[domain.StageActive] != 12 {
		t.Errorf("ACTIVE = %d, want 12", counts[domain.StageActive])
	}
	if counts[domain.StageRegistered] != 0 {
		t.Errorf("REGISTERED = %d, want 0", counts[domain.StageRegistered])
	}
}
