package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestMemoryRepoListsNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := repo.Append(ctx, Entry{DeviceID: "PUMP-1", TaskID: string(rune('a' + i)), Status: "COMPLETED", FinishedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	repo.Append(ctx, Entry{DeviceID: "PUMP-2", Status: "FAILED", FinishedAt: base})

	items, err := repo.ListByDevice(ctx, "PUMP-1", 2)
	if err != nil {
		t.Fatalf("ListByDevice: %v", err)
	}
	if len(items) != 2 || items[0].TaskID != "c" || items[1].TaskID != "b" {
		t.Fatalf("unexpected order %+v", items)
	}
	if items[0].ID == "" {
		t.Fatalf("expected generated id")
	}

	latest, err := repo.Latest(ctx, "PUMP-2")
	if err != nil || latest.Status != "FAILED" {
		t.Fatalf("unexpected latest %+v %v", latest, err)
	}
	if _, err := repo.Latest(ctx, "PUMP-9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	health := 35.2
	started := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	entry := Entry{
		ID:             "0b8f0f5e-4a55-4a4b-9c1e-3f7b1c2d9e10",
		DeviceID:       "MOCK-001",
		TaskID:         "abc123",
		ModelID:        "level1",
		Status:         "COMPLETED",
		Classification: "CRITICAL",
		HealthScore:    &health,
		StartedAt:      started,
		FinishedAt:     started.Add(7 * time.Second),
	}

	mock.ExpectExec("INSERT INTO diagnosis_history").
		WithArgs(
			entry.ID,
			entry.DeviceID,
			entry.TaskID,
			entry.ModelID,
			entry.Status,
			entry.Classification,
			health,
			"",
			"",
			entry.StartedAt,
			entry.FinishedAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoAppendWithoutHealthScore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("INSERT INTO diagnosis_history").
		WithArgs(
			sqlmock.AnyArg(),
			"PUMP-1",
			"",
			"level1",
			StatusUploadFailed,
			"",
			nil,
			"upload_failed",
			"upload failed: status 500",
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := &PGRepo{DB: db}
	err = repo.Append(context.Background(), Entry{
		DeviceID:     "PUMP-1",
		ModelID:      "level1",
		Status:       StatusUploadFailed,
		ErrorCode:    "upload_failed",
		ErrorMessage: "upload failed: status 500",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoListByDevice(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	finished := time.Date(2026, 10, 18, 9, 0, 7, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "device_id", "task_id", "model_id", "status", "classification", "health_score",
		"error_code", "error_message", "started_at", "finished_at",
	}).
		AddRow("id-2", "MOCK-001", "abc123", "level1", "COMPLETED", "CRITICAL", 35.2, "", "", finished.Add(-7*time.Second), finished).
		AddRow("id-1", "MOCK-001", "zzz999", "level1", "FAILED", "", nil, "task_failed", "task zzz999 failed", finished.Add(-time.Hour), finished.Add(-59*time.Minute))

	mock.ExpectQuery("FROM diagnosis_history").
		WithArgs("MOCK-001", 20).
		WillReturnRows(rows)

	repo := &PGRepo{DB: db}
	items, err := repo.ListByDevice(context.Background(), "MOCK-001", 0)
	if err != nil {
		t.Fatalf("ListByDevice: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(items))
	}
	if items[0].HealthScore == nil || *items[0].HealthScore != 35.2 {
		t.Fatalf("expected health score 35.2, got %v", items[0].HealthScore)
	}
	if items[1].HealthScore != nil || items[1].ErrorCode != "task_failed" {
		t.Fatalf("unexpected failed entry %+v", items[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoLatestNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery("FROM diagnosis_history").
		WithArgs("PUMP-404").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := &PGRepo{DB: db}
	if _, err := repo.Latest(context.Background(), "PUMP-404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
