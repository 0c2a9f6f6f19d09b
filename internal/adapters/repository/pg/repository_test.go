package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"visualizer.worker/internal/core/domain"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	// a single connection keeps the in-memory database alive across queries
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo, err := NewRepositoryFromDB(db)
	if err != nil {
		t.Fatalf("NewRepositoryFromDB() error = %v", err)
	}
	return repo
}

func TestRunLedger(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		run := &domain.Run{
			ID:        id,
			Kind:      "image",
			Status:    domain.JobStatusRunning,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Save(ctx, run); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}

	// Save upserts by id
	done := &domain.Run{
		ID:         "r2",
		Kind:       "image",
		Status:     domain.JobStatusFailure,
		Error:      "No images generated",
		DurationMs: 1500,
		StartedAt:  base.Add(time.Minute),
		FinishedAt: base.Add(time.Minute + 1500*time.Millisecond),
	}
	if err := repo.Save(ctx, done); err != nil {
		t.Fatalf("Save() update error = %v", err)
	}

	got, err := repo.GetRun(ctx, "r2")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != domain.JobStatusFailure || got.Error != "No images generated" || got.DurationMs != 1500 {
		t.Errorf("GetRun() = %+v", got)
	}
	if _, err := repo.GetRun(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v", err)
	}

	if n, err := repo.CountRuns(ctx); err != nil || n != 3 {
		t.Errorf("CountRuns() = %d, %v", n, err)
	}

	page, err := repo.ListRuns(ctx, 0, 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(page) != 2 || page[0].ID != "r3" || page[1].ID != "r2" {
		ids := make([]string, len(page))
		for i, r := range page {
			ids[i] = r.ID
		}
		t.Errorf("ListRuns() = %v, want newest first [r3 r2]", ids)
	}
}
