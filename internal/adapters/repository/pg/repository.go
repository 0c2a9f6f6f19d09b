package pg

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"visualizer.worker/internal/core/domain"
)

// Repository is the run ledger. It stores one summary row per executed job.
type Repository struct {
	db *gorm.DB
}

func NewRepository(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return NewRepositoryFromDB(db)
}

// NewRepositoryFromDB migrates the runs table on an existing connection.
func NewRepositoryFromDB(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&domain.Run{}); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// Save upserts run by id.
func (r *Repository) Save(ctx context.Context, run *domain.Run) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *Repository) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	var run domain.Run
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return &run, nil
}

func (r *Repository) ListRuns(ctx context.Context, offset, limit int) ([]*domain.Run, error) {
	var runs []*domain.Run
	if err := r.db.WithContext(ctx).Order("started_at desc").Offset(offset).Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *Repository) CountRuns(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Run{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DB returns the underlying gorm DB instance
func (r *Repository) DB() *gorm.DB {
	return r.db
}
