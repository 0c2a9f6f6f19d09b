package services

import (
	"context"

	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/ports"
)

// RunService reads the run ledger.
type RunService struct {
	runs ports.RunRepository
}

func NewRunService(runs ports.RunRepository) *RunService {
	return &RunService{runs: runs}
}

// PaginatedRuns represents a paginated list of runs with metadata
type PaginatedRuns struct {
	Runs    []*domain.Run `json:"runs"`
	Total   int64         `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
	HasMore bool          `json:"has_more"`
}

func (s *RunService) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return s.runs.GetRun(ctx, id)
}

func (s *RunService) ListRuns(ctx context.Context, offset, limit int) (*PaginatedRuns, error) {
	// Validate and normalize pagination params
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	runs, err := s.runs.ListRuns(ctx, offset, limit)
	if err != nil {
		return nil, err
	}

	total, err := s.runs.CountRuns(ctx)
	if err != nil {
		return nil, err
	}

	return &PaginatedRuns{
		Runs:    runs,
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: offset+len(runs) < int(total),
	}, nil
}
