package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"visualizer.worker/internal/core/domain"
)

func TestListRunsPagination(t *testing.T) {
	repo := &memoryRuns{}
	for i := 0; i < 5; i++ {
		repo.Save(context.Background(), &domain.Run{ID: fmt.Sprintf("run-%d", i)})
	}
	svc := NewRunService(repo)

	tests := []struct {
		offset, limit int
		wantLen       int
		wantOffset    int
		wantLimit     int
		hasMore       bool
	}{
		{0, 2, 2, 0, 2, true},
		{4, 2, 1, 4, 2, false},
		{-3, 0, 5, 0, 100, false},
		{0, 500, 5, 0, 100, false},
	}
	for _, tt := range tests {
		page, err := svc.ListRuns(context.Background(), tt.offset, tt.limit)
		if err != nil {
			t.Fatalf("ListRuns(%d, %d) error = %v", tt.offset, tt.limit, err)
		}
		if len(page.Runs) != tt.wantLen || page.Offset != tt.wantOffset || page.Limit != tt.wantLimit || page.HasMore != tt.hasMore || page.Total != 5 {
			t.Errorf("ListRuns(%d, %d) = %+v", tt.offset, tt.limit, page)
		}
	}
}

func TestGetRun(t *testing.T) {
	repo := &memoryRuns{}
	repo.Save(context.Background(), &domain.Run{ID: "run-1", Status: domain.JobStatusSuccess})
	svc := NewRunService(repo)

	run, err := svc.GetRun(context.Background(), "run-1")
	if err != nil || run.Status != domain.JobStatusSuccess {
		t.Errorf("GetRun = %+v, %v", run, err)
	}
	if _, err := svc.GetRun(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing run error = %v", err)
	}
}
