package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"visualizer.worker/internal/core/domain"
)

const (
	dlqKey        = "visualizer:dlq"
	dlqMetaPrefix = "visualizer:dlq:meta:"
)

// DeadLetterQueue keeps failed jobs for the platform to inspect or resubmit.
// The worker itself never retries them.
type DeadLetterQueue struct {
	client *redis.Client
}

func NewDeadLetterQueue(client *redis.Client) *DeadLetterQueue {
	return &DeadLetterQueue{client: client}
}

// Add adds a failed job to the DLQ
func (dlq *DeadLetterQueue) Add(ctx context.Context, job *domain.Job, reason string) error {
	entry := domain.DeadLetter{
		Job:         job,
		FailureTime: time.Now(),
		Reason:      reason,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}

	// Add to sorted set with timestamp as score
	score := float64(entry.FailureTime.Unix())
	if err := dlq.client.ZAdd(ctx, dlqKey, redis.Z{
		Score:  score,
		Member: job.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to DLQ: %w", err)
	}

	// Store metadata
	metaKey := dlqMetaPrefix + job.ID
	if err := dlq.client.Set(ctx, metaKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store DLQ metadata: %w", err)
	}

	return nil
}

// Get retrieves a job from the DLQ
func (dlq *DeadLetterQueue) Get(ctx context.Context, jobID string) (*domain.DeadLetter, error) {
	metaKey := dlqMetaPrefix + jobID
	data, err := dlq.client.Get(ctx, metaKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("job %s in DLQ: %w", jobID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get DLQ entry: %w", err)
	}

	var entry domain.DeadLetter
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DLQ entry: %w", err)
	}

	return &entry, nil
}

// List returns DLQ entries, newest first
func (dlq *DeadLetterQueue) List(ctx context.Context, offset, limit int64) ([]*domain.DeadLetter, error) {
	jobIDs, err := dlq.client.ZRevRange(ctx, dlqKey, offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list DLQ: %w", err)
	}

	entries := make([]*domain.DeadLetter, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		entry, err := dlq.Get(ctx, jobID)
		if err != nil {
			// Skip if metadata not found
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Remove removes a job from the DLQ
func (dlq *DeadLetterQueue) Remove(ctx context.Context, jobID string) error {
	if err := dlq.client.ZRem(ctx, dlqKey, jobID).Err(); err != nil {
		return fmt.Errorf("failed to remove from DLQ: %w", err)
	}

	metaKey := dlqMetaPrefix + jobID
	if err := dlq.client.Del(ctx, metaKey).Err(); err != nil {
		return fmt.Errorf("failed to remove DLQ metadata: %w", err)
	}

	return nil
}

// Count returns the total number of jobs in the DLQ
func (dlq *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	count, err := dlq.client.ZCard(ctx, dlqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count DLQ: %w", err)
	}
	return count, nil
}

// Retry hands a job to enqueue and removes it from the DLQ once that succeeded.
// A failed enqueue leaves the entry in place.
func (dlq *DeadLetterQueue) Retry(ctx context.Context, jobID string, enqueue func(context.Context, *domain.Job) error) (*domain.Job, error) {
	entry, err := dlq.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := enqueue(ctx, entry.Job); err != nil {
		return nil, fmt.Errorf("failed to requeue job %s: %w", jobID, err)
	}

	if err := dlq.Remove(ctx, jobID); err != nil {
		return entry.Job, fmt.Errorf("job %s requeued but still in DLQ: %w", jobID, err)
	}

	return entry.Job, nil
}
