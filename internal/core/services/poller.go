package services

import (
	"context"
	"time"

	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/metrics"
	"visualizer.worker/internal/core/ports"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultPollMaxAttempts = 180
)

// queueInspector is implemented by engines that can tell whether a tracking id is
// still queued. Used for progress logging only.
type queueInspector interface {
	QueueState(ctx context.Context, trackingID string) string
}

// Poller waits for an engine history record with a fixed interval and attempt budget.
type Poller struct {
	engine      ports.Engine
	interval    time.Duration
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewPoller(engine ports.Engine, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollMaxAttempts
	}
	return &Poller{
		engine:      engine,
		interval:    interval,
		maxAttempts: maxAttempts,
		sleep:       sleepContext,
	}
}

// PollUntilDone queries the record of trackingID at most maxAttempts times and stops
// at the first record found. An absent record or a failed query costs one attempt.
func (p *Poller) PollUntilDone(ctx context.Context, trackingID string) (*domain.Completion, error) {
	inspector, _ := p.engine.(queueInspector)

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		rec, err := p.engine.Completion(ctx, trackingID)
		switch {
		case err != nil:
			logger.WarnContext(ctx, "History query failed", "prompt_id", trackingID, "attempt", attempt, "error", err)
		case rec != nil:
			metrics.RecordPollAttempts(attempt)
			elapsed := time.Duration(attempt-1) * p.interval
			if rec.Failed() {
				logger.WarnContext(ctx, "Prompt failed", "prompt_id", trackingID, "after", elapsed)
				return nil, &domain.ExecutionError{TrackingID: trackingID, Messages: rec.ErrorMessages()}
			}
			logger.InfoContext(ctx, "Prompt completed", "prompt_id", trackingID, "after", elapsed)
			return rec, nil
		case inspector != nil:
			if state := inspector.QueueState(ctx, trackingID); state != "" {
				logger.DebugContext(ctx, "Prompt "+state, "prompt_id", trackingID, "elapsed", time.Duration(attempt)*p.interval)
			}
		}

		if attempt == p.maxAttempts {
			break
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			return nil, err
		}
	}

	metrics.RecordPollAttempts(p.maxAttempts)
	return nil, &domain.TimeoutError{Attempts: p.maxAttempts, Interval: p.interval}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
