// Package agent consumes the Redis job queue and feeds jobs to the runner.
package agent

import (
	"context"
	"errors"
	"time"

	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/metrics"
	"visualizer.worker/internal/core/ports"
)

const (
	defaultBackoff  = 5 * time.Second
	completeTimeout = 10 * time.Second
)

// Runner executes one job to completion.
type Runner interface {
	Run(ctx context.Context, job *domain.Job) domain.Result
}

// depthReporter is implemented by queues that can report their length.
type depthReporter interface {
	Depth(ctx context.Context) (int64, error)
}

// Agent pulls jobs one at a time. Failed jobs are parked in the dead-letter
// queue and never retried here.
type Agent struct {
	queue   ports.JobQueue
	runner  Runner
	dlq     ports.DeadLetterQueue
	backoff time.Duration
	sleep   func(context.Context, time.Duration) error
}

type Option func(*Agent)

func WithDeadLetterQueue(dlq ports.DeadLetterQueue) Option {
	return func(a *Agent) { a.dlq = dlq }
}

// WithBackoff sets the pause after a queue error.
func WithBackoff(d time.Duration) Option {
	return func(a *Agent) { a.backoff = d }
}

func New(queue ports.JobQueue, runner Runner, opts ...Option) *Agent {
	a := &Agent{
		queue:   queue,
		runner:  runner,
		backoff: defaultBackoff,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run consumes until ctx is cancelled. A job in progress when ctx ends still
// gets its result written.
func (a *Agent) Run(ctx context.Context) error {
	logger.Info("Queue consumer started")

	for {
		job, err := a.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Queue consumer shutting down")
				return nil
			}
			if errors.Is(err, domain.ErrInvalidInput) {
				logger.Warn("Dropping undecodable job", "error", err)
				continue
			}
			logger.Error("Error dequeuing job, backing off", "error", err, "backoff", a.backoff)
			if err := a.sleep(ctx, a.backoff); err != nil {
				return nil
			}
			continue
		}

		a.reportDepth(ctx)
		a.executeJob(ctx, job)
	}
}

func (a *Agent) executeJob(ctx context.Context, job *domain.Job) {
	result := a.runner.Run(ctx, job)

	ctx = logger.WithJobID(ctx, job.ID)
	doneCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()

	if err := a.queue.Complete(doneCtx, job, result); err != nil {
		logger.ErrorContext(ctx, "Failed to write job result", "error", err)
	}

	if !result.Failed() || a.dlq == nil {
		return
	}
	if err := a.dlq.Add(doneCtx, job, result.Error()); err != nil {
		logger.ErrorContext(ctx, "Failed to park job in dead-letter queue", "error", err)
		return
	}
	logger.WarnContext(ctx, "Job parked in dead-letter queue", "reason", result.Error())
}

func (a *Agent) reportDepth(ctx context.Context) {
	q, ok := a.queue.(depthReporter)
	if !ok {
		return
	}
	if depth, err := q.Depth(ctx); err == nil {
		metrics.SetQueueDepth(depth)
	}
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
