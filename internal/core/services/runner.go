package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/metrics"
	"visualizer.worker/internal/core/ports"
	"visualizer.worker/internal/core/tracing"
)

// Runner executes jobs one at a time. The queue consumer and the HTTP surface share
// a single Runner so the backend never sees two jobs at once.
type Runner struct {
	handler ports.JobHandler
	events  []ports.EventPublisher
	runs    ports.RunRepository

	mu sync.Mutex
}

type RunnerOption func(*Runner)

// WithEvents adds a sink for job lifecycle events.
func WithEvents(p ports.EventPublisher) RunnerOption {
	return func(r *Runner) {
		if p != nil {
			r.events = append(r.events, p)
		}
	}
}

// WithRunLedger records a summary of every run.
func WithRunLedger(repo ports.RunRepository) RunnerOption {
	return func(r *Runner) { r.runs = repo }
}

func NewRunner(handler ports.JobHandler, opts ...RunnerOption) *Runner {
	r := &Runner{handler: handler}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Kind() string { return r.handler.Kind() }

// Run blocks until any job in progress has finished, then executes job. A job
// without an id gets one.
func (r *Runner) Run(ctx context.Context, job *domain.Job) domain.Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	kind := r.handler.Kind()

	ctx = logger.WithJobID(ctx, job.ID)
	ctx, span := tracing.StartSpan(ctx, "job.run",
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", kind),
	)

	started := time.Now()
	metrics.RecordJobStarted()
	metrics.SetBackendProgress(0, 1)
	r.publish(ctx, domain.JobEvent{JobID: job.ID, Status: domain.JobStatusRunning, Stage: "started", Time: started})
	logger.InfoContext(ctx, "Job started", "kind", kind)

	result := r.handler.Handle(ctx, *job)
	if result == nil {
		result = domain.ErrorResult("handler returned no result")
	}

	finished := time.Now()
	status := domain.JobStatusSuccess
	var jobErr error
	if result.Failed() {
		status = domain.JobStatusFailure
		jobErr = jobError(result.Error())
	}
	metrics.RecordJobCompleted(kind, string(status), finished.Sub(started))
	tracing.End(span, jobErr)

	r.publish(ctx, domain.JobEvent{JobID: job.ID, Status: status, Stage: "finished", Message: result.Error(), Time: finished})
	r.record(ctx, &domain.Run{
		ID:         job.ID,
		Kind:       kind,
		Status:     status,
		TrackingID: trackingID(result),
		Error:      result.Error(),
		DurationMs: finished.Sub(started).Milliseconds(),
		StartedAt:  started,
		FinishedAt: finished,
	})
	logger.InfoContext(ctx, "Job finished", "status", status, "duration", finished.Sub(started))

	return result
}

func (r *Runner) publish(ctx context.Context, event domain.JobEvent) {
	for _, p := range r.events {
		if err := p.PublishJobEvent(ctx, event); err != nil {
			logger.WarnContext(ctx, "Failed to publish job event", "stage", event.Stage, "error", err)
		}
	}
}

func (r *Runner) record(ctx context.Context, run *domain.Run) {
	if r.runs == nil {
		return
	}
	if err := r.runs.Save(ctx, run); err != nil {
		logger.WarnContext(ctx, "Failed to record run", "error", err)
	}
}

type jobError string

func (e jobError) Error() string { return string(e) }

func trackingID(result domain.Result) string {
	id, _ := result["prompt_id"].(string)
	return id
}
