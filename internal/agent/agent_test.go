package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"visualizer.worker/internal/core/domain"
)

// scriptedQueue hands out items in order, then cancels the consumer.
type scriptedQueue struct {
	mu        sync.Mutex
	items     []any // *domain.Job or error
	cancel    context.CancelFunc
	completed []domain.ResultEnvelope
	ctxAlive  []bool
}

func (q *scriptedQueue) Dequeue(ctx context.Context) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		q.cancel()
		return nil, ctx.Err()
	}
	item := q.items[0]
	q.items = q.items[1:]
	if err, ok := item.(error); ok {
		return nil, err
	}
	return item.(*domain.Job), nil
}

func (q *scriptedQueue) Complete(ctx context.Context, job *domain.Job, result domain.Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, domain.ResultEnvelope{ID: job.ID, Output: result})
	q.ctxAlive = append(q.ctxAlive, ctx.Err() == nil)
	return nil
}

type recordingDLQ struct {
	reasons map[string]string
}

func (d *recordingDLQ) Add(_ context.Context, job *domain.Job, reason string) error {
	d.reasons[job.ID] = reason
	return nil
}

type scriptedRunner struct {
	results map[string]domain.Result
	ran     []string
}

func (r *scriptedRunner) Run(_ context.Context, job *domain.Job) domain.Result {
	r.ran = append(r.ran, job.ID)
	return r.results[job.ID]
}

func TestAgentCompletesAndParksFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &scriptedQueue{cancel: cancel, items: []any{
		&domain.Job{ID: "ok"},
		&domain.Job{ID: "bad"},
	}}
	runner := &scriptedRunner{results: map[string]domain.Result{
		"ok":  {"images": []string{"aGk="}, "prompt_id": "abc"},
		"bad": domain.ErrorResult("No images generated"),
	}}
	dlq := &recordingDLQ{reasons: map[string]string{}}

	a := New(q, runner, WithDeadLetterQueue(dlq))
	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if len(q.completed) != 2 || q.completed[0].ID != "ok" || q.completed[1].Output.Error() != "No images generated" {
		t.Errorf("completed = %+v", q.completed)
	}
	if len(dlq.reasons) != 1 || dlq.reasons["bad"] != "No images generated" {
		t.Errorf("dlq = %v", dlq.reasons)
	}
}

func TestAgentBacksOffOnQueueErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &scriptedQueue{cancel: cancel, items: []any{
		errors.New("connection refused"),
		fmt.Errorf("%w: queued job: bad json", domain.ErrInvalidInput),
		&domain.Job{ID: "after"},
	}}
	runner := &scriptedRunner{results: map[string]domain.Result{"after": {"text": "hi"}}}

	var slept []time.Duration
	a := New(q, runner, WithBackoff(time.Second))
	a.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Errorf("slept = %v, want one backoff for the connection error only", slept)
	}
	if len(runner.ran) != 1 || runner.ran[0] != "after" {
		t.Errorf("ran = %v", runner.ran)
	}
}

// cancellingRunner simulates shutdown arriving mid-job.
type cancellingRunner struct{ cancel context.CancelFunc }

func (r *cancellingRunner) Run(context.Context, *domain.Job) domain.Result {
	r.cancel()
	return domain.ErrorResult("context canceled")
}

func TestAgentWritesResultAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &scriptedQueue{cancel: cancel, items: []any{&domain.Job{ID: "late"}}}
	a := New(q, &cancellingRunner{cancel: cancel})

	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(q.completed) != 1 || !q.ctxAlive[0] {
		t.Errorf("result must be written with a live context: %+v %v", q.completed, q.ctxAlive)
	}
}
