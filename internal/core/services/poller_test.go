package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"visualizer.worker/internal/core/domain"
)

func newTestPoller(e *fakeEngine, attempts int) *Poller {
	p := NewPoller(e, 5*time.Second, attempts)
	p.sleep = noSleep
	return p
}

func TestPollUntilDoneTimeout(t *testing.T) {
	e := newFakeEngine()
	var sleeps int
	p := newTestPoller(e, 180)
	p.sleep = func(context.Context, time.Duration) error { sleeps++; return nil }

	_, err := p.PollUntilDone(context.Background(), "abc")

	var timeout *domain.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("PollUntilDone() error = %v, want *TimeoutError", err)
	}
	if got := e.queries["abc"]; got != 180 {
		t.Errorf("queries = %d, want exactly 180", got)
	}
	if sleeps != 179 {
		t.Errorf("sleeps = %d, want 179", sleeps)
	}
	if got, want := domain.Message(err), "Generation timeout after 15 minutes"; got != want {
		t.Errorf("Message() = %q, want %q", got, want)
	}
}

func TestPollUntilDoneSuccess(t *testing.T) {
	e := newFakeEngine()
	e.records["abc"] = imageRecord("out.png")
	e.appearAfter = 3

	rec, err := newTestPoller(e, 180).PollUntilDone(context.Background(), "abc")
	if err != nil {
		t.Fatalf("PollUntilDone() error = %v", err)
	}
	if len(rec.Outputs["9"].Images) != 1 {
		t.Errorf("outputs = %+v", rec.Outputs)
	}
	// terminal record is never queried again
	if got := e.queries["abc"]; got != 4 {
		t.Errorf("queries = %d, want 4", got)
	}
}

func TestPollUntilDoneExecutionError(t *testing.T) {
	e := newFakeEngine()
	e.records["abc"] = &domain.Completion{
		Status: domain.CompletionStatus{
			StatusStr: "error",
			Messages: []json.RawMessage{
				json.RawMessage(`["execution_start",{"prompt_id":"abc"}]`),
				json.RawMessage(`["execution_error",{"node_id":"12","node_type":"UNETLoader","exception_message":"file not found"}]`),
			},
		},
	}

	_, err := newTestPoller(e, 180).PollUntilDone(context.Background(), "abc")
	var execErr *domain.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("PollUntilDone() error = %v, want *ExecutionError", err)
	}
	if len(execErr.Messages) != 1 || execErr.Messages[0] != "UNETLoader (node 12): file not found" {
		t.Errorf("Messages = %q", execErr.Messages)
	}
	if got := e.queries["abc"]; got != 1 {
		t.Errorf("queries = %d, want 1", got)
	}
}

func TestPollUntilDoneQueryErrorsConsumeAttempts(t *testing.T) {
	e := newFakeEngine()
	e.queryErr = errors.New("connection refused")

	_, err := newTestPoller(e, 7).PollUntilDone(context.Background(), "abc")
	if !errors.Is(err, domain.ErrPollTimeout) {
		t.Fatalf("PollUntilDone() error = %v, want ErrPollTimeout", err)
	}
	if got := e.queries["abc"]; got != 7 {
		t.Errorf("queries = %d, want 7", got)
	}
}

func TestPollUntilDoneCancelled(t *testing.T) {
	e := newFakeEngine()
	ctx, cancel := context.WithCancel(context.Background())
	p := newTestPoller(e, 180)
	p.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := p.PollUntilDone(ctx, "abc")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("PollUntilDone() error = %v, want context.Canceled", err)
	}
}
