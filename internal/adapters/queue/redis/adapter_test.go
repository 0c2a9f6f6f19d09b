package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"visualizer.worker/internal/core/domain"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestQueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	q := NewRedisAdapterFromClient(client)

	job := &domain.Job{ID: "j1", Input: domain.JobInput{Prompt: "a red fox"}}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if n, _ := q.Depth(ctx); n != 1 {
		t.Errorf("Depth() = %d, want 1", n)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if got.ID != "j1" || got.Input.Prompt != "a red fox" {
		t.Errorf("Dequeue() = %+v", got)
	}
	if n, _ := q.Depth(ctx); n != 0 {
		t.Errorf("Depth() = %d after dequeue", n)
	}
}

func TestDequeueRejectsUndecodableEnvelope(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)
	q := NewRedisAdapterFromClient(client)

	mr.Push(JobQueueKey, "{not json")
	if _, err := q.Dequeue(ctx); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("Dequeue() error = %v, want ErrInvalidInput", err)
	}

	// the broken envelope is consumed, the next one decodes
	q.Enqueue(ctx, &domain.Job{ID: "j2"})
	got, err := q.Dequeue(ctx)
	if err != nil || got.ID != "j2" {
		t.Fatalf("Dequeue() = %+v, %v", got, err)
	}
}

func TestDequeueStopsOnCancel(t *testing.T) {
	_, client := newTestClient(t)
	q := NewRedisAdapterFromClient(client)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dequeue() error = %v, want deadline exceeded", err)
	}
}

func TestCompleteStoresResult(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)
	q := NewRedisAdapterFromClient(client)

	if _, err := q.Result(ctx, "j1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Result() before completion error = %v", err)
	}

	result := domain.Result{"images": []string{"aGk="}, "prompt_id": "abc"}
	if err := q.Complete(ctx, &domain.Job{ID: "j1"}, result); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	items, err := mr.List(ResultsKey)
	if err != nil || len(items) != 1 {
		t.Fatalf("results list = %v, %v", items, err)
	}
	var env domain.ResultEnvelope
	if err := json.Unmarshal([]byte(items[0]), &env); err != nil {
		t.Fatal(err)
	}
	if env.ID != "j1" || env.Output["prompt_id"] != "abc" {
		t.Errorf("envelope = %+v", env)
	}

	if ttl := mr.TTL(ResultKeyPrefix + "j1"); ttl != resultTTL {
		t.Errorf("TTL = %v, want %v", ttl, resultTTL)
	}
	got, err := q.Result(ctx, "j1")
	if err != nil || got.Output["prompt_id"] != "abc" {
		t.Fatalf("Result() = %+v, %v", got, err)
	}

	mr.FastForward(resultTTL + time.Second)
	if _, err := q.Result(ctx, "j1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Result() after expiry error = %v", err)
	}
}

func TestJobEventsPubSub(t *testing.T) {
	_, client := newTestClient(t)
	q := NewRedisAdapterFromClient(client)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := q.SubscribeJobEvents(ctx)
	if err != nil {
		t.Fatalf("SubscribeJobEvents() error = %v", err)
	}

	if err := q.PublishJobEvent(ctx, domain.JobEvent{JobID: "j1", Status: domain.JobStatusRunning}); err != nil {
		t.Fatalf("PublishJobEvent() error = %v", err)
	}
	select {
	case ev := <-events:
		if ev.JobID != "j1" || ev.Status != domain.JobStatusRunning {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Error("channel still open after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
