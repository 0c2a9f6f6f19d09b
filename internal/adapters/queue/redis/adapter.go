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
	JobQueueKey     = "job:queue"
	ResultsKey      = "job:results"
	ResultKeyPrefix = "job:result:"
	EventChannel    = "job:events"

	resultTTL = 24 * time.Hour
)

// RedisAdapter is the job queue, result store and job-event pub/sub of the worker.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(url string) (*RedisAdapter, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return &RedisAdapter{client: client}, client, nil
}

func NewRedisAdapterFromClient(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

// Queue Implementation
func (r *RedisAdapter) Enqueue(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, JobQueueKey, data).Err()
}

func (r *RedisAdapter) Dequeue(ctx context.Context) (*domain.Job, error) {
	// Short BLPop timeouts keep the loop responsive to cancellation
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		res, err := r.client.BLPop(ctx, 1*time.Second, JobQueueKey).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Timeout, retry
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		// res[0] is key, res[1] is value
		var job domain.Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return nil, fmt.Errorf("%w: queued job: %v", domain.ErrInvalidInput, err)
		}
		return &job, nil
	}
}

// Depth returns the number of jobs waiting in the queue.
func (r *RedisAdapter) Depth(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, JobQueueKey).Result()
}

// Complete pushes the result envelope onto the results list and keeps a copy
// retrievable by job id for a day.
func (r *RedisAdapter) Complete(ctx context.Context, job *domain.Job, result domain.Result) error {
	data, err := json.Marshal(domain.ResultEnvelope{ID: job.ID, Output: result})
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, ResultsKey, data)
	pipe.Set(ctx, ResultKeyPrefix+job.ID, data, resultTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Result returns the stored envelope of a finished job.
func (r *RedisAdapter) Result(ctx context.Context, jobID string) (*domain.ResultEnvelope, error) {
	data, err := r.client.Get(ctx, ResultKeyPrefix+jobID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("result %s: %w", jobID, domain.ErrNotFound)
		}
		return nil, err
	}

	var env domain.ResultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &env, nil
}

// PubSub Implementation
func (r *RedisAdapter) PublishJobEvent(ctx context.Context, event domain.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, EventChannel, data).Err()
}

func (r *RedisAdapter) SubscribeJobEvents(ctx context.Context) (<-chan domain.JobEvent, error) {
	pubsub := r.client.Subscribe(ctx, EventChannel)
	// Wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	ch := make(chan domain.JobEvent)
	go func() {
		defer pubsub.Close()
		defer close(ch)

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event domain.JobEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case ch <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
