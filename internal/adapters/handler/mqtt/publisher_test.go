package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"visualizer.worker/internal/core/domain"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	payload []byte
}

// recordingClient implements only Publish; other mqtt.Client methods panic.
type recordingClient struct {
	mqtt.Client
	mu   sync.Mutex
	msgs []published
}

func (c *recordingClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, payload: payload.([]byte)})
	return doneToken{}
}

func (c *recordingClient) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.msgs...)
}

func TestPublishJobEvent(t *testing.T) {
	client := &recordingClient{}
	p := NewPublisherWithClient(client, "")

	err := p.PublishJobEvent(context.Background(), domain.JobEvent{JobID: "j1", Status: domain.JobStatusRunning})
	if err != nil {
		t.Fatal(err)
	}

	msgs := client.messages()
	if len(msgs) != 1 || msgs[0].topic != "visualizer/job/j1" {
		t.Fatalf("messages = %+v", msgs)
	}
	var body struct {
		Type    string          `json:"type"`
		Payload domain.JobEvent `json:"payload"`
	}
	if err := json.Unmarshal(msgs[0].payload, &body); err != nil {
		t.Fatal(err)
	}
	if body.Type != "job_update" || body.Payload.Status != domain.JobStatusRunning {
		t.Errorf("body = %+v", body)
	}
}

func TestPublishJobEventRequiresID(t *testing.T) {
	client := &recordingClient{}
	p := NewPublisherWithClient(client, "")

	if err := p.PublishJobEvent(context.Background(), domain.JobEvent{}); err == nil {
		t.Error("expected error")
	}
	if len(client.messages()) != 0 {
		t.Error("nothing should be published")
	}
}

func TestPublishNotice(t *testing.T) {
	client := &recordingClient{}
	p := NewPublisherWithClient(client, "worker-7")

	if err := p.PublishNotice("backend_offline", map[string]string{"message": "down"}); err != nil {
		t.Fatal(err)
	}
	msgs := client.messages()
	if len(msgs) != 1 || msgs[0].topic != "worker-7/events" {
		t.Errorf("messages = %+v", msgs)
	}
}

type chanPubSub struct{ ch chan domain.JobEvent }

func (c *chanPubSub) PublishJobEvent(context.Context, domain.JobEvent) error { return nil }
func (c *chanPubSub) SubscribeJobEvents(context.Context) (<-chan domain.JobEvent, error) {
	return c.ch, nil
}

func TestConsumeRelaysUntilClosed(t *testing.T) {
	client := &recordingClient{}
	p := NewPublisherWithClient(client, "")

	ps := &chanPubSub{ch: make(chan domain.JobEvent, 2)}
	ps.ch <- domain.JobEvent{JobID: "a"}
	ps.ch <- domain.JobEvent{JobID: "b"}
	close(ps.ch)

	p.Consume(context.Background(), ps)

	msgs := client.messages()
	if len(msgs) != 2 || msgs[1].topic != "visualizer/job/b" {
		t.Errorf("messages = %+v", msgs)
	}
}
