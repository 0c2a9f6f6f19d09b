package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/ports"
)

const (
	defaultPrefix  = "visualizer"
	publishTimeout = 5 * time.Second
)

// Publisher fans job events and worker notices out to MQTT.
type Publisher struct {
	client mqtt.Client
	prefix string
}

// NewPublisher connects to the broker.
func NewPublisher(brokerURL, workerKind string) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("visualizer-%s-%d", workerKind, time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	logger.Info("Connected to MQTT broker", "broker", brokerURL)
	return NewPublisherWithClient(client, defaultPrefix), nil
}

func NewPublisherWithClient(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Publisher{client: client, prefix: prefix}
}

// PublishJobEvent sends event to <prefix>/job/<job_id>.
func (p *Publisher) PublishJobEvent(ctx context.Context, event domain.JobEvent) error {
	if event.JobID == "" {
		return fmt.Errorf("job event without job_id")
	}
	return p.publish(fmt.Sprintf("%s/job/%s", p.prefix, event.JobID), "job_update", event)
}

// PublishNotice sends a worker-wide notice to <prefix>/events.
func (p *Publisher) PublishNotice(eventType string, payload any) error {
	return p.publish(p.prefix+"/events", eventType, payload)
}

func (p *Publisher) publish(topic, eventType string, payload any) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}

	token := p.client.Publish(topic, 0, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}

// Consume relays events from the pub/sub port until ctx is cancelled.
func (p *Publisher) Consume(ctx context.Context, pubsub ports.EventPubSub) {
	ch, err := pubsub.SubscribeJobEvents(ctx)
	if err != nil {
		logger.Error("Failed to subscribe to job events", "error", err)
		return
	}

	logger.Info("MQTT: started job event consumer")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := p.PublishJobEvent(ctx, event); err != nil {
				logger.Warn("MQTT publish failed", "job_id", event.JobID, "error", err)
			}
		}
	}
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
