package events

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
)

// PubSub publishes incident events to a Google Cloud Pub/Sub topic,
// ordered per incident so consumers replay a single incident's history
// in sequence.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

func NewPubSub(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true
	return &PubSub{client: client, topic: topic, logger: logger.Named("pubsub")}, nil
}

func (p *PubSub) Publish(ctx context.Context, event core.IncidentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal incident event %s: %w", event.EventID, err)
	}
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: event.IncidentID,
		Attributes: map[string]string{
			"eventType":  string(event.EventType),
			"incidentId": event.IncidentID,
			"source":     eventSource,
		},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish event %s: %w", event.EventID, err)
	}
	return nil
}

func (p *PubSub) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
