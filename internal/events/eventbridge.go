package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
)

const eventSource = "opx.automation"

// eventBridgeAPI is the slice of the EventBridge client the bus uses.
type eventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridge publishes incident events onto a named AWS event bus.
type EventBridge struct {
	client  eventBridgeAPI
	busName string
	logger  *zap.Logger
}

func NewEventBridge(cfg aws.Config, busName string, logger *zap.Logger) *EventBridge {
	return &EventBridge{
		client:  eventbridge.NewFromConfig(cfg),
		busName: busName,
		logger:  logger.Named("eventbridge"),
	}
}

// NewEventBridgeWithClient wires an explicit client, used by tests.
func NewEventBridgeWithClient(client eventBridgeAPI, busName string, logger *zap.Logger) *EventBridge {
	return &EventBridge{client: client, busName: busName, logger: logger.Named("eventbridge")}
}

func (b *EventBridge) Publish(ctx context.Context, event core.IncidentEvent) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal incident event %s: %w", event.EventID, err)
	}
	out, err := b.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			EventBusName: aws.String(b.busName),
			Source:       aws.String(eventSource),
			DetailType:   aws.String(string(event.EventType)),
			Detail:       aws.String(string(detail)),
		}},
	})
	if err != nil {
		return fmt.Errorf("put event %s: %w", event.EventID, err)
	}
	if out.FailedEntryCount > 0 {
		return fmt.Errorf("put event %s: %d entries failed", event.EventID, out.FailedEntryCount)
	}
	return nil
}
