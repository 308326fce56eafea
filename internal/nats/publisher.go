package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/pkg/metrics"
)

// EventPublisher publishes lifecycle events to JetStream. The event id is
// the message id, so a retried publish is stored once.
type EventPublisher struct {
	client *Client
}

// NewEventPublisher creates a publisher on client.
func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{client: client}
}

// Publish implements events.Publisher.
func (p *EventPublisher) Publish(ctx context.Context, e *model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.client.js.Publish(ctx, EventSubject(e), data, jetstream.WithMsgID(e.ID)); err != nil {
		metrics.NATSPublished.WithLabelValues("event", "error").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.NATSPublished.WithLabelValues("event", "ok").Inc()
	return nil
}
