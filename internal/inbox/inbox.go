// Package inbox carries acknowledged webhook events to the conversation
// service. Webhooks answer 202 once an event is queued; the work runs
// later, off the request path.
package inbox

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/service"
)

// Kind tells the two webhook payloads apart.
type Kind string

const (
	KindInbound  Kind = "inbound"
	KindDelivery Kind = "delivery"
)

// Job is one queued webhook event. Exactly one of Inbound and Delivery is
// set, matching Kind.
type Job struct {
	Kind     Kind                 `json:"kind"`
	Inbound  *model.InboundEvent  `json:"inbound,omitempty"`
	Delivery *model.DeliveryEvent `json:"delivery,omitempty"`
}

// InboundJob wraps a reply event.
func InboundJob(ev model.InboundEvent) Job {
	return Job{Kind: KindInbound, Inbound: &ev}
}

// DeliveryJob wraps a status callback.
func DeliveryJob(ev model.DeliveryEvent) Job {
	return Job{Kind: KindDelivery, Delivery: &ev}
}

// Channel returns the channel the job arrived on.
func (j Job) Channel() model.Channel {
	switch {
	case j.Inbound != nil:
		return j.Inbound.Channel
	case j.Delivery != nil:
		return j.Delivery.Channel
	}
	return ""
}

// DedupeID identifies the provider event for queue-level deduplication.
// It is empty when the provider sent no event id.
func (j Job) DedupeID() string {
	switch {
	case j.Inbound != nil && j.Inbound.EventID != "":
		return string(j.Kind) + ":" + string(j.Inbound.Channel) + ":" + j.Inbound.EventID
	case j.Delivery != nil && j.Delivery.EventID != "":
		return string(j.Kind) + ":" + string(j.Delivery.Channel) + ":" + j.Delivery.EventID
	}
	return ""
}

// Queue accepts jobs for asynchronous processing.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Handler processes one job.
type Handler func(ctx context.Context, job Job) error

// Processor is the part of the conversation service jobs are fed to.
type Processor interface {
	OnInboundMessage(ctx context.Context, ev model.InboundEvent) (*service.InboundResult, error)
	OnDeliveryEvent(ctx context.Context, ev model.DeliveryEvent) (*model.Message, error)
}

// Process returns the handler that routes jobs to p.
func Process(p Processor) Handler {
	return func(ctx context.Context, job Job) error {
		switch {
		case job.Kind == KindInbound && job.Inbound != nil:
			_, err := p.OnInboundMessage(ctx, *job.Inbound)
			return err
		case job.Kind == KindDelivery && job.Delivery != nil:
			_, err := p.OnDeliveryEvent(ctx, *job.Delivery)
			return err
		}
		return apperr.Validation("malformed %s job", job.Kind)
	}
}

// Retryable reports whether a failed job is worth another attempt. Bad
// payloads and unknown senders never get better. A status callback can
// beat the send it reports on, so an unknown provider message id is
// retried; the queue's attempt limit bounds how long it waits.
func (j Job) Retryable(err error) bool {
	switch {
	case err == nil, apperr.IsValidation(err):
		return false
	case apperr.IsNotFound(err):
		return j.Kind == KindDelivery
	}
	return true
}

func (j Job) String() string {
	return fmt.Sprintf("%s job on %s", j.Kind, j.Channel())
}
