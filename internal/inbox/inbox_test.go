package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/service"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

type fakeProcessor struct {
	mu         sync.Mutex
	inbound    []model.InboundEvent
	deliveries []model.DeliveryEvent
}

func (p *fakeProcessor) OnInboundMessage(_ context.Context, ev model.InboundEvent) (*service.InboundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound = append(p.inbound, ev)
	return &service.InboundResult{}, nil
}

func (p *fakeProcessor) OnDeliveryEvent(_ context.Context, ev model.DeliveryEvent) (*model.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliveries = append(p.deliveries, ev)
	return nil, nil
}

func TestProcessRoutesByKind(t *testing.T) {
	ctx := context.Background()
	p := &fakeProcessor{}
	h := Process(p)

	require.NoError(t, h(ctx, InboundJob(model.InboundEvent{EventID: "e1", Channel: model.ChannelEmail})))
	require.NoError(t, h(ctx, DeliveryJob(model.DeliveryEvent{EventID: "d1", Channel: model.ChannelSMS})))
	assert.Len(t, p.inbound, 1)
	assert.Len(t, p.deliveries, 1)

	err := h(ctx, Job{Kind: KindInbound})
	assert.True(t, apperr.IsValidation(err))
}

func TestJobDedupeID(t *testing.T) {
	assert.Equal(t, "inbound:email:e1", InboundJob(model.InboundEvent{EventID: "e1", Channel: model.ChannelEmail}).DedupeID())
	assert.Equal(t, "delivery:sms:d1", DeliveryJob(model.DeliveryEvent{EventID: "d1", Channel: model.ChannelSMS}).DedupeID())
	assert.Empty(t, InboundJob(model.InboundEvent{Channel: model.ChannelEmail}).DedupeID())
	assert.Equal(t, model.ChannelSMS, DeliveryJob(model.DeliveryEvent{Channel: model.ChannelSMS}).Channel())
}

func TestRetryable(t *testing.T) {
	reply := InboundJob(model.InboundEvent{Channel: model.ChannelEmail})
	assert.False(t, reply.Retryable(nil))
	assert.False(t, reply.Retryable(apperr.Validation("bad")))
	assert.False(t, reply.Retryable(apperr.NotFound("target", "x")))
	assert.True(t, reply.Retryable(apperr.StateConflict("target", "x")))
	assert.True(t, reply.Retryable(errors.New("boom")))

	status := DeliveryJob(model.DeliveryEvent{Channel: model.ChannelEmail})
	assert.True(t, status.Retryable(apperr.NotFound("message", "provider:p1")), "callbacks may arrive before the send is recorded")
	assert.False(t, status.Retryable(apperr.Validation("bad")))
}

func TestLocalQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewLocal(8, 2, logger.Nop())
	q.backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

	var (
		mu       sync.Mutex
		attempts = make(map[string]int)
	)
	h := func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		id := job.Inbound.EventID
		attempts[id]++
		switch {
		case id == "flaky" && attempts[id] < 2:
			return errors.New("temporarily unavailable")
		case id == "bad":
			return apperr.Validation("bad payload")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, h) }()

	for _, id := range []string{"ok", "flaky", "bad"} {
		require.NoError(t, q.Enqueue(context.Background(), InboundJob(model.InboundEvent{EventID: id, Channel: model.ChannelEmail})))
	}
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts["ok"])
	assert.Equal(t, 2, attempts["flaky"], "transient failures are retried")
	assert.Equal(t, 1, attempts["bad"], "validation failures are not")

	err := q.Enqueue(context.Background(), InboundJob(model.InboundEvent{EventID: "late"}))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLocalQueueRetriesUnmatchedStatusBounded(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewLocal(8, 1, logger.Nop())
	q.backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

	var (
		mu       sync.Mutex
		attempts = make(map[string]int)
	)
	h := func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		id := job.Delivery.EventID
		attempts[id]++
		if id == "late-send" && attempts[id] < 2 {
			return apperr.NotFound("message", "provider:p1")
		}
		if id == "never" {
			return apperr.NotFound("message", "provider:p2")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, h) }()

	for _, id := range []string{"late-send", "never"} {
		require.NoError(t, q.Enqueue(context.Background(), DeliveryJob(model.DeliveryEvent{EventID: id, Channel: model.ChannelSMS})))
	}
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts["late-send"])
	assert.Equal(t, 3, attempts["never"], "unmatched callbacks stop after the attempt limit")
}
