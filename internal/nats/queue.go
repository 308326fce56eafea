package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/inbox"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
	"github.com/capitalize-ai/outreach-engine/pkg/metrics"
)

const (
	// InboxConsumer is the durable consumer shared by every engine
	// instance, so each webhook event is processed by one of them.
	InboxConsumer = "outreach-inbox"

	maxDeliver    = 5
	ackWait       = 2 * time.Minute
	maxRedelivery = time.Minute
)

// InboxQueue queues webhook events on JetStream. Provider event ids become
// Nats-Msg-Id headers, so a webhook delivered twice inside the dedupe
// window is stored once.
type InboxQueue struct {
	client *Client
	logger *logger.Logger
}

// NewInboxQueue creates a queue on client.
func NewInboxQueue(client *Client, log *logger.Logger) *InboxQueue {
	return &InboxQueue{client: client, logger: log}
}

// Enqueue implements inbox.Queue.
func (q *InboxQueue) Enqueue(ctx context.Context, job inbox.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	var opts []jetstream.PublishOpt
	if id := job.DedupeID(); id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}
	ack, err := q.client.js.Publish(ctx, InboxSubject(job.Kind, job.Channel()), data, opts...)
	if err != nil {
		metrics.NATSPublished.WithLabelValues(string(job.Kind), "error").Inc()
		return fmt.Errorf("failed to queue %s: %w", job, err)
	}
	if ack.Duplicate {
		metrics.NATSPublished.WithLabelValues(string(job.Kind), "duplicate").Inc()
		q.logger.Debug("duplicate webhook event dropped by stream", zap.String("dedupe_id", job.DedupeID()))
		return nil
	}
	metrics.NATSPublished.WithLabelValues(string(job.Kind), "ok").Inc()
	return nil
}

// Run consumes queued jobs with h until ctx is cancelled.
func (q *InboxQueue) Run(ctx context.Context, h inbox.Handler) error {
	consumer, err := q.client.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       InboxConsumer,
		FilterSubject: InboxFilter(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(ctx, h, msg)
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		q.logger.Warn("inbox consumer error", zap.Error(err))
	}))
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	q.logger.Info("inbox consumer started", zap.String("consumer", InboxConsumer))
	<-ctx.Done()
	cc.Stop()
	return nil
}

func (q *InboxQueue) handle(ctx context.Context, h inbox.Handler, msg jetstream.Msg) {
	var job inbox.Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		q.logger.Error("undecodable inbox message", zap.String("subject", msg.Subject()), zap.Error(err))
		_ = msg.Term()
		return
	}

	delivered := uint64(1)
	if meta, err := msg.Metadata(); err == nil {
		delivered = meta.NumDelivered
	}

	err := h(context.WithoutCancel(ctx), job)
	switch settle(job, err, delivered) {
	case settleAck:
		_ = msg.Ack()
	case settleRetry:
		wait := redeliveryDelay(delivered)
		q.logger.Warn("inbox job failed, redelivering",
			zap.String("job", job.String()),
			zap.Uint64("delivered", delivered),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		_ = msg.NakWithDelay(wait)
	case settleDrop:
		q.logger.Error("inbox job dropped",
			zap.String("job", job.String()),
			zap.String("dedupe_id", job.DedupeID()),
			zap.Uint64("delivered", delivered),
			zap.Error(err),
		)
		_ = msg.Term()
	}
}

type settlement int

const (
	settleAck settlement = iota
	settleRetry
	settleDrop
)

// settle decides what happens to a message after its handler ran.
func settle(job inbox.Job, err error, delivered uint64) settlement {
	switch {
	case err == nil:
		return settleAck
	case !job.Retryable(err), delivered >= maxDeliver:
		return settleDrop
	default:
		return settleRetry
	}
}

// redeliveryDelay doubles from one second per delivery, capped.
func redeliveryDelay(delivered uint64) time.Duration {
	if delivered < 1 {
		delivered = 1
	}
	if delivered > 7 {
		return maxRedelivery
	}
	d := time.Second << (delivered - 1)
	if d > maxRedelivery {
		return maxRedelivery
	}
	return d
}
