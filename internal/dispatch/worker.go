package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/conversation"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/store"
	"github.com/capitalize-ai/outreach-engine/pkg/metrics"
)

var errTargetNotInCampaign = apperr.Validation("target does not belong to campaign")

const (
	maxUpdateRetries = 5
	updateRetryDelay = 5 * time.Millisecond
)

// Run drains due queued messages of active campaigns until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("dispatch worker started", zap.Duration("poll_interval", interval))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatch worker stopped")
			return nil
		case <-ticker.C:
			if err := d.Drain(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("dispatch drain failed", zap.Error(err))
			}
		}
	}
}

// Drain sends every due queued message of every active campaign once,
// using up to the configured number of workers.
func (d *Dispatcher) Drain(ctx context.Context) error {
	campaigns, err := d.store.ListCampaignsByStatus(ctx, model.CampaignActive)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	now := d.now()
	for _, c := range campaigns {
		msgs, err := d.store.ListMessages(ctx, store.MessageFilter{
			CampaignID: c.ID,
			Status:     model.StatusQueued,
			Direction:  model.DirectionOutbound,
		})
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if m.ScheduledAt != nil && m.ScheduledAt.After(now) {
				continue
			}
			id := m.ID
			g.Go(func() error {
				if _, err := d.Send(gctx, id); err != nil && !apperr.IsStateConflict(err) && gctx.Err() == nil {
					d.logger.Debug("queued send did not succeed",
						zap.String("message_id", id),
						zap.Error(err),
					)
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// PurgeCampaign fails every queued message of a campaign that is not being
// sent right now. In-flight sends are left to finish. It returns the number
// of purged messages.
func (d *Dispatcher) PurgeCampaign(ctx context.Context, campaignID, reason string) (int, error) {
	return d.purge(ctx, store.MessageFilter{CampaignID: campaignID}, zap.String("campaign_id", campaignID), reason)
}

// PurgeTarget fails every queued message addressed to one target, across
// its campaign's channels.
func (d *Dispatcher) PurgeTarget(ctx context.Context, targetID, reason string) (int, error) {
	return d.purge(ctx, store.MessageFilter{TargetID: targetID}, zap.String("target_id", targetID), reason)
}

func (d *Dispatcher) purge(ctx context.Context, f store.MessageFilter, scope zap.Field, reason string) (int, error) {
	f.Status = model.StatusQueued
	f.Direction = model.DirectionOutbound
	msgs, err := d.store.ListMessages(ctx, f)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, m := range msgs {
		if !d.claim(m.ID) {
			continue
		}
		err := d.purgeOne(ctx, m.ID, reason)
		d.release(m.ID)
		if err != nil {
			return purged, err
		}
		purged++
	}

	if purged > 0 {
		d.logger.Info("queued messages purged",
			scope,
			zap.Int("count", purged),
			zap.String("reason", reason),
		)
	}
	return purged, nil
}

func (d *Dispatcher) purgeOne(ctx context.Context, id, reason string) error {
	// Reload under the claim: a send may have completed since listing.
	m, err := d.store.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != model.StatusQueued {
		return nil
	}
	if err := transition(m, model.StatusFailed, d.now().UTC()); err != nil {
		return err
	}
	m.LastError = reason
	if err := d.store.UpdateMessage(ctx, m); err != nil {
		return fmt.Errorf("failed to purge message: %w", err)
	}
	metrics.RecordDispatch(string(m.Channel), "purged")
	return nil
}

// providerStatus maps provider callback statuses onto the message lifecycle.
var providerStatus = map[string]model.MessageStatus{
	"sent":        model.StatusSent,
	"delivered":   model.StatusDelivered,
	"opened":      model.StatusRead,
	"read":        model.StatusRead,
	"clicked":     model.StatusRead,
	"bounced":     model.StatusBounced,
	"bounce":      model.StatusBounced,
	"failed":      model.StatusFailed,
	"undelivered": model.StatusFailed,
}

// KnownDeliveryStatus reports whether a provider callback status is one
// the dispatcher understands.
func KnownDeliveryStatus(status string) bool {
	_, ok := providerStatus[strings.ToLower(status)]
	return ok
}

// ApplyDeliveryEvent applies a provider status callback. Events that would
// move a message backward, or that arrive after a terminal status, are
// ignored and the message is returned unchanged.
func (d *Dispatcher) ApplyDeliveryEvent(ctx context.Context, ev model.DeliveryEvent) (*model.Message, error) {
	to, ok := providerStatus[strings.ToLower(ev.Status)]
	if !ok {
		return nil, apperr.Validation("unknown delivery status %q", ev.Status)
	}
	at := ev.Timestamp
	if at.IsZero() {
		at = d.now()
	}

	var (
		m       *model.Message
		from    model.MessageStatus
		applied bool
	)
	err := d.retryConflicts(ctx, "provider:"+ev.ProviderMessageID, func() error {
		var err error
		m, err = d.store.FindMessageByProviderID(ctx, ev.Channel, ev.ProviderMessageID)
		if err != nil {
			return backoff.Permanent(err)
		}
		applied = false
		if m.Status == to || !conversation.CanTransitionMessage(m.Status, to) {
			return nil
		}
		from = m.Status
		if err := transition(m, to, at.UTC()); err != nil {
			return backoff.Permanent(err)
		}
		if ev.Error != "" {
			m.LastError = ev.Error
		}
		if err := d.store.UpdateMessage(ctx, m); err != nil {
			return retryOnConflict(err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply delivery event: %w", err)
	}
	if !applied {
		d.logger.Debug("delivery event ignored",
			zap.String("message_id", m.ID),
			zap.String("status", string(m.Status)),
			zap.String("event_status", ev.Status),
		)
		return m, nil
	}

	d.publishStatus(ctx, m, from)
	return m, nil
}

// MarkReplied moves the latest outbound message of a conversation that is
// still awaiting an answer to replied.
func (d *Dispatcher) MarkReplied(ctx context.Context, conversationID string, at time.Time) error {
	var (
		m    *model.Message
		from model.MessageStatus
	)
	err := d.retryConflicts(ctx, "conversation:"+conversationID, func() error {
		msgs, err := d.store.ListMessages(ctx, store.MessageFilter{
			ConversationID: conversationID,
			Direction:      model.DirectionOutbound,
		})
		if err != nil {
			return backoff.Permanent(err)
		}
		m = nil
		for i := len(msgs) - 1; i >= 0; i-- {
			if conversation.CanTransitionMessage(msgs[i].Status, model.StatusReplied) {
				m = msgs[i]
				break
			}
		}
		if m == nil {
			return nil
		}
		from = m.Status
		if err := transition(m, model.StatusReplied, at.UTC()); err != nil {
			return backoff.Permanent(err)
		}
		return retryOnConflict(d.store.UpdateMessage(ctx, m))
	})
	if err != nil || m == nil {
		return err
	}
	d.publishStatus(ctx, m, from)
	return nil
}

// retryConflicts runs op until it stops reporting a concurrent message
// update. op reloads what it changes on every run.
func (d *Dispatcher) retryConflicts(ctx context.Context, key string, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(updateRetryDelay), maxUpdateRetries),
		ctx,
	)
	return backoff.RetryNotify(op, policy, func(err error, _ time.Duration) {
		d.logger.Debug("message changed concurrently, retrying",
			zap.String("key", key),
			zap.Error(err),
		)
	})
}

// retryOnConflict marks every error but a version conflict as final.
func retryOnConflict(err error) error {
	if err == nil || apperr.IsStateConflict(err) {
		return err
	}
	return backoff.Permanent(err)
}
