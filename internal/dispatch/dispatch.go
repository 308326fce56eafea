// Package dispatch moves outbound messages from creation to a terminal
// delivery status.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/channel"
	"github.com/capitalize-ai/outreach-engine/internal/config"
	"github.com/capitalize-ai/outreach-engine/internal/content"
	"github.com/capitalize-ai/outreach-engine/internal/conversation"
	"github.com/capitalize-ai/outreach-engine/internal/events"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/store"
	"github.com/capitalize-ai/outreach-engine/internal/vault"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
	"github.com/capitalize-ai/outreach-engine/pkg/metrics"
	"github.com/capitalize-ai/outreach-engine/pkg/tracing"
)

// Content sources recorded on messages.
const (
	SourceManual    = "manual"
	SourceTemplate  = "template"
	SourceGenerated = "generated"
	SourceRule      = "rule"
	SourceAgent     = "agent"
	SourceFallback  = "fallback"
)

// Request describes one outbound message to enqueue.
type Request struct {
	Campaign       *model.Campaign
	Target         *model.Target
	ConversationID string
	Channel        model.Channel
	// Content is sent as is after placeholder substitution. When empty,
	// Template is rendered, then the campaign's templates, then the
	// content generator is asked to write from the campaign objectives.
	Content     string
	Template    string
	Subject     string
	MediaURLs   []string
	ScheduledAt *time.Time
	Variables   map[string]string
	Source      string
}

// Dispatcher enqueues and sends outbound messages.
type Dispatcher struct {
	cfg        config.DispatchConfig
	store      *store.Store
	transports *channel.Registry
	vault      *vault.Vault
	content    *content.Generator
	events     events.Publisher
	logger     *logger.Logger
	now        func() time.Time

	mu       sync.Mutex
	gates    map[string]*rate.Limiter
	inflight map[string]struct{}

	capMu    sync.Mutex
	reserved map[string]int
}

// New creates a dispatcher.
func New(cfg config.DispatchConfig, st *store.Store, transports *channel.Registry, v *vault.Vault, gen *content.Generator, pub events.Publisher, log *logger.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Dispatcher{
		cfg:        cfg,
		store:      st,
		transports: transports,
		vault:      v,
		content:    gen,
		events:     pub,
		logger:     log,
		now:        time.Now,
		gates:      make(map[string]*rate.Limiter),
		inflight:   make(map[string]struct{}),
		reserved:   make(map[string]int),
	}
}

// Enqueue validates and renders a message and stores it as queued. Targets
// that opted out, lack a handle on the channel, or belong to a campaign that
// is not active or does not use the channel are rejected with a
// ValidationError before anything is stored.
func (d *Dispatcher) Enqueue(ctx context.Context, req Request) (*model.Message, error) {
	campaign, target := req.Campaign, req.Target
	if campaign.Status != model.CampaignActive {
		return nil, apperr.Validation("campaign %s is %s, not active", campaign.ID, campaign.Status)
	}
	if !campaign.HasChannel(req.Channel) {
		return nil, apperr.Validation("channel %s is not enabled for campaign %s", req.Channel, campaign.ID)
	}
	if target.DoNotContact {
		return nil, apperr.Validation("target %s is marked do-not-contact", target.ID)
	}
	if _, ok := target.Handle(req.Channel); !ok {
		return nil, apperr.Validation("target %s has no %s handle", target.ID, req.Channel)
	}

	msg, source, err := d.render(ctx, req)
	if err != nil {
		return nil, err
	}
	if msg.Body == "" {
		return nil, apperr.Validation("message content is empty")
	}

	convID := req.ConversationID
	if convID == "" {
		conv, err := d.OpenConversation(ctx, campaign, target, req.Channel)
		if err != nil {
			return nil, err
		}
		convID = conv.ID
	}

	now := d.now().UTC()
	m := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		OwnerID:        campaign.OwnerID,
		CampaignID:     campaign.ID,
		TargetID:       target.ID,
		ConversationID: convID,
		Direction:      model.DirectionOutbound,
		Channel:        req.Channel,
		Status:         model.StatusPending,
		Subject:        msg.Subject,
		Content:        msg.Body,
		MediaURLs:      req.MediaURLs,
		Source:         source,
		ScheduledAt:    req.ScheduledAt,
		CreatedAt:      now,
	}
	if err := transition(m, model.StatusQueued, now); err != nil {
		return nil, err
	}
	if err := d.store.CreateMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	d.logger.Debug("message queued",
		zap.String("message_id", m.ID),
		zap.String("campaign_id", m.CampaignID),
		zap.String("target_id", m.TargetID),
		zap.String("channel", string(m.Channel)),
	)
	return m, nil
}

func (d *Dispatcher) render(ctx context.Context, req Request) (content.Message, string, error) {
	campaign := req.Campaign
	vars := content.Variables(req.Target, req.Channel, campaign.Personalization.Variables, req.Variables)

	subject := req.Subject
	if subject == "" {
		subject = campaign.Personalization.Subject
	}

	source := req.Source
	pick := func(s string) string {
		if source == "" {
			source = s
		}
		return source
	}

	switch {
	case req.Content != "":
		return d.content.FromTemplate(req.Channel, subject, req.Content, vars), pick(SourceManual), nil
	case req.Template != "":
		return d.content.FromTemplate(req.Channel, subject, req.Template, vars), pick(SourceTemplate), nil
	case campaign.Personalization.ChannelTemplates[req.Channel] != "":
		return d.content.FromTemplate(req.Channel, subject, campaign.Personalization.ChannelTemplates[req.Channel], vars), pick(SourceTemplate), nil
	case campaign.Personalization.InitialTemplate != "":
		return d.content.FromTemplate(req.Channel, subject, campaign.Personalization.InitialTemplate, vars), pick(SourceTemplate), nil
	}

	msg, err := d.content.FromObjective(ctx, req.Channel, campaign, req.Target)
	if err != nil {
		return content.Message{}, "", err
	}
	return msg, pick(SourceGenerated), nil
}

// OpenConversation returns the target's active conversation on channel,
// creating one at the target's current stage if none is active.
func (d *Dispatcher) OpenConversation(ctx context.Context, campaign *model.Campaign, target *model.Target, c model.Channel) (*model.Conversation, error) {
	conv, err := d.store.ActiveConversation(ctx, target.ID, c)
	if err == nil {
		return conv, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	stage := target.ConversationStage
	if stage == "" {
		stage = model.StageInitialContact
	}
	now := d.now().UTC()
	conv = &model.Conversation{
		ID:         uuid.Must(uuid.NewV7()).String(),
		CampaignID: campaign.ID,
		TargetID:   target.ID,
		Channel:    c,
		Stage:      stage,
		IsActive:   true,
		AgentBound: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := d.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to open conversation: %w", err)
	}
	return conv, nil
}

// Dispatch enqueues a message and, unless it is scheduled for later, sends
// it right away.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*model.Message, error) {
	m, err := d.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	if m.ScheduledAt != nil && m.ScheduledAt.After(d.now()) {
		return m, nil
	}
	return d.Send(ctx, m.ID)
}

// Send delivers a queued message. It waits for the campaign's send gate,
// honors the daily caps, and retries transient transport failures with
// exponential backoff. A message that cannot be delivered ends up failed
// with the error recorded; the same error is returned.
func (d *Dispatcher) Send(ctx context.Context, messageID string) (*model.Message, error) {
	if !d.claim(messageID) {
		return nil, apperr.StateConflict("message", messageID)
	}
	defer d.release(messageID)

	ctx, span := tracing.Start(ctx, "dispatch.send", attribute.String("message.id", messageID))
	defer span.End()

	m, err := d.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.StatusQueued {
		return m, apperr.Validation("message %s is %s, not queued", m.ID, m.Status)
	}
	if m.ScheduledAt != nil && m.ScheduledAt.After(d.now()) {
		return m, apperr.Validation("message %s is scheduled for %s", m.ID, m.ScheduledAt.Format(time.RFC3339))
	}

	campaign, err := d.store.GetCampaign(ctx, m.CampaignID)
	if err != nil {
		return m, err
	}
	if campaign.Status != model.CampaignActive {
		return d.fail(ctx, m, apperr.Validation("campaign is %s", campaign.Status))
	}
	target, err := d.store.GetTarget(ctx, m.TargetID)
	if err != nil {
		return m, err
	}
	if target.DoNotContact {
		return d.fail(ctx, m, apperr.Validation("target opted out"))
	}
	recipient, ok := target.Handle(m.Channel)
	if !ok {
		return d.fail(ctx, m, apperr.Validation("target has no %s handle", m.Channel))
	}

	if err := d.gate(campaign).Wait(ctx); err != nil {
		return m, err
	}

	release, deferred, err := d.reserve(ctx, campaign, m)
	if err != nil {
		return m, err
	}
	if deferred {
		return m, nil
	}
	defer release()

	creds, err := d.vault.Get(ctx, campaign.OwnerID, m.Channel)
	if err != nil {
		return d.fail(ctx, m, err)
	}
	transport, err := d.transports.Get(m.Channel)
	if err != nil {
		return d.fail(ctx, m, apperr.Validation("%v", err))
	}

	receipt, attempts, err := d.deliver(ctx, transport, creds, m.Channel, channel.Outbound{
		Recipient: recipient,
		Subject:   m.Subject,
		Content:   m.Content,
		MediaURLs: m.MediaURLs,
	})
	m.Attempts += attempts
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down or the caller gave up: leave it queued.
			return m, err
		}
		tracing.RecordError(span, err)
		return d.fail(ctx, m, err)
	}

	commit := context.WithoutCancel(ctx)
	now := d.now().UTC()
	if err := transition(m, model.StatusSent, now); err != nil {
		return m, err
	}
	m.ProviderMessageID = receipt.ProviderMessageID
	m.LastError = ""
	if err := d.store.UpdateMessage(commit, m); err != nil {
		return m, fmt.Errorf("failed to record send: %w", err)
	}
	d.touchTarget(commit, target.ID, now)

	metrics.RecordDispatch(string(m.Channel), string(model.StatusSent))
	d.publishStatus(commit, m, model.StatusQueued)
	d.logger.Info("message sent",
		zap.String("message_id", m.ID),
		zap.String("campaign_id", m.CampaignID),
		zap.String("channel", string(m.Channel)),
		zap.Int("attempts", m.Attempts),
	)
	return m, nil
}

func (d *Dispatcher) deliver(ctx context.Context, t channel.Transport, creds model.Credentials, c model.Channel, out channel.Outbound) (*channel.Receipt, int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxAttempts-1)), ctx)

	var (
		receipt  *channel.Receipt
		attempts int
	)
	op := func() error {
		attempts++
		r, err := t.Send(ctx, creds, out)
		if err != nil {
			if apperr.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		receipt = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		metrics.DeliveryRetries.WithLabelValues(string(c)).Inc()
		d.logger.Debug("retrying send",
			zap.String("channel", string(c)),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, attempts, err
	}
	if receipt == nil {
		return nil, attempts, errors.New("transport returned no receipt")
	}
	return receipt, attempts, nil
}

// fail marks m terminally failed and returns cause.
func (d *Dispatcher) fail(ctx context.Context, m *model.Message, cause error) (*model.Message, error) {
	commit := context.WithoutCancel(ctx)
	from := m.Status
	if err := transition(m, model.StatusFailed, d.now().UTC()); err != nil {
		return m, cause
	}
	m.LastError = cause.Error()
	if err := d.store.UpdateMessage(commit, m); err != nil {
		d.logger.Error("failed to record send failure",
			zap.String("message_id", m.ID),
			zap.Error(err),
		)
	}

	metrics.RecordDispatch(string(m.Channel), string(model.StatusFailed))
	d.publishStatus(commit, m, from)
	d.logger.Warn("message failed",
		zap.String("message_id", m.ID),
		zap.String("campaign_id", m.CampaignID),
		zap.String("channel", string(m.Channel)),
		zap.Error(cause),
	)
	return m, cause
}

// gate returns the campaign's shared send limiter.
func (d *Dispatcher) gate(c *model.Campaign) *rate.Limiter {
	interval := d.cfg.MinSendInterval
	if c.Scheduling.MinSendInterval > 0 {
		interval = c.Scheduling.MinSendInterval
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.gates[c.ID]
	if !ok {
		l = rate.NewLimiter(limit, 1)
		d.gates[c.ID] = l
	} else if l.Limit() != limit {
		l.SetLimit(limit)
	}
	return l
}

// reserve counts the send against the owner's per-channel daily cap and
// the campaign's daily budget. A message over either cap is rescheduled
// for the next UTC day and deferred is reported.
func (d *Dispatcher) reserve(ctx context.Context, c *model.Campaign, m *model.Message) (release func(), deferred bool, err error) {
	limit, err := d.vault.DailyLimit(ctx, c.OwnerID, m.Channel)
	if err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		limit = d.cfg.DefaultDailyCap
	}

	now := d.now().UTC()
	day := now.Truncate(24 * time.Hour)
	ownerKey := fmt.Sprintf("owner:%s:%s:%s", c.OwnerID, m.Channel, day.Format("2006-01-02"))
	campaignKey := fmt.Sprintf("campaign:%s:%s", c.ID, day.Format("2006-01-02"))

	d.capMu.Lock()
	defer d.capMu.Unlock()

	if limit > 0 {
		sent, err := d.store.CountSentSince(ctx, store.MessageFilter{OwnerID: c.OwnerID, Channel: m.Channel}, day)
		if err != nil {
			return nil, false, err
		}
		if sent+d.reserved[ownerKey] >= limit {
			return nil, true, d.deferToTomorrow(ctx, m, day, "daily channel cap reached")
		}
	}
	if budget := c.Scheduling.DailyBudget; budget > 0 {
		sent, err := d.store.CountSentSince(ctx, store.MessageFilter{CampaignID: c.ID}, day)
		if err != nil {
			return nil, false, err
		}
		if sent+d.reserved[campaignKey] >= budget {
			return nil, true, d.deferToTomorrow(ctx, m, day, "campaign daily budget reached")
		}
	}

	d.reserved[ownerKey]++
	d.reserved[campaignKey]++
	return func() {
		d.capMu.Lock()
		defer d.capMu.Unlock()
		for _, k := range []string{ownerKey, campaignKey} {
			if d.reserved[k]--; d.reserved[k] <= 0 {
				delete(d.reserved, k)
			}
		}
	}, false, nil
}

func (d *Dispatcher) deferToTomorrow(ctx context.Context, m *model.Message, day time.Time, reason string) error {
	next := day.Add(24 * time.Hour)
	m.ScheduledAt = &next
	m.UpdatedAt = d.now().UTC()
	d.logger.Info("send deferred",
		zap.String("message_id", m.ID),
		zap.String("reason", reason),
		zap.Time("scheduled_at", next),
	)
	return d.store.UpdateMessage(ctx, m)
}

// touchTarget stamps LastContactedAt, retrying on concurrent updates.
func (d *Dispatcher) touchTarget(ctx context.Context, targetID string, at time.Time) {
	for attempt := 0; attempt < 3; attempt++ {
		t, err := d.store.GetTarget(ctx, targetID)
		if err != nil {
			return
		}
		t.LastContactedAt = &at
		t.UpdatedAt = at
		err = d.store.UpdateTarget(ctx, t)
		if err == nil || !apperr.IsStateConflict(err) {
			return
		}
	}
}

func (d *Dispatcher) claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[id]; busy {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, id)
}

func (d *Dispatcher) publishStatus(ctx context.Context, m *model.Message, from model.MessageStatus) {
	e := events.New(model.EventMessageStatus, m.CampaignID, m.TargetID, m.ID)
	e.OwnerID = m.OwnerID
	e.From = string(from)
	e.To = string(m.Status)
	e.Metadata = map[string]any{"channel": string(m.Channel)}
	if m.LastError != "" {
		e.Metadata["error"] = m.LastError
	}
	if err := d.events.Publish(ctx, e); err != nil {
		d.logger.Warn("failed to publish message event",
			zap.String("message_id", m.ID),
			zap.Error(err),
		)
	}
}

// transition moves m to status `to`, stamping the matching timestamp.
func transition(m *model.Message, to model.MessageStatus, now time.Time) error {
	if !conversation.CanTransitionMessage(m.Status, to) {
		return apperr.Validation("message %s cannot move from %s to %s", m.ID, m.Status, to)
	}
	m.Status = to
	m.UpdatedAt = now
	switch to {
	case model.StatusQueued:
		m.QueuedAt = &now
	case model.StatusSent:
		m.SentAt = &now
	case model.StatusDelivered:
		m.DeliveredAt = &now
	case model.StatusRead:
		m.ReadAt = &now
	case model.StatusReplied:
		m.RepliedAt = &now
	case model.StatusFailed, model.StatusBounced:
		m.FailedAt = &now
	}
	return nil
}
