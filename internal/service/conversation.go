package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/analyzer"
	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/conversation"
	"github.com/capitalize-ai/outreach-engine/internal/dispatch"
	"github.com/capitalize-ai/outreach-engine/internal/events"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/negotiation"
	"github.com/capitalize-ai/outreach-engine/internal/responder"
	"github.com/capitalize-ai/outreach-engine/internal/rules"
	"github.com/capitalize-ai/outreach-engine/internal/scoring"
	"github.com/capitalize-ai/outreach-engine/internal/store"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
	"github.com/capitalize-ai/outreach-engine/pkg/metrics"
	"github.com/capitalize-ai/outreach-engine/pkg/tracing"
)

const (
	maxCommitRetries = 3
	commitRetryDelay = 10 * time.Millisecond
)

// ConversationService drives conversations from inbound events: replies,
// delivery callbacks and negotiation turns. Work on one target is
// serialized; different targets never wait on each other.
type ConversationService struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	analyzer   *analyzer.Analyzer
	responder  *responder.Responder
	negotiator *negotiation.Engine
	publisher  events.Publisher
	logger     *logger.Logger
	now        func() time.Time

	locks *keyedMutex

	// Replies outlive the request that triggered them.
	replyCtx    context.Context
	cancelReply context.CancelFunc
	replies     sync.WaitGroup
}

// ConversationDeps are the collaborators of a ConversationService.
type ConversationDeps struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher
	Analyzer   *analyzer.Analyzer
	// Responder composes automated replies. May be nil, which disables them.
	Responder  *responder.Responder
	Negotiator *negotiation.Engine
	Publisher  events.Publisher
	Logger     *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(deps ConversationDeps) *ConversationService {
	pub := deps.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	an := deps.Analyzer
	if an == nil {
		an = analyzer.New(nil, deps.Logger)
	}
	neg := deps.Negotiator
	if neg == nil {
		neg = negotiation.New(deps.Store, nil, nil, deps.Logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConversationService{
		store:       deps.Store,
		dispatcher:  deps.Dispatcher,
		analyzer:    an,
		responder:   deps.Responder,
		negotiator:  neg,
		publisher:   pub,
		logger:      deps.Logger,
		now:         time.Now,
		locks:       newKeyedMutex(),
		replyCtx:    ctx,
		cancelReply: cancel,
	}
}

// Close cancels pending reply deliveries and waits for them to return.
func (s *ConversationService) Close() {
	s.cancelReply()
	s.replies.Wait()
}

// WaitReplies blocks until every reply started so far has been delivered
// or given up.
func (s *ConversationService) WaitReplies() {
	s.replies.Wait()
}

// InboundResult describes what processing an inbound reply did.
type InboundResult struct {
	// Duplicate is set when the provider event was already processed.
	Duplicate bool `json:"duplicate"`
	// Stale is set when the reply is older than the conversation's latest
	// one. It is recorded and scored but neither moves the stage nor fires
	// rules. A stale opt-out still applies.
	Stale        bool                    `json:"stale"`
	Message      *model.Message          `json:"message,omitempty"`
	Target       *model.Target           `json:"target,omitempty"`
	Conversation *model.Conversation     `json:"conversation,omitempty"`
	Rule         *model.AutoResponseRule `json:"rule,omitempty"`
	Negotiation  *model.Negotiation      `json:"negotiation,omitempty"`
	Reply        *responder.Reply        `json:"-"`
}

// OnInboundMessage processes a reply received on a channel. It is
// idempotent per provider event id.
func (s *ConversationService) OnInboundMessage(ctx context.Context, ev model.InboundEvent) (*InboundResult, error) {
	ctx, span := tracing.Start(ctx, "conversation.inbound", attribute.String("channel", string(ev.Channel)))
	defer span.End()

	if !ev.Channel.Valid() {
		return nil, apperr.Validation("unknown channel %q", ev.Channel)
	}
	handle := strings.TrimSpace(ev.SenderHandle)
	if handle == "" {
		return nil, apperr.Validation("sender handle is required")
	}
	if strings.TrimSpace(ev.Content) == "" {
		return nil, apperr.Validation("reply content is empty")
	}

	target, err := s.resolveTarget(ctx, ev.Channel, handle)
	if err != nil {
		return nil, err
	}
	campaign, err := s.store.GetCampaign(ctx, target.CampaignID)
	if err != nil {
		return nil, err
	}
	ruleSet, err := s.store.ListRules(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}

	// Classification may call out to a model, so it runs before the lock.
	analysis := s.analyzer.Analyze(ctx, ev.Content)
	at := ev.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	unlock := s.locks.Lock(target.ID)
	res, tr, err := s.commitInbound(ctx, campaign, target.ID, ev, analysis, ruleSet, at)
	unlock()
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if res.Duplicate {
		s.logger.Debug("duplicate inbound event ignored",
			zap.String("event_id", ev.EventID),
			zap.String("channel", string(ev.Channel)),
		)
		return res, nil
	}

	log := s.logger.WithTarget(campaign.ID, target.ID)
	metrics.InboundProcessed.WithLabelValues(string(ev.Channel), string(analysis.ResponseType)).Inc()
	s.publishTrail(ctx, campaign, res, tr)
	if res.Stale {
		log.Info("stale inbound reply recorded",
			zap.String("message_id", res.Message.ID),
			zap.Time("received_at", at),
			zap.Bool("do_not_contact", res.Target.DoNotContact),
		)
		return res, nil
	}

	log.Info("inbound reply processed",
		zap.String("message_id", res.Message.ID),
		zap.String("response_type", string(analysis.ResponseType)),
		zap.String("stage", string(res.Conversation.Stage)),
		zap.Float64("lead_score", res.Target.LeadScore),
	)

	if res.Target.DoNotContact {
		return res, nil
	}

	if n, err := s.store.NegotiationByConversation(ctx, res.Conversation.ID); err == nil && n.State != model.NegotiationClosed {
		updated, err := s.applyNegotiation(ctx, campaign, n, ev.Content, nil)
		if err != nil {
			log.Warn("negotiation update failed", zap.String("negotiation_id", n.ID), zap.Error(err))
		} else {
			res.Negotiation = updated
		}
	}

	s.reply(ctx, campaign, res, analysis, ev.Content)
	return res, nil
}

// trail records what a commit changed, for events and metrics.
type trail struct {
	fromStage model.Stage
	effects   rules.Effects
}

func (s *ConversationService) commitInbound(
	ctx context.Context,
	campaign *model.Campaign,
	targetID string,
	ev model.InboundEvent,
	analysis *model.Analysis,
	ruleSet []*model.AutoResponseRule,
	at time.Time,
) (*InboundResult, *trail, error) {
	target, err := s.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, nil, err
	}
	conv, err := s.dispatcher.OpenConversation(ctx, campaign, target, ev.Channel)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	msg := &model.Message{
		ID:              inboundMessageID(ev),
		OwnerID:         campaign.OwnerID,
		CampaignID:      campaign.ID,
		TargetID:        target.ID,
		ConversationID:  conv.ID,
		Direction:       model.DirectionInbound,
		Channel:         ev.Channel,
		Status:          model.StatusDelivered,
		Content:         ev.Content,
		ReceivedAt:      &at,
		DeliveredAt:     &at,
		ProviderEventID: ev.EventID,
		Analysis:        analysis,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		if apperr.IsAlreadyExists(err) {
			return &InboundResult{Duplicate: true}, nil, nil
		}
		return nil, nil, err
	}

	res := &InboundResult{Message: msg}
	tr := &trail{}

	op := func() error {
		t, err := s.store.GetTarget(ctx, targetID)
		if err != nil {
			return backoff.Permanent(err)
		}
		c, err := s.store.GetConversation(ctx, conv.ID)
		if err != nil {
			return backoff.Permanent(err)
		}
		history, err := s.store.ListMessages(ctx, store.MessageFilter{TargetID: targetID})
		if err != nil {
			return backoff.Permanent(err)
		}

		tr.fromStage = c.Stage
		tr.effects = rules.Effects{}
		res.Rule = nil
		res.Stale = c.LastInboundAt != nil && at.Before(*c.LastInboundAt)

		c.MessageCount++
		c.UpdatedAt = now
		if !res.Stale {
			next := conversation.NextStage(c.Stage, analysis)
			c.Stage = next
			c.LastInboundAt = &at
			t.ConversationStage = next
		}

		// An opt-out binds whenever it arrives.
		if analysis.ResponseType == model.ResponseUnsubscribe {
			c.Stage = model.StageFollowUp
			t.ConversationStage = model.StageFollowUp
			t.DoNotContact = true
			c.IsActive = false
			c.ClosedAt = &now
		}

		if !res.Stale {
			if campaign.Agent != nil && rules.Escalates(campaign.Agent.EscalationTriggers, ev.Content) {
				fx := rules.Execute([]model.RuleAction{{Type: model.ActionEscalate}}, t, c, now)
				tr.effects.Escalated = fx.Escalated
			}
			if r := rules.Match(ruleSet, analysis, ev.Content); r != nil {
				fx := rules.Execute(r.Actions, t, c, now)
				fx.Escalated = fx.Escalated || tr.effects.Escalated
				tr.effects = fx
				res.Rule = r
			}
		}

		t.LeadScore = scoring.Compute(scoring.FromHistory(t, history), now)
		t.UpdatedAt = now

		if err := s.store.UpdateTarget(ctx, t); err != nil {
			if apperr.IsStateConflict(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := s.store.UpdateConversation(ctx, c); err != nil {
			return backoff.Permanent(err)
		}
		res.Target = t
		res.Conversation = c
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(commitRetryDelay), maxCommitRetries),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, func(err error, _ time.Duration) {
		s.logger.Debug("target changed concurrently, retrying commit",
			zap.String("target_id", targetID),
			zap.Error(err),
		)
	}); err != nil {
		return nil, nil, err
	}

	if res.Target.DoNotContact {
		if _, err := s.dispatcher.PurgeTarget(ctx, targetID, "target unsubscribed"); err != nil {
			s.logger.Warn("failed to purge queued messages of opted-out target",
				zap.String("target_id", targetID),
				zap.Error(err),
			)
		}
	}
	if res.Stale {
		return res, tr, nil
	}
	if err := s.dispatcher.MarkReplied(ctx, conv.ID, at); err != nil {
		s.logger.Warn("failed to mark outbound message replied",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
	return res, tr, nil
}

// inboundMessageID derives a stable id from the provider event id so a
// redelivered event collides with the stored message.
func inboundMessageID(ev model.InboundEvent) string {
	if ev.EventID == "" {
		return uuid.Must(uuid.NewV7()).String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("inbound:"+string(ev.Channel)+":"+ev.EventID)).String()
}

// resolveTarget finds the target behind a sender handle. When the handle
// appears in several campaigns, the most recently contacted target wins.
func (s *ConversationService) resolveTarget(ctx context.Context, c model.Channel, handle string) (*model.Target, error) {
	targets, err := s.store.FindTargetsByHandle(ctx, c, handle)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, apperr.NotFound("target", string(c)+":"+handle)
	}
	best := targets[0]
	for _, t := range targets[1:] {
		if contactedAfter(t, best) {
			best = t
		}
	}
	return best, nil
}

func contactedAfter(a, b *model.Target) bool {
	switch {
	case a.LastContactedAt == nil:
		return false
	case b.LastContactedAt == nil:
		return true
	default:
		return a.LastContactedAt.After(*b.LastContactedAt)
	}
}

func (s *ConversationService) publishTrail(ctx context.Context, campaign *model.Campaign, res *InboundResult, tr *trail) {
	t, c := res.Target, res.Conversation

	e := events.New(model.EventInboundProcessed, campaign.ID, t.ID, res.Message.ID)
	e.Metadata = map[string]any{
		"response_type": string(res.Message.Analysis.ResponseType),
		"intent":        res.Message.Analysis.Intent,
		"sentiment":     string(res.Message.Analysis.Sentiment),
	}
	s.publish(ctx, campaign, e)

	if tr.fromStage != c.Stage {
		metrics.RecordStageTransition(string(tr.fromStage), string(c.Stage))
		e := events.New(model.EventStageChanged, campaign.ID, t.ID, c.ID)
		e.From, e.To = string(tr.fromStage), string(c.Stage)
		s.publish(ctx, campaign, e)
	}

	metrics.LeadScores.Observe(t.LeadScore)
	e = events.New(model.EventScoreUpdated, campaign.ID, t.ID, t.ID)
	e.Metadata = map[string]any{"lead_score": t.LeadScore}
	s.publish(ctx, campaign, e)

	if tr.effects.Escalated {
		s.publish(ctx, campaign, events.New(model.EventEscalated, campaign.ID, t.ID, c.ID))
	}
	for _, note := range tr.effects.Notifications {
		e := events.New(model.EventTeamNotification, campaign.ID, t.ID, c.ID)
		e.Metadata = map[string]any{"message": note}
		s.publish(ctx, campaign, e)
	}
}

// reply composes the answer and delivers it in the background, since the
// human-like delay can run for minutes.
func (s *ConversationService) reply(ctx context.Context, campaign *model.Campaign, res *InboundResult, analysis *model.Analysis, text string) {
	if s.responder == nil || campaign.Status != model.CampaignActive {
		return
	}
	in := responder.Input{
		Campaign:     campaign,
		Target:       res.Target,
		Conversation: res.Conversation,
		Analysis:     analysis,
		Inbound:      text,
	}

	var r *responder.Reply
	if res.Rule != nil {
		r = s.responder.ComposeRule(in, res.Rule)
	}
	if r == nil {
		var err error
		r, err = s.responder.Compose(ctx, in)
		if err != nil {
			s.logger.Error("failed to compose reply",
				zap.String("conversation_id", res.Conversation.ID),
				zap.Error(err),
			)
			return
		}
	}
	if r == nil {
		return
	}
	res.Reply = r

	s.replies.Add(1)
	go func() {
		defer s.replies.Done()
		m, err := s.responder.Deliver(s.replyCtx, r)
		if err != nil {
			s.logger.Warn("reply not delivered",
				zap.String("conversation_id", r.ConversationID),
				zap.String("source", r.Source),
				zap.Error(err),
			)
			return
		}
		s.logger.Info("reply delivered",
			zap.String("conversation_id", r.ConversationID),
			zap.String("message_id", m.ID),
			zap.String("source", r.Source),
			zap.String("status", string(m.Status)),
		)
	}()
}

// OnDeliveryEvent applies a provider status callback. Redelivered events
// are ignored and reported as nil.
func (s *ConversationService) OnDeliveryEvent(ctx context.Context, ev model.DeliveryEvent) (*model.Message, error) {
	if !ev.Channel.Valid() {
		return nil, apperr.Validation("unknown channel %q", ev.Channel)
	}
	if ev.ProviderMessageID == "" {
		return nil, apperr.Validation("provider message id is required")
	}
	if ev.EventID == "" {
		return s.dispatcher.ApplyDeliveryEvent(ctx, ev)
	}

	seenID := "status:" + string(ev.Channel) + ":" + ev.EventID
	fresh, err := s.store.MarkInboundSeen(ctx, seenID)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, nil
	}
	m, err := s.dispatcher.ApplyDeliveryEvent(ctx, ev)
	if err != nil {
		// Let the redelivery through.
		if ferr := s.store.ForgetInboundSeen(context.WithoutCancel(ctx), seenID); ferr != nil {
			s.logger.Error("failed to forget delivery event",
				zap.String("event_id", ev.EventID),
				zap.Error(ferr),
			)
		}
		return nil, err
	}
	return m, nil
}

// CloseConversation ends a conversation. A later reopen starts a new one.
func (s *ConversationService) CloseConversation(ctx context.Context, ownerID, conversationID string) (*model.Conversation, error) {
	conv, _, err := s.ownedConversation(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(conv.TargetID)
	defer unlock()

	conv, err = s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive {
		return conv, nil
	}
	now := s.now().UTC()
	conv.IsActive = false
	conv.ClosedAt = &now
	conv.UpdatedAt = now
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ReopenConversation starts a new conversation on the channel of a closed
// one. The closed conversation stays closed. A conversation that ended in
// follow_up restarts from initial contact.
func (s *ConversationService) ReopenConversation(ctx context.Context, ownerID, conversationID string) (*model.Conversation, error) {
	old, campaign, err := s.ownedConversation(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(old.TargetID)
	defer unlock()

	if active, err := s.store.ActiveConversation(ctx, old.TargetID, old.Channel); err == nil {
		return nil, apperr.AlreadyExists("conversation", active.ID)
	} else if !apperr.IsNotFound(err) {
		return nil, err
	}

	t, err := s.store.GetTarget(ctx, old.TargetID)
	if err != nil {
		return nil, err
	}
	if t.DoNotContact {
		return nil, apperr.Validation("target %s is marked do-not-contact", t.ID)
	}

	now := s.now().UTC()
	stage := t.ConversationStage
	if stage == model.StageFollowUp || stage == "" {
		stage = model.StageInitialContact
	}
	conv := &model.Conversation{
		ID:         uuid.Must(uuid.NewV7()).String(),
		CampaignID: campaign.ID,
		TargetID:   t.ID,
		Channel:    old.Channel,
		Stage:      stage,
		IsActive:   true,
		AgentBound: !t.HasTag(rules.EscalationTag),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	if t.ConversationStage != stage {
		t.ConversationStage = stage
		t.UpdatedAt = now
		if err := s.store.UpdateTarget(ctx, t); err != nil {
			return nil, err
		}
	}
	s.logger.Info("conversation reopened",
		zap.String("conversation_id", conv.ID),
		zap.String("previous_id", old.ID),
	)
	return conv, nil
}

func (s *ConversationService) ownedConversation(ctx context.Context, ownerID, conversationID string) (*model.Conversation, *model.Campaign, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	campaign, err := s.ownedCampaign(ctx, ownerID, conv.CampaignID)
	if err != nil {
		return nil, nil, apperr.NotFound("conversation", conversationID)
	}
	return conv, campaign, nil
}

func (s *ConversationService) ownedCampaign(ctx context.Context, ownerID, campaignID string) (*model.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, apperr.NotFound("campaign", campaignID)
	}
	return c, nil
}

func (s *ConversationService) publish(ctx context.Context, campaign *model.Campaign, e *model.Event) {
	e.OwnerID = campaign.OwnerID
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("type", string(e.Type)),
			zap.String("campaign_id", e.CampaignID),
			zap.Error(err),
		)
	}
}
