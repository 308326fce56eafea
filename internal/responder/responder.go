// Package responder composes automated replies to inbound messages and
// hands them to the dispatcher after a human-like delay.
package responder

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/config"
	"github.com/capitalize-ai/outreach-engine/internal/content"
	"github.com/capitalize-ai/outreach-engine/internal/dispatch"
	"github.com/capitalize-ai/outreach-engine/internal/llm"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/store"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
	"github.com/capitalize-ai/outreach-engine/pkg/metrics"
)

// Input is everything a reply is composed from.
type Input struct {
	Campaign     *model.Campaign
	Target       *model.Target
	Conversation *model.Conversation
	Analysis     *model.Analysis
	Inbound      string
}

// Reply is a composed answer waiting to be delivered.
type Reply struct {
	Campaign       *model.Campaign
	Target         *model.Target
	ConversationID string
	Channel        model.Channel
	Content        string
	Source         string
	Delay          time.Duration
}

// Responder composes and delivers automated replies.
type Responder struct {
	cfg        config.ResponderConfig
	store      *store.Store
	gen        llm.Generator
	dispatcher *dispatch.Dispatcher
	logger     *logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	randn func(n int64) int64
}

// Option customizes a Responder.
type Option func(*Responder)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Responder) { r.now = now }
}

// WithSleep replaces the delay wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Responder) { r.sleep = sleep }
}

// WithRand replaces the random source used for delays. randn must return a
// value in [0, n).
func WithRand(randn func(n int64) int64) Option {
	return func(r *Responder) { r.randn = randn }
}

// New creates a responder. gen may be nil, in which case only templates and
// the fallback reply are used.
func New(cfg config.ResponderConfig, st *store.Store, gen llm.Generator, d *dispatch.Dispatcher, log *logger.Logger, opts ...Option) *Responder {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	r := &Responder{
		cfg:        cfg,
		store:      st,
		gen:        gen,
		dispatcher: d,
		logger:     log,
		now:        time.Now,
		sleep:      sleepContext,
		randn:      rand.Int64N,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Compose writes the agent's answer to an inbound reply. It returns nil
// when the agent should stay silent: no active agent, an escalated
// conversation, or the per-conversation message cap reached. It may block
// on generation and must not be called while holding the target's lock.
func (r *Responder) Compose(ctx context.Context, in Input) (*Reply, error) {
	agent := in.Campaign.Agent
	if agent == nil || !agent.IsActive || !in.Conversation.AgentBound {
		return nil, nil
	}

	sent, err := r.store.ListMessages(ctx, store.MessageFilter{
		ConversationID: in.Conversation.ID,
		Direction:      model.DirectionOutbound,
	})
	if err != nil {
		return nil, err
	}
	if len(sent) >= agent.MaxMessages() {
		r.logger.Info("agent message cap reached",
			zap.String("conversation_id", in.Conversation.ID),
			zap.Int("max_messages", agent.MaxMessages()),
		)
		return nil, nil
	}

	reply := &Reply{
		Campaign:       in.Campaign,
		Target:         in.Target,
		ConversationID: in.Conversation.ID,
		Channel:        in.Conversation.Channel,
		Delay:          r.Delay(agent, in.Target),
	}

	if in.Analysis != nil {
		if tmpl := agent.ResponseTemplates[in.Analysis.ResponseType]; tmpl != "" {
			reply.Content = r.render(in, tmpl)
			reply.Source = dispatch.SourceTemplate
			return reply, nil
		}
	}

	text, err := r.generate(ctx, in)
	if err != nil {
		if !apperr.IsGenerationUnavailable(err) {
			return nil, err
		}
		r.logger.Warn("generation unavailable, using fallback reply",
			zap.Bool("fallback", true),
			zap.String("conversation_id", in.Conversation.ID),
			zap.Error(err),
		)
		metrics.GenerationFallbacks.WithLabelValues(dispatch.SourceFallback).Inc()
		reply.Content = r.render(in, r.cfg.FallbackReply)
		reply.Source = dispatch.SourceFallback
		return reply, nil
	}
	reply.Content = text
	reply.Source = dispatch.SourceAgent
	return reply, nil
}

// ComposeRule renders a matched rule's template. It returns nil when the
// rule has no template for the conversation's channel.
func (r *Responder) ComposeRule(in Input, rule *model.AutoResponseRule) *Reply {
	tmpl := rule.TemplateFor(in.Conversation.Channel)
	if tmpl == "" {
		return nil
	}
	metrics.GenerationFallbacks.WithLabelValues(dispatch.SourceRule).Inc()
	return &Reply{
		Campaign:       in.Campaign,
		Target:         in.Target,
		ConversationID: in.Conversation.ID,
		Channel:        in.Conversation.Channel,
		Content:        r.render(in, tmpl),
		Source:         dispatch.SourceRule,
		Delay:          r.Delay(in.Campaign.Agent, in.Target),
	}
}

func (r *Responder) render(in Input, tmpl string) string {
	vars := content.Variables(in.Target, in.Conversation.Channel, in.Campaign.Personalization.Variables, nil)
	return content.Render(tmpl, vars)
}

func (r *Responder) generate(ctx context.Context, in Input) (string, error) {
	if r.gen == nil {
		return "", apperr.GenerationUnavailable(fmt.Errorf("no generator configured"))
	}

	history, err := r.store.RecentMessages(ctx, in.Conversation.ID, r.cfg.HistoryWindow)
	if err != nil {
		return "", err
	}
	turns := make([]llm.ChatMessage, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Direction == model.DirectionOutbound {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.ChatMessage{Role: role, Content: m.Content})
	}

	return r.gen.Generate(ctx, llm.GenerateRequest{
		SystemContext: SystemContext(in.Campaign, in.Target, in.Conversation),
		History:       turns,
		Instruction:   Instruction(in.Campaign.Agent, in.Analysis, in.Inbound),
		MaxTokens:     r.cfg.MaxTokens,
		Temperature:   r.cfg.Temperature,
	})
}

// SystemContext describes the agent, the target and the campaign.
func SystemContext(c *model.Campaign, t *model.Target, conv *model.Conversation) string {
	agent := c.Agent
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, writing on behalf of the %q campaign.\n", agentName(agent), c.Name)
	if agent.Personality != "" {
		fmt.Fprintf(&b, "Personality: %s\n", agent.Personality)
	}
	if agent.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", agent.Tone)
	}
	if len(agent.Objectives) > 0 {
		fmt.Fprintf(&b, "Objectives: %s\n", strings.Join(agent.Objectives, "; "))
	}

	fmt.Fprintf(&b, "\nYou are talking with %s", t.Name)
	if t.Title != "" {
		fmt.Fprintf(&b, ", %s", t.Title)
	}
	if t.Company != "" {
		fmt.Fprintf(&b, " at %s", t.Company)
	}
	fmt.Fprintf(&b, ". Conversation stage: %s. Channel: %s.\n", conv.Stage, conv.Channel)

	if len(t.ProfileData) > 0 {
		b.WriteString("\nAbout them:\n")
		writeSorted(&b, t.ProfileData)
	}
	if len(agent.KnowledgeBase) > 0 {
		b.WriteString("\nKnowledge base:\n")
		writeSorted(&b, agent.KnowledgeBase)
	}

	b.WriteString("\nStay on the objectives, be concise, and move the conversation forward. " +
		"If asked about details not in the knowledge base, offer a call with a human colleague.")
	return b.String()
}

func agentName(a *model.AgentConfig) string {
	if a.Name != "" {
		return a.Name
	}
	return "an outreach assistant"
}

func writeSorted(b *strings.Builder, kv map[string]string) {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %s\n", k, kv[k])
	}
}

// Instruction asks for a reply to inbound and injects the guidance of
// every objection handler whose key appears in it.
func Instruction(agent *model.AgentConfig, analysis *model.Analysis, inbound string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Respond appropriately to their latest message: %q", inbound)
	if analysis != nil {
		fmt.Fprintf(&b, "\nTheir message reads as %s (intent: %s).", analysis.ResponseType, analysis.Intent)
	}

	lower := strings.ToLower(inbound)
	keys := make([]string, 0, len(agent.ObjectionHandlers))
	for k := range agent.ObjectionHandlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, objection := range keys {
		if strings.Contains(lower, strings.ToLower(objection)) {
			fmt.Fprintf(&b, "\nAddress the objection %q using this approach: %s", objection, agent.ObjectionHandlers[objection])
		}
	}
	b.WriteString("\nReply with the message text only.")
	return b.String()
}

// Delay picks a human-like wait before replying: a random point in the
// agent's window, halved during business hours and doubled at night in the
// target's timezone.
func (r *Responder) Delay(agent *model.AgentConfig, t *model.Target) time.Duration {
	if !r.cfg.DelayEnabled {
		return 0
	}
	lo, hi := r.cfg.MinDelay, r.cfg.MaxDelay
	if agent != nil {
		lo, hi = agent.ResponseWindow()
	}
	if hi < lo {
		hi = lo
	}

	d := lo
	if span := int64(hi - lo); span > 0 {
		d += time.Duration(r.randn(span + 1))
	}
	return ScaleForHour(d, LocalHour(r.now(), t.Timezone))
}

// LocalHour returns the hour of now in the named timezone, or in UTC when
// the zone is empty or unknown.
func LocalHour(now time.Time, tz string) int {
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return now.In(loc).Hour()
}

// ScaleForHour halves d during business hours (9 to 17) and doubles it at
// night (before 7 or after 22).
func ScaleForHour(d time.Duration, hour int) time.Duration {
	switch {
	case hour >= 9 && hour <= 17:
		return d / 2
	case hour < 7 || hour > 22:
		return d * 2
	default:
		return d
	}
}

// Deliver waits out the reply's delay and hands it to the dispatcher. It
// must not be called while holding the target's lock.
func (r *Responder) Deliver(ctx context.Context, reply *Reply) (*model.Message, error) {
	if err := r.sleep(ctx, reply.Delay); err != nil {
		return nil, err
	}

	// The target may have opted out or the campaign may have been paused
	// while waiting; reload both so the dispatcher sees the current state.
	target, err := r.store.GetTarget(ctx, reply.Target.ID)
	if err != nil {
		return nil, err
	}
	campaign, err := r.store.GetCampaign(ctx, reply.Campaign.ID)
	if err != nil {
		return nil, err
	}

	return r.dispatcher.Dispatch(ctx, dispatch.Request{
		Campaign:       campaign,
		Target:         target,
		ConversationID: reply.ConversationID,
		Channel:        reply.Channel,
		Content:        reply.Content,
		Source:         reply.Source,
	})
}
