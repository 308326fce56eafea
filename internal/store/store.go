package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/model"
)

// Store provides typed access to every outreach collection.
type Store struct {
	backend Backend
}

// New wraps a backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// NewInMemory returns a Store backed by process memory.
func NewInMemory() *Store {
	return New(NewMemory())
}

// Ping checks backend connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func insert(ctx context.Context, b Backend, kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	return b.Insert(ctx, kind, id, data)
}

func update(ctx context.Context, b Backend, kind, id string, expected int64, v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	return b.Update(ctx, kind, id, expected, data)
}

func get[T any](ctx context.Context, b Backend, kind, id string) (*T, int64, error) {
	doc, err := b.Get(ctx, kind, id)
	if err != nil {
		return nil, 0, err
	}
	var v T
	if err := json.Unmarshal(doc.Data, &v); err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
	}
	return &v, doc.Version, nil
}

func list[T any](ctx context.Context, b Backend, kind string, filter Filter) ([]*T, error) {
	docs, err := b.List(ctx, kind, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s %s: %w", kind, doc.ID, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// Campaigns

// CreateCampaign stores a new campaign.
func (s *Store) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	return insert(ctx, s.backend, kindCampaign, c.ID, c)
}

// GetCampaign loads a campaign by id.
func (s *Store) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, _, err := get[model.Campaign](ctx, s.backend, kindCampaign, id)
	return c, err
}

// UpdateCampaign replaces a campaign.
func (s *Store) UpdateCampaign(ctx context.Context, c *model.Campaign) error {
	_, err := update(ctx, s.backend, kindCampaign, c.ID, AnyVersion, c)
	return err
}

// ListCampaigns returns the owner's campaigns.
func (s *Store) ListCampaigns(ctx context.Context, ownerID string) ([]*model.Campaign, error) {
	return list[model.Campaign](ctx, s.backend, kindCampaign, Filter{"owner_id": ownerID})
}

// ListCampaignsByStatus returns campaigns across owners with the given status.
func (s *Store) ListCampaignsByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	return list[model.Campaign](ctx, s.backend, kindCampaign, Filter{"status": string(status)})
}

// DeleteCampaign removes a campaign and everything it owns. It is the only
// cascading delete.
func (s *Store) DeleteCampaign(ctx context.Context, id string) error {
	owned := Filter{"campaign_id": id}
	for _, kind := range []string{kindMessage, kindNegotiation, kindConversation, kindTarget, kindRule, kindSnapshot} {
		if _, err := s.backend.DeleteWhere(ctx, kind, owned); err != nil {
			return fmt.Errorf("failed to cascade %s: %w", kind, err)
		}
	}
	return s.backend.Delete(ctx, kindCampaign, id)
}

// Targets

// TargetFilter narrows ListTargets.
type TargetFilter struct {
	CampaignID string
	Stage      model.Stage
	Channel    model.Channel
}

// CreateTarget stores a new target.
func (s *Store) CreateTarget(ctx context.Context, t *model.Target) error {
	t.Version = 1
	return insert(ctx, s.backend, kindTarget, t.ID, t)
}

// GetTarget loads a target with its current version.
func (s *Store) GetTarget(ctx context.Context, id string) (*model.Target, error) {
	t, version, err := get[model.Target](ctx, s.backend, kindTarget, id)
	if err != nil {
		return nil, err
	}
	t.Version = version
	return t, nil
}

// UpdateTarget writes t if nobody else changed it since it was read. A
// stale write returns apperr.ErrStateConflict.
func (s *Store) UpdateTarget(ctx context.Context, t *model.Target) error {
	version, err := update(ctx, s.backend, kindTarget, t.ID, t.Version, t)
	if err != nil {
		return err
	}
	t.Version = version
	return nil
}

// ListTargets returns a campaign's targets, optionally by stage and channel.
func (s *Store) ListTargets(ctx context.Context, f TargetFilter) ([]*model.Target, error) {
	filter := Filter{"campaign_id": f.CampaignID}
	if f.Stage != "" {
		filter["conversation_stage"] = string(f.Stage)
	}
	docs, err := s.backend.List(ctx, kindTarget, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Target, 0, len(docs))
	for _, doc := range docs {
		var t model.Target
		if err := json.Unmarshal(doc.Data, &t); err != nil {
			return nil, fmt.Errorf("failed to decode target %s: %w", doc.ID, err)
		}
		t.Version = doc.Version
		if f.Channel != "" {
			if _, ok := t.Handle(f.Channel); !ok {
				continue
			}
		}
		out = append(out, &t)
	}
	return out, nil
}

// FindTargetsByHandle returns every target reachable at handle on channel.
func (s *Store) FindTargetsByHandle(ctx context.Context, channel model.Channel, handle string) ([]*model.Target, error) {
	docs, err := s.backend.List(ctx, kindTarget, nil)
	if err != nil {
		return nil, err
	}
	var out []*model.Target
	for _, doc := range docs {
		var t model.Target
		if err := json.Unmarshal(doc.Data, &t); err != nil {
			return nil, fmt.Errorf("failed to decode target %s: %w", doc.ID, err)
		}
		if h, ok := t.Handle(channel); ok && h == handle {
			t.Version = doc.Version
			out = append(out, &t)
		}
	}
	return out, nil
}

// Conversations

// CreateConversation stores a new conversation.
func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) error {
	return insert(ctx, s.backend, kindConversation, c.ID, c)
}

// GetConversation loads a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	c, _, err := get[model.Conversation](ctx, s.backend, kindConversation, id)
	return c, err
}

// UpdateConversation replaces a conversation.
func (s *Store) UpdateConversation(ctx context.Context, c *model.Conversation) error {
	_, err := update(ctx, s.backend, kindConversation, c.ID, AnyVersion, c)
	return err
}

// ListConversations returns a target's conversations, oldest first.
func (s *Store) ListConversations(ctx context.Context, targetID string) ([]*model.Conversation, error) {
	return list[model.Conversation](ctx, s.backend, kindConversation, Filter{"target_id": targetID})
}

// ActiveConversation returns the target's active conversation on channel.
func (s *Store) ActiveConversation(ctx context.Context, targetID string, channel model.Channel) (*model.Conversation, error) {
	convs, err := list[model.Conversation](ctx, s.backend, kindConversation, Filter{
		"target_id": targetID,
		"channel":   string(channel),
	})
	if err != nil {
		return nil, err
	}
	for i := len(convs) - 1; i >= 0; i-- {
		if convs[i].IsActive {
			return convs[i], nil
		}
	}
	return nil, apperr.NotFound(kindConversation, targetID+"/"+string(channel))
}

// Messages

// MessageFilter narrows ListMessages. Zero fields match everything.
type MessageFilter struct {
	OwnerID        string
	CampaignID     string
	TargetID       string
	ConversationID string
	Channel        model.Channel
	Status         model.MessageStatus
	Direction      model.Direction
}

func (f MessageFilter) backendFilter() Filter {
	filter := Filter{}
	set := func(k, v string) {
		if v != "" {
			filter[k] = v
		}
	}
	set("owner_id", f.OwnerID)
	set("campaign_id", f.CampaignID)
	set("target_id", f.TargetID)
	set("conversation_id", f.ConversationID)
	set("channel", string(f.Channel))
	set("status", string(f.Status))
	set("direction", string(f.Direction))
	return filter
}

// CreateMessage stores a new message.
func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	m.Version = 1
	return insert(ctx, s.backend, kindMessage, m.ID, m)
}

// GetMessage loads a message with its current version.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	m, version, err := get[model.Message](ctx, s.backend, kindMessage, id)
	if err != nil {
		return nil, err
	}
	m.Version = version
	return m, nil
}

// UpdateMessage writes m if nobody else changed it since it was read. A
// stale write returns apperr.ErrStateConflict.
func (s *Store) UpdateMessage(ctx context.Context, m *model.Message) error {
	version, err := update(ctx, s.backend, kindMessage, m.ID, m.Version, m)
	if err != nil {
		return err
	}
	m.Version = version
	return nil
}

// ListMessages returns matching messages in creation order.
func (s *Store) ListMessages(ctx context.Context, f MessageFilter) ([]*model.Message, error) {
	return s.listMessages(ctx, f.backendFilter())
}

func (s *Store) listMessages(ctx context.Context, filter Filter) ([]*model.Message, error) {
	docs, err := s.backend.List(ctx, kindMessage, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Message, 0, len(docs))
	for _, doc := range docs {
		var m model.Message
		if err := json.Unmarshal(doc.Data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", doc.ID, err)
		}
		m.Version = doc.Version
		out = append(out, &m)
	}
	return out, nil
}

// RecentMessages returns at most n messages of a conversation, ordered by
// their conversation timestamp, oldest first.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, n int) ([]*model.Message, error) {
	msgs, err := s.ListMessages(ctx, MessageFilter{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp().Before(msgs[j].Timestamp())
	})
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// FindMessageByProviderID finds an outbound message by the provider's id.
func (s *Store) FindMessageByProviderID(ctx context.Context, channel model.Channel, providerID string) (*model.Message, error) {
	msgs, err := s.listMessages(ctx, Filter{
		"channel":             string(channel),
		"provider_message_id": providerID,
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, apperr.NotFound(kindMessage, "provider:"+providerID)
	}
	return msgs[0], nil
}

// CountSentSince counts outbound messages sent at or after since.
func (s *Store) CountSentSince(ctx context.Context, f MessageFilter, since time.Time) (int, error) {
	f.Direction = model.DirectionOutbound
	msgs, err := s.ListMessages(ctx, f)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if m.SentAt != nil && !m.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Negotiations

// CreateNegotiation stores a new negotiation.
func (s *Store) CreateNegotiation(ctx context.Context, n *model.Negotiation) error {
	return insert(ctx, s.backend, kindNegotiation, n.ID, n)
}

// GetNegotiation loads a negotiation by id.
func (s *Store) GetNegotiation(ctx context.Context, id string) (*model.Negotiation, error) {
	n, _, err := get[model.Negotiation](ctx, s.backend, kindNegotiation, id)
	return n, err
}

// UpdateNegotiation replaces a negotiation.
func (s *Store) UpdateNegotiation(ctx context.Context, n *model.Negotiation) error {
	_, err := update(ctx, s.backend, kindNegotiation, n.ID, AnyVersion, n)
	return err
}

// NegotiationByConversation returns the negotiation attached to a conversation.
func (s *Store) NegotiationByConversation(ctx context.Context, conversationID string) (*model.Negotiation, error) {
	ns, err := list[model.Negotiation](ctx, s.backend, kindNegotiation, Filter{"conversation_id": conversationID})
	if err != nil {
		return nil, err
	}
	if len(ns) == 0 {
		return nil, apperr.NotFound(kindNegotiation, "conversation:"+conversationID)
	}
	return ns[len(ns)-1], nil
}

// Rules

// CreateRule stores a new auto-response rule.
func (s *Store) CreateRule(ctx context.Context, r *model.AutoResponseRule) error {
	return insert(ctx, s.backend, kindRule, r.ID, r)
}

// ListRules returns a campaign's rules, highest priority first.
func (s *Store) ListRules(ctx context.Context, campaignID string) ([]*model.AutoResponseRule, error) {
	rules, err := list[model.AutoResponseRule](ctx, s.backend, kindRule, Filter{"campaign_id": campaignID})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	return rules, nil
}

// Analytics snapshots

// SaveSnapshot stores the campaign's snapshot, replacing any previous one.
func (s *Store) SaveSnapshot(ctx context.Context, snap *model.AnalyticsSnapshot) error {
	_, err := update(ctx, s.backend, kindSnapshot, snap.CampaignID, AnyVersion, snap)
	if apperr.IsNotFound(err) {
		return insert(ctx, s.backend, kindSnapshot, snap.CampaignID, snap)
	}
	return err
}

// GetSnapshot loads a campaign's snapshot.
func (s *Store) GetSnapshot(ctx context.Context, campaignID string) (*model.AnalyticsSnapshot, error) {
	snap, _, err := get[model.AnalyticsSnapshot](ctx, s.backend, kindSnapshot, campaignID)
	return snap, err
}

// Credentials

func credentialID(ownerID string, channel model.Channel) string {
	return ownerID + ":" + string(channel)
}

// PutCredential stores or replaces an owner's credential for a channel.
func (s *Store) PutCredential(ctx context.Context, c *model.ChannelCredential) error {
	c.ID = credentialID(c.OwnerID, c.Channel)
	_, err := update(ctx, s.backend, kindCredential, c.ID, AnyVersion, c)
	if apperr.IsNotFound(err) {
		return insert(ctx, s.backend, kindCredential, c.ID, c)
	}
	return err
}

// GetCredential loads an owner's credential for a channel.
func (s *Store) GetCredential(ctx context.Context, ownerID string, channel model.Channel) (*model.ChannelCredential, error) {
	c, _, err := get[model.ChannelCredential](ctx, s.backend, kindCredential, credentialID(ownerID, channel))
	return c, err
}

// Inbound deduplication

type seenEvent struct {
	ID     string    `json:"id"`
	SeenAt time.Time `json:"seen_at"`
}

// MarkInboundSeen records a provider event id. It reports false when the
// id was already recorded.
func (s *Store) MarkInboundSeen(ctx context.Context, eventID string) (bool, error) {
	err := insert(ctx, s.backend, kindInboundEvent, eventID, seenEvent{ID: eventID, SeenAt: time.Now().UTC()})
	if errors.Is(err, apperr.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ForgetInboundSeen drops a recorded event id so a redelivery of the event
// is processed again.
func (s *Store) ForgetInboundSeen(ctx context.Context, eventID string) error {
	err := s.backend.Delete(ctx, kindInboundEvent, eventID)
	if apperr.IsNotFound(err) {
		return nil
	}
	return err
}
