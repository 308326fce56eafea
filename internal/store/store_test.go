package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/model"
)

func TestTargetOptimisticVersion(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	require.NoError(t, s.CreateTarget(ctx, &model.Target{ID: "t1", CampaignID: "c1", Name: "Ada"}))

	a, err := s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	b, err := s.GetTarget(ctx, "t1")
	require.NoError(t, err)

	a.LeadScore = 30
	require.NoError(t, s.UpdateTarget(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.LeadScore = 50
	err = s.UpdateTarget(ctx, b)
	assert.True(t, apperr.IsStateConflict(err))

	got, err := s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 30.0, got.LeadScore)
}

func TestDeleteCampaignCascades(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	require.NoError(t, s.CreateCampaign(ctx, &model.Campaign{ID: "c1", OwnerID: "o1"}))
	require.NoError(t, s.CreateCampaign(ctx, &model.Campaign{ID: "c2", OwnerID: "o1"}))
	require.NoError(t, s.CreateTarget(ctx, &model.Target{ID: "t1", CampaignID: "c1"}))
	require.NoError(t, s.CreateTarget(ctx, &model.Target{ID: "t2", CampaignID: "c2"}))
	require.NoError(t, s.CreateMessage(ctx, &model.Message{ID: "m1", CampaignID: "c1", TargetID: "t1"}))
	require.NoError(t, s.SaveSnapshot(ctx, model.NewAnalyticsSnapshot("c1", time.Now())))

	require.NoError(t, s.DeleteCampaign(ctx, "c1"))

	_, err := s.GetTarget(ctx, "t1")
	assert.True(t, apperr.IsNotFound(err))
	_, err = s.GetMessage(ctx, "m1")
	assert.True(t, apperr.IsNotFound(err))
	_, err = s.GetSnapshot(ctx, "c1")
	assert.True(t, apperr.IsNotFound(err))

	_, err = s.GetTarget(ctx, "t2")
	assert.NoError(t, err)
}

func TestActiveConversationPicksLatestActive(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	require.NoError(t, s.CreateConversation(ctx, &model.Conversation{ID: "v1", TargetID: "t1", Channel: model.ChannelEmail}))
	require.NoError(t, s.CreateConversation(ctx, &model.Conversation{ID: "v2", TargetID: "t1", Channel: model.ChannelEmail, IsActive: true}))
	require.NoError(t, s.CreateConversation(ctx, &model.Conversation{ID: "v3", TargetID: "t1", Channel: model.ChannelSMS, IsActive: true}))

	conv, err := s.ActiveConversation(ctx, "t1", model.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "v2", conv.ID)

	_, err = s.ActiveConversation(ctx, "t1", model.ChannelTelegram)
	assert.True(t, apperr.IsNotFound(err))
}

func TestRecentMessagesWindow(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 15; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateMessage(ctx, &model.Message{
			ID:             string(rune('a' + i)),
			ConversationID: "v1",
			ReceivedAt:     &ts,
		}))
	}

	msgs, err := s.RecentMessages(ctx, "v1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 10)
	assert.Equal(t, "f", msgs[0].ID)
	assert.Equal(t, "o", msgs[9].ID)
}

func TestMarkInboundSeen(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	first, err := s.MarkInboundSeen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.MarkInboundSeen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, s.ForgetInboundSeen(ctx, "evt-1"))
	retried, err := s.MarkInboundSeen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, retried, "a forgotten event is processed again")

	require.NoError(t, s.ForgetInboundSeen(ctx, "never-seen"))
}

func TestMessageOptimisticVersion(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	m := &model.Message{ID: "m1", CampaignID: "c1", Channel: model.ChannelEmail, Status: model.StatusSent, ProviderMessageID: "p1"}
	require.NoError(t, s.CreateMessage(ctx, m))
	assert.Equal(t, int64(1), m.Version)

	a, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	b, err := s.FindMessageByProviderID(ctx, model.ChannelEmail, "p1")
	require.NoError(t, err)
	assert.Equal(t, a.Version, b.Version)

	a.Status = model.StatusReplied
	require.NoError(t, s.UpdateMessage(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Status = model.StatusRead
	err = s.UpdateMessage(ctx, b)
	assert.True(t, apperr.IsStateConflict(err))

	msgs, err := s.ListMessages(ctx, MessageFilter{CampaignID: "c1"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.StatusReplied, msgs[0].Status)
	assert.Equal(t, int64(2), msgs[0].Version)
}

func TestCountSentSince(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	now := time.Now().UTC()
	yesterday := now.Add(-30 * time.Hour)

	require.NoError(t, s.CreateMessage(ctx, &model.Message{ID: "m1", OwnerID: "o1", Channel: model.ChannelSMS, Direction: model.DirectionOutbound, SentAt: &now}))
	require.NoError(t, s.CreateMessage(ctx, &model.Message{ID: "m2", OwnerID: "o1", Channel: model.ChannelSMS, Direction: model.DirectionOutbound, SentAt: &yesterday}))
	require.NoError(t, s.CreateMessage(ctx, &model.Message{ID: "m3", OwnerID: "o1", Channel: model.ChannelSMS, Direction: model.DirectionInbound, SentAt: &now}))

	n, err := s.CountSentSince(ctx, MessageFilter{OwnerID: "o1", Channel: model.ChannelSMS}, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestContainmentFilter(t *testing.T) {
	got, err := containment(Filter{"campaign_id": "c1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"campaign_id":"c1"}`, got)

	empty, err := containment(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", empty)
}
