package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/channel/channeltest"
	"github.com/capitalize-ai/outreach-engine/internal/config"
	"github.com/capitalize-ai/outreach-engine/internal/content"
	"github.com/capitalize-ai/outreach-engine/internal/events"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/store"
	"github.com/capitalize-ai/outreach-engine/internal/vault"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

type fixture struct {
	store      *store.Store
	transport  *channeltest.Transport
	vault      *vault.Vault
	dispatcher *Dispatcher
	events     *events.Recorder
	campaign   *model.Campaign
}

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{
		MaxAttempts:     3,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
		Workers:         2,
		BulkConcurrency: 4,
		PollInterval:    5 * time.Millisecond,
	}
}

func newFixture(t *testing.T, cfg config.DispatchConfig) *fixture {
	t.Helper()
	ctx := context.Background()

	st := store.NewInMemory()
	tr := channeltest.New()
	v, err := vault.New(config.VaultConfig{MasterKey: "dispatch-test"}, st, tr.Registry(), logger.Nop())
	require.NoError(t, err)
	_, err = v.Store(ctx, "o1", model.ChannelEmail, model.Credentials{
		"smtp_host": "smtp.example.com", "username": "u", "password": "p",
	}, 0, 0)
	require.NoError(t, err)

	rec := &events.Recorder{}
	d := New(cfg, st, tr.Registry(), v, content.NewGenerator(nil), rec, logger.Nop())

	campaign := &model.Campaign{
		ID:       "c1",
		OwnerID:  "o1",
		Name:     "Spring launch",
		Goal:     model.GoalSales,
		Channels: []model.Channel{model.ChannelEmail, model.ChannelSMS},
		Status:   model.CampaignActive,
		Personalization: model.Personalization{
			InitialTemplate: "Hi {{first_name}}, a quick note for {{company}}. {{unknown}}",
			Subject:         "Hello {{company}}",
		},
	}
	require.NoError(t, st.CreateCampaign(ctx, campaign))

	return &fixture{store: st, transport: tr, vault: v, dispatcher: d, events: rec, campaign: campaign}
}

func (f *fixture) addTarget(t *testing.T, id, email string) *model.Target {
	t.Helper()
	target := &model.Target{
		ID:                id,
		CampaignID:        f.campaign.ID,
		Name:              "Ada " + id,
		Company:           "Acme",
		Channels:          map[model.Channel]string{model.ChannelEmail: email},
		ConversationStage: model.StageInitialContact,
	}
	require.NoError(t, f.store.CreateTarget(context.Background(), target))
	return target
}

func TestEnqueueRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	target := f.addTarget(t, "t1", "ada@example.com")

	dnc := *target
	dnc.DoNotContact = true
	_, err := f.dispatcher.Enqueue(ctx, Request{Campaign: f.campaign, Target: &dnc, Channel: model.ChannelEmail})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.dispatcher.Enqueue(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelSMS})
	assert.True(t, apperr.IsValidation(err), "no sms handle")

	_, err = f.dispatcher.Enqueue(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelTelegram})
	assert.True(t, apperr.IsValidation(err), "channel not enabled")

	paused := *f.campaign
	paused.Status = model.CampaignPaused
	_, err = f.dispatcher.Enqueue(ctx, Request{Campaign: &paused, Target: target, Channel: model.ChannelEmail})
	assert.True(t, apperr.IsValidation(err))

	msgs, err := f.store.ListMessages(ctx, store.MessageFilter{CampaignID: f.campaign.ID})
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected requests never reach queued")
}

func TestDispatchRendersAndSends(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	target := f.addTarget(t, "t1", "ada@example.com")

	m, err := f.dispatcher.Dispatch(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelEmail})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, m.Status)
	assert.Equal(t, "prov-1", m.ProviderMessageID)
	assert.NotNil(t, m.QueuedAt)
	assert.NotNil(t, m.SentAt)
	assert.Equal(t, SourceTemplate, m.Source)
	assert.Equal(t, "Hi Ada, a quick note for Acme. {{unknown}}", m.Content)
	assert.Equal(t, "Hello Acme", m.Subject)
	assert.NotEmpty(t, m.ConversationID)

	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].Recipient)

	stored, err := f.store.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastContactedAt)

	evs := f.events.Events(model.EventMessageStatus)
	require.Len(t, evs, 1)
	assert.Equal(t, string(model.StatusSent), evs[0].To)
}

func TestSendBulkPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.addTarget(t, "t1", "one@example.com")
	f.addTarget(t, "t2", "two@example.com")
	f.addTarget(t, "t3", "three@example.com")
	f.transport.FailFor("two@example.com", errors.New("mailbox does not exist"))

	result := f.dispatcher.SendBulk(ctx, BulkRequest{
		Campaign:  f.campaign,
		TargetIDs: []string{"t1", "t2", "t3"},
		Channel:   model.ChannelEmail,
		Template:  "Hello {{name}}",
	})

	require.Len(t, result.Succeeded, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "t1", result.Succeeded[0].TargetID)
	assert.Equal(t, "t3", result.Succeeded[1].TargetID)
	assert.Equal(t, model.StatusSent, result.Succeeded[0].Status)
	assert.Equal(t, model.StatusSent, result.Succeeded[1].Status)

	failed := result.Failed[0]
	assert.Equal(t, "t2", failed.TargetID)
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "mailbox does not exist")

	m, err := f.store.GetMessage(ctx, failed.MessageID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, m.Status)
	assert.Contains(t, m.LastError, "mailbox does not exist")
	assert.Equal(t, 1, f.transport.Attempts("two@example.com"), "permanent errors are not retried")
}

func TestSendBulkUnknownTarget(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addTarget(t, "t1", "one@example.com")

	result := f.dispatcher.SendBulk(context.Background(), BulkRequest{
		Campaign:  f.campaign,
		TargetIDs: []string{"t1", "missing"},
		Channel:   model.ChannelEmail,
		Template:  "Hello",
	})
	assert.Len(t, result.Succeeded, 1)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "missing", result.Failed[0].TargetID)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	target := f.addTarget(t, "t1", "ada@example.com")
	f.transport.FailTimesFor("ada@example.com", 2, apperr.Transient(errors.New("connection reset")))

	m, err := f.dispatcher.Dispatch(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelEmail, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, m.Status)
	assert.Equal(t, 3, m.Attempts)
}

func TestRetriesExhaustedFailsMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	target := f.addTarget(t, "t1", "ada@example.com")
	f.transport.FailFor("ada@example.com", apperr.Transient(errors.New("timeout")))

	m, err := f.dispatcher.Dispatch(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelEmail, Content: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
	assert.Equal(t, model.StatusFailed, m.Status)
	assert.Equal(t, 3, m.Attempts)
	assert.NotNil(t, m.FailedAt)
}

func TestMissingCredentialsFailsMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	target := f.addTarget(t, "t1", "ada@example.com")
	target.Channels[model.ChannelSMS] = "+15550100"
	require.NoError(t, f.store.UpdateTarget(ctx, target))

	m, err := f.dispatcher.Dispatch(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelSMS, Content: "hi"})
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, model.StatusFailed, m.Status)
	assert.Empty(t, f.transport.Sent())
}

func TestDailyCapDefersToTomorrow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	_, err := f.vault.Store(ctx, "o1", model.ChannelEmail, model.Credentials{
		"smtp_host": "smtp.example.com", "username": "u", "password": "p",
	}, 1, 0)
	require.NoError(t, err)
	a := f.addTarget(t, "t1", "one@example.com")
	b := f.addTarget(t, "t2", "two@example.com")

	first, err := f.dispatcher.Dispatch(ctx, Request{Campaign: f.campaign, Target: a, Channel: model.ChannelEmail, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, first.Status)

	second, err := f.dispatcher.Dispatch(ctx, Request{Campaign: f.campaign, Target: b, Channel: model.ChannelEmail, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, second.Status)
	require.NotNil(t, second.ScheduledAt)
	assert.True(t, second.ScheduledAt.After(time.Now()))
	assert.Len(t, f.transport.Sent(), 1)
}

func TestPurgeCampaign(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	target := f.addTarget(t, "t1", "ada@example.com")
	later := time.Now().Add(time.Hour)

	for i := 0; i < 3; i++ {
		_, err := f.dispatcher.Enqueue(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelEmail, Content: "hi", ScheduledAt: &later})
		require.NoError(t, err)
	}

	n, err := f.dispatcher.PurgeCampaign(ctx, f.campaign.ID, "campaign paused")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	msgs, err := f.store.ListMessages(ctx, store.MessageFilter{CampaignID: f.campaign.ID})
	require.NoError(t, err)
	for _, m := range msgs {
		assert.Equal(t, model.StatusFailed, m.Status)
		assert.Equal(t, "campaign paused", m.LastError)
	}
}

func TestPurgeTargetLeavesOtherTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	optedOut := f.addTarget(t, "t1", "ada@example.com")
	other := f.addTarget(t, "t2", "grace@example.com")
	later := time.Now().Add(time.Hour)

	for _, target := range []*model.Target{optedOut, optedOut, other} {
		_, err := f.dispatcher.Enqueue(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelEmail, Content: "hi", ScheduledAt: &later})
		require.NoError(t, err)
	}

	n, err := f.dispatcher.PurgeTarget(ctx, optedOut.ID, "target unsubscribed")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	queued, err := f.store.ListMessages(ctx, store.MessageFilter{Status: model.StatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, other.ID, queued[0].TargetID)
}

func TestPurgeSkipsInFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	target := f.addTarget(t, "t1", "ada@example.com")
	later := time.Now().Add(time.Hour)

	m, err := f.dispatcher.Enqueue(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelEmail, Content: "hi", ScheduledAt: &later})
	require.NoError(t, err)

	require.True(t, f.dispatcher.claim(m.ID))
	n, err := f.dispatcher.PurgeCampaign(ctx, f.campaign.ID, "paused")
	f.dispatcher.release(m.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplyDeliveryEventIsMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	target := f.addTarget(t, "t1", "ada@example.com")

	m, err := f.dispatcher.Dispatch(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelEmail, Content: "hi"})
	require.NoError(t, err)

	apply := func(status string) *model.Message {
		got, err := f.dispatcher.ApplyDeliveryEvent(ctx, model.DeliveryEvent{
			Channel:           model.ChannelEmail,
			ProviderMessageID: m.ProviderMessageID,
			Status:            status,
		})
		require.NoError(t, err)
		return got
	}

	assert.Equal(t, model.StatusDelivered, apply("delivered").Status)
	assert.Equal(t, model.StatusRead, apply("opened").Status)
	assert.Equal(t, model.StatusRead, apply("delivered").Status, "late delivered is ignored")
	assert.Equal(t, model.StatusRead, apply("bounced").Status, "bounce after read is ignored")

	_, err = f.dispatcher.ApplyDeliveryEvent(ctx, model.DeliveryEvent{Channel: model.ChannelEmail, ProviderMessageID: m.ProviderMessageID, Status: "exploded"})
	assert.True(t, apperr.IsValidation(err))

	require.NoError(t, f.dispatcher.MarkReplied(ctx, m.ConversationID, time.Now()))
	stored, err := f.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReplied, stored.Status)
}

func TestReplyIsNotOverwrittenByConcurrentReadReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	var sent []*model.Message
	for i := 0; i < 20; i++ {
		target := f.addTarget(t, fmt.Sprintf("t%d", i), fmt.Sprintf("lead%d@example.com", i))
		m, err := f.dispatcher.Dispatch(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelEmail, Content: "hi"})
		require.NoError(t, err)
		sent = append(sent, m)
	}

	var wg sync.WaitGroup
	for _, m := range sent {
		wg.Add(2)
		go func(m *model.Message) {
			defer wg.Done()
			assert.NoError(t, f.dispatcher.MarkReplied(ctx, m.ConversationID, time.Now()))
		}(m)
		go func(m *model.Message) {
			defer wg.Done()
			_, err := f.dispatcher.ApplyDeliveryEvent(ctx, model.DeliveryEvent{
				Channel:           model.ChannelEmail,
				ProviderMessageID: m.ProviderMessageID,
				Status:            "read",
			})
			assert.NoError(t, err)
		}(m)
	}
	wg.Wait()

	for _, m := range sent {
		stored, err := f.store.GetMessage(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusReplied, stored.Status, "message %s", m.ID)
	}
}

func TestSendRejectsDuplicateInFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	target := f.addTarget(t, "t1", "ada@example.com")

	m, err := f.dispatcher.Enqueue(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelEmail, Content: "hi"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.dispatcher.Send(ctx, m.ID)
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.transport.Sent(), 1, "a message is sent at most once")
}

func TestRunDrainsDueMessages(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, testConfig())
	target := f.addTarget(t, "t1", "ada@example.com")
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due, err := f.dispatcher.Enqueue(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelEmail, Content: "due", ScheduledAt: &past})
	require.NoError(t, err)
	notYet, err := f.dispatcher.Enqueue(ctx, Request{Campaign: f.campaign, Target: target, Channel: model.ChannelEmail, Content: "later", ScheduledAt: &future})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.dispatcher.Run(ctx) }()

	require.Eventually(t, func() bool {
		m, err := f.store.GetMessage(context.Background(), due.ID)
		return err == nil && m.Status == model.StatusSent
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	m, err := f.store.GetMessage(context.Background(), notYet.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, m.Status)
}
