package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/config"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/store"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

var day = time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

type seeder struct {
	t   *testing.T
	st  *store.Store
	seq int
}

func (s *seeder) target(id string, stage model.Stage, contacted bool) {
	s.t.Helper()
	tgt := &model.Target{ID: id, CampaignID: "c1", Name: id, ConversationStage: stage}
	if contacted {
		tgt.LastContactedAt = ptr(day)
	}
	require.NoError(s.t, s.st.CreateTarget(context.Background(), tgt))
}

func (s *seeder) outbound(target string, c model.Channel, content string, status model.MessageStatus, at time.Time) {
	s.t.Helper()
	s.seq++
	m := &model.Message{
		ID: fmt.Sprintf("m%d", s.seq), CampaignID: "c1", TargetID: target,
		Channel: c, Direction: model.DirectionOutbound, Content: content,
		Status: status, CreatedAt: at,
	}
	switch status {
	case model.StatusReplied:
		m.RepliedAt = ptr(at)
		fallthrough
	case model.StatusRead:
		m.ReadAt = ptr(at)
		fallthrough
	case model.StatusDelivered:
		m.DeliveredAt = ptr(at)
		fallthrough
	case model.StatusSent:
		m.SentAt = ptr(at)
	}
	require.NoError(s.t, s.st.CreateMessage(context.Background(), m))
}

func (s *seeder) inbound(target string, c model.Channel, label model.SentimentLabel, at time.Time) {
	s.t.Helper()
	s.seq++
	require.NoError(s.t, s.st.CreateMessage(context.Background(), &model.Message{
		ID: fmt.Sprintf("m%d", s.seq), CampaignID: "c1", TargetID: target,
		Channel: c, Direction: model.DirectionInbound, Content: "reply",
		Status: model.StatusDelivered, ReceivedAt: ptr(at), CreatedAt: at,
		Analysis: &model.Analysis{Sentiment: label},
	}))
}

func newAggregator(t *testing.T) (*Aggregator, *store.Store, *seeder) {
	st := store.NewInMemory()
	a := New(config.AnalyticsConfig{CacheTTL: time.Minute, TimeSeriesDays: 3}, st, logger.Nop())
	a.now = func() time.Time { return day }
	return a, st, &seeder{t: t, st: st}
}

func TestCompute(t *testing.T) {
	a, _, s := newAggregator(t)

	s.target("t1", model.StageClosing, true)
	s.target("t2", model.StageDiscovery, true)
	s.target("t3", model.StageInitialContact, false)
	s.target("t4", model.StageFollowUp, true)

	s.outbound("t1", model.ChannelEmail, "hello", model.StatusReplied, day)
	s.outbound("t2", model.ChannelEmail, "hello", model.StatusRead, day)
	s.outbound("t2", model.ChannelEmail, "hello", model.StatusDelivered, day.AddDate(0, 0, -1))
	s.outbound("t4", model.ChannelEmail, "hello", model.StatusSent, day)
	s.outbound("t3", model.ChannelSMS, "hi", model.StatusFailed, day)
	s.outbound("t3", model.ChannelSMS, "hi", model.StatusQueued, day)
	s.inbound("t1", model.ChannelEmail, model.SentimentPositive, day)
	s.inbound("t2", model.ChannelEmail, model.SentimentNegative, day)

	snap, err := a.Compute(context.Background(), Query{CampaignID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, 4, snap.TotalTargets)
	assert.Equal(t, 3, snap.Contacted)
	assert.Equal(t, 1, snap.Converted)
	assert.InDelta(t, 0.25, snap.ConversionRate, 1e-9)
	assert.InDelta(t, 2.0, snap.AvgMessagesToConversion, 1e-9)

	email := snap.ByChannel[model.ChannelEmail]
	assert.Equal(t, 4, email.Sent)
	assert.Equal(t, 3, email.Delivered)
	assert.Equal(t, 2, email.Opened)
	assert.Equal(t, 1, email.Replied)
	assert.InDelta(t, 0.75, email.Delivery, 1e-9)
	assert.InDelta(t, 2.0/3.0, email.Open, 1e-9)
	assert.InDelta(t, 0.25, email.Response, 1e-9)
	assert.InDelta(t, 0.5, email.PositiveRate, 1e-9)

	sms := snap.ByChannel[model.ChannelSMS]
	assert.Equal(t, 0, sms.Sent)
	assert.Equal(t, 1, sms.Failed)

	assert.Equal(t, 1, snap.SentimentDistribution[model.SentimentPositive])
	assert.Equal(t, 1, snap.SentimentDistribution[model.SentimentNegative])
	assert.Equal(t, 1, snap.StageDistribution[model.StageClosing])

	require.Len(t, snap.TimeSeries, 3)
	assert.Equal(t, "2026-04-08", snap.TimeSeries[0].Date)
	assert.Equal(t, 1, snap.TimeSeries[1].Sent)
	assert.Equal(t, 3, snap.TimeSeries[2].Sent)
	assert.Equal(t, 1, snap.TimeSeries[2].Replied)
}

func TestComputeWindow(t *testing.T) {
	a, _, s := newAggregator(t)
	s.target("t1", model.StageQualification, true)
	s.outbound("t1", model.ChannelEmail, "old", model.StatusSent, day.AddDate(0, 0, -10))
	s.outbound("t1", model.ChannelEmail, "new", model.StatusSent, day)

	snap, err := a.Compute(context.Background(), Query{CampaignID: "c1", From: day.AddDate(0, 0, -1), To: day.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalSent)
	require.NotNil(t, snap.From)
	assert.Len(t, snap.TimeSeries, 2)
}

func TestTopMessages(t *testing.T) {
	var msgs []*model.Message
	add := func(content string, n, replied int) {
		for i := 0; i < n; i++ {
			status := model.StatusSent
			if i < replied {
				status = model.StatusReplied
			}
			msgs = append(msgs, &model.Message{Channel: model.ChannelEmail, Content: content, Status: status, SentAt: ptr(day)})
		}
	}
	add("rarely sent", 4, 4)
	add("steady", 5, 1)
	add("winner", 6, 3)

	top := TopMessages(msgs)
	require.Len(t, top, 2)
	assert.Equal(t, "winner", top[0].Content)
	assert.InDelta(t, 0.5, top[0].ResponseRate, 1e-9)
	assert.Equal(t, "steady", top[1].Content)
}

func TestGetCachesUntilExpiry(t *testing.T) {
	a, st, s := newAggregator(t)
	s.target("t1", model.StageQualification, true)
	s.outbound("t1", model.ChannelEmail, "hello", model.StatusSent, day)

	ctx := context.Background()
	first, err := a.Get(ctx, Query{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalSent)

	saved, err := st.GetSnapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.TotalSent)

	s.outbound("t1", model.ChannelEmail, "hello", model.StatusSent, day)

	cached, err := a.Get(ctx, Query{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, cached.TotalSent)

	fresh, err := a.Get(ctx, Query{CampaignID: "c1", Bypass: true})
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.TotalSent)

	s.outbound("t1", model.ChannelEmail, "hello", model.StatusSent, day)
	a.now = func() time.Time { return day.Add(2 * time.Minute) }
	expired, err := a.Get(ctx, Query{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 3, expired.TotalSent)
}

func TestRangeIsBounded(t *testing.T) {
	a, _, s := newAggregator(t)
	s.target("t1", model.StageQualification, true)
	ctx := context.Background()

	_, err := a.Get(ctx, Query{CampaignID: "c1", From: time.Date(2, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.True(t, apperr.IsValidation(err), "an open end counts as now")

	_, err = a.Compute(ctx, Query{CampaignID: "c1", From: day.AddDate(-2, 0, 0), To: day})
	assert.True(t, apperr.IsValidation(err))

	_, err = a.Get(ctx, Query{CampaignID: "c1", From: day, To: day.Add(-time.Hour)})
	assert.True(t, apperr.IsValidation(err))

	widest, err := a.Get(ctx, Query{CampaignID: "c1", From: day.AddDate(0, 0, -(MaxRangeDays - 1)), To: day})
	require.NoError(t, err)
	assert.Len(t, widest.TimeSeries, MaxRangeDays)
}

func TestCacheIsBounded(t *testing.T) {
	st := store.NewInMemory()
	a := New(config.AnalyticsConfig{CacheTTL: time.Hour, CacheSize: 4}, st, logger.Nop())
	a.now = func() time.Time { return day }
	s := &seeder{t: t, st: st}
	s.target("t1", model.StageQualification, true)

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		_, err := a.Get(ctx, Query{CampaignID: "c1", From: day.AddDate(0, 0, -i), To: day})
		require.NoError(t, err)
	}
	assert.Equal(t, 4, a.cache.Len())
}

func TestExport(t *testing.T) {
	a, _, s := newAggregator(t)
	s.target("t1", model.StageQualification, true)
	s.outbound("t1", model.ChannelEmail, "hello", model.StatusDelivered, day)
	snap, err := a.Compute(context.Background(), Query{CampaignID: "c1"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, snap, FormatCSV))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"section", "key", "metric", "value"}, records[0])
	assert.Contains(t, records, []string{"summary", "", "total_sent", "1"})
	assert.Contains(t, records, []string{"channel", "email", "delivery_rate", "1.0000"})

	buf.Reset()
	require.NoError(t, Export(&buf, snap, FormatJSON))
	var decoded model.AnalyticsSnapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "c1", decoded.CampaignID)

	err = Export(&buf, snap, "xlsx")
	assert.True(t, apperr.IsValidation(err))
}
