// Package analytics rolls campaign activity up into funnel metrics.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/config"
	"github.com/capitalize-ai/outreach-engine/internal/conversation"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/store"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
	"github.com/capitalize-ai/outreach-engine/pkg/metrics"
)

const (
	// TopMessageMinSends is how often identical content must be sent before
	// it ranks as a top message.
	TopMessageMinSends = 5
	topMessageLimit    = 5
	topMessageExcerpt  = 100
	dayLayout          = "2006-01-02"

	// MaxRangeDays bounds the window a query may span.
	MaxRangeDays = 366
)

// Query selects the window of an aggregation. A zero From or To leaves that
// side open.
type Query struct {
	CampaignID string
	From       time.Time
	To         time.Time
	// Bypass skips the cache and forces a recompute.
	Bypass bool
}

func (q Query) key() string {
	return fmt.Sprintf("%s|%d|%d", q.CampaignID, q.From.Unix(), q.To.Unix())
}

type entry struct {
	snap    *model.AnalyticsSnapshot
	expires time.Time
}

// Aggregator computes and caches campaign analytics.
type Aggregator struct {
	cfg    config.AnalyticsConfig
	store  *store.Store
	logger *logger.Logger
	now    func() time.Time

	cache *lru.Cache[string, entry]
	group singleflight.Group
}

// New creates an aggregator.
func New(cfg config.AnalyticsConfig, st *store.Store, log *logger.Logger) *Aggregator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Minute
	}
	if cfg.TimeSeriesDays <= 0 {
		cfg.TimeSeriesDays = 30
	}
	if cfg.TimeSeriesDays > MaxRangeDays {
		cfg.TimeSeriesDays = MaxRangeDays
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	cache, _ := lru.New[string, entry](cfg.CacheSize)
	return &Aggregator{
		cfg:    cfg,
		store:  st,
		logger: log,
		now:    time.Now,
		cache:  cache,
	}
}

// Get returns the campaign's analytics, from cache while fresh. Entries
// expire or are evicted once the cache is full; nothing else invalidates
// them early except Bypass.
func (a *Aggregator) Get(ctx context.Context, q Query) (*model.AnalyticsSnapshot, error) {
	if err := a.checkRange(q); err != nil {
		return nil, err
	}
	key := q.key()
	if !q.Bypass {
		if e, ok := a.cache.Get(key); ok {
			if a.now().Before(e.expires) {
				metrics.AnalyticsCache.WithLabelValues("hit").Inc()
				return e.snap, nil
			}
			a.cache.Remove(key)
		}
	}
	metrics.AnalyticsCache.WithLabelValues("miss").Inc()

	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		snap, err := a.Compute(ctx, q)
		if err != nil {
			return nil, err
		}
		a.cache.Add(key, entry{snap: snap, expires: a.now().Add(a.cfg.CacheTTL)})

		// Only the unbounded view is the campaign's canonical snapshot.
		if q.From.IsZero() && q.To.IsZero() {
			if err := a.store.SaveSnapshot(ctx, snap); err != nil {
				a.logger.Warn("failed to persist analytics snapshot",
					zap.String("campaign_id", q.CampaignID),
					zap.Error(err),
				)
			}
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.AnalyticsSnapshot), nil
}

// Compute aggregates the campaign's stored targets and messages.
func (a *Aggregator) Compute(ctx context.Context, q Query) (*model.AnalyticsSnapshot, error) {
	if err := a.checkRange(q); err != nil {
		return nil, err
	}
	targets, err := a.store.ListTargets(ctx, store.TargetFilter{CampaignID: q.CampaignID})
	if err != nil {
		return nil, err
	}
	msgs, err := a.store.ListMessages(ctx, store.MessageFilter{CampaignID: q.CampaignID})
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	snap := model.NewAnalyticsSnapshot(q.CampaignID, now)
	if !q.From.IsZero() {
		from := q.From.UTC()
		snap.From = &from
	}
	if !q.To.IsZero() {
		to := q.To.UTC()
		snap.To = &to
	}

	inWindow := func(m *model.Message) bool {
		ts := m.Timestamp()
		return (q.From.IsZero() || !ts.Before(q.From)) && (q.To.IsZero() || !ts.After(q.To))
	}

	perTarget := make(map[string]int)
	channels := make(map[model.Channel]*model.ChannelStats)
	stats := func(c model.Channel) *model.ChannelStats {
		s, ok := channels[c]
		if !ok {
			s = &model.ChannelStats{}
			channels[c] = s
		}
		return s
	}
	inbound := make(map[model.Channel]int)
	var outbound []*model.Message

	for _, m := range msgs {
		if !inWindow(m) {
			continue
		}
		perTarget[m.TargetID]++

		if m.Direction == model.DirectionInbound {
			if m.Analysis != nil {
				snap.SentimentDistribution[m.Analysis.Sentiment]++
				inbound[m.Channel]++
				if m.Analysis.Sentiment == model.SentimentPositive {
					stats(m.Channel).Positive++
				}
			}
			continue
		}

		outbound = append(outbound, m)
		s := stats(m.Channel)
		switch m.Status {
		case model.StatusFailed:
			s.Failed++
		case model.StatusBounced:
			s.Bounced++
		}
		if !Reached(m, model.StatusSent) {
			continue
		}
		s.Sent++
		if Reached(m, model.StatusDelivered) {
			s.Delivered++
		}
		if Reached(m, model.StatusRead) {
			s.Opened++
		}
		if Reached(m, model.StatusReplied) {
			s.Replied++
		}
	}

	snap.ByChannel = make(map[model.Channel]model.ChannelStats, len(channels))
	for c, s := range channels {
		s.Delivery = ratio(s.Delivered, s.Sent)
		s.Open = ratio(s.Opened, s.Delivered)
		s.Response = ratio(s.Replied, s.Sent)
		s.PositiveRate = ratio(s.Positive, inbound[c])
		snap.ByChannel[c] = *s

		snap.TotalSent += s.Sent
		snap.TotalDelivered += s.Delivered
		snap.TotalOpened += s.Opened
		snap.TotalReplied += s.Replied
	}
	snap.DeliveryRate = ratio(snap.TotalDelivered, snap.TotalSent)
	snap.OpenRate = ratio(snap.TotalOpened, snap.TotalDelivered)
	snap.ResponseRate = ratio(snap.TotalReplied, snap.TotalSent)

	snap.TotalTargets = len(targets)
	convertedMessages := 0
	for _, t := range targets {
		snap.StageDistribution[t.ConversationStage]++
		if t.LastContactedAt != nil {
			snap.Contacted++
		}
		if conversation.Reached(t.ConversationStage, model.StageClosing) {
			snap.Converted++
			convertedMessages += perTarget[t.ID]
		}
	}
	snap.ConversionRate = ratio(snap.Converted, snap.TotalTargets)
	if snap.Converted > 0 {
		snap.AvgMessagesToConversion = float64(convertedMessages) / float64(snap.Converted)
	}

	snap.TopMessages = TopMessages(outbound)
	snap.TimeSeries = a.timeSeries(outbound, q, now)
	return snap, nil
}

// Reached reports whether an outbound message has passed through status.
// Timestamps are used where present so later statuses still count toward
// earlier ones.
func Reached(m *model.Message, status model.MessageStatus) bool {
	switch status {
	case model.StatusSent:
		return m.SentAt != nil || Reached(m, model.StatusDelivered) || m.Status == model.StatusBounced
	case model.StatusDelivered:
		return m.DeliveredAt != nil || Reached(m, model.StatusRead)
	case model.StatusRead:
		return m.ReadAt != nil || Reached(m, model.StatusReplied)
	case model.StatusReplied:
		return m.RepliedAt != nil || m.Status == model.StatusReplied
	default:
		return m.Status == status
	}
}

// TopMessages ranks outbound content sent at least TopMessageMinSends times
// by response rate.
func TopMessages(outbound []*model.Message) []model.TopMessage {
	type groupKey struct {
		channel model.Channel
		content string
	}
	groups := make(map[groupKey]*model.TopMessage)
	var order []groupKey
	for _, m := range outbound {
		if !Reached(m, model.StatusSent) {
			continue
		}
		k := groupKey{m.Channel, m.Content}
		g, ok := groups[k]
		if !ok {
			g = &model.TopMessage{Channel: m.Channel, Content: excerpt(m.Content)}
			groups[k] = g
			order = append(order, k)
		}
		g.Sent++
		if Reached(m, model.StatusReplied) {
			g.Replied++
		}
	}

	top := []model.TopMessage{}
	for _, k := range order {
		g := groups[k]
		if g.Sent < TopMessageMinSends {
			continue
		}
		g.ResponseRate = ratio(g.Replied, g.Sent)
		top = append(top, *g)
	}
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].ResponseRate > top[j].ResponseRate
	})
	if len(top) > topMessageLimit {
		top = top[:topMessageLimit]
	}
	return top
}

func excerpt(s string) string {
	if utf8.RuneCountInString(s) <= topMessageExcerpt {
		return s
	}
	return string([]rune(s)[:topMessageExcerpt]) + "..."
}

// checkRange rejects windows that end before they start or that span more
// than MaxRangeDays daily points. An open end counts as now.
func (a *Aggregator) checkRange(q Query) error {
	if q.From.IsZero() {
		return nil
	}
	end := a.now()
	if !q.To.IsZero() {
		end = q.To
	}
	if end.Before(q.From) {
		return apperr.Validation("analytics range ends before it starts")
	}
	if days := truncateDay(end.UTC()).Sub(truncateDay(q.From.UTC())) / (24 * time.Hour); days >= MaxRangeDays {
		return apperr.Validation("analytics range spans more than %d days", MaxRangeDays)
	}
	return nil
}

// timeSeries buckets outbound messages by the UTC day they were created,
// over the requested window or the configured number of trailing days.
func (a *Aggregator) timeSeries(outbound []*model.Message, q Query, now time.Time) []model.DailyPoint {
	end := now
	if !q.To.IsZero() {
		end = q.To.UTC()
	}
	start := end.AddDate(0, 0, -(a.cfg.TimeSeriesDays - 1))
	if !q.From.IsZero() {
		start = q.From.UTC()
	}
	start = truncateDay(start)
	end = truncateDay(end)

	index := make(map[string]int)
	var points []model.DailyPoint
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		index[d.Format(dayLayout)] = len(points)
		points = append(points, model.DailyPoint{Date: d.Format(dayLayout)})
	}

	for _, m := range outbound {
		i, ok := index[m.CreatedAt.UTC().Format(dayLayout)]
		if !ok || !Reached(m, model.StatusSent) {
			continue
		}
		p := &points[i]
		p.Sent++
		if Reached(m, model.StatusDelivered) {
			p.Delivered++
		}
		if Reached(m, model.StatusRead) {
			p.Opened++
		}
		if Reached(m, model.StatusReplied) {
			p.Replied++
		}
	}
	if points == nil {
		points = []model.DailyPoint{}
	}
	return points
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
