// Package scoring derives a target's lead score from stored engagement facts.
package scoring

import (
	"time"

	"github.com/capitalize-ai/outreach-engine/internal/model"
)

// Score weights.
const (
	PositiveBonus     = 10.0
	MeetingBonus      = 20.0
	PricingBonus      = 15.0
	EngagementBonus   = 10.0
	NegativePenalty   = 20.0
	EngagementMinimum = 5
	EngagementWindow  = 7 * 24 * time.Hour

	MinScore = 0.0
	MaxScore = 100.0
)

var stageBonus = map[model.Stage]float64{
	model.StageQualification: 10,
	model.StageDiscovery:     20,
	model.StageProposal:      30,
	model.StageNegotiation:   40,
	model.StageClosing:       50,
}

// Facts are the stored engagement facts a score is computed from.
type Facts struct {
	Baseline float64
	Stage    model.Stage
	// Replies holds the analyses of every inbound reply.
	Replies []*model.Analysis
	// MessageTimes holds the timestamps of every message, in either
	// direction, exchanged with the target.
	MessageTimes []time.Time
}

// Compute returns the lead score for facts as of asOf. It is a pure
// function: identical facts always produce the identical score, and the
// result is always within [MinScore, MaxScore].
func Compute(f Facts, asOf time.Time) float64 {
	score := f.Baseline

	for _, a := range f.Replies {
		if a == nil {
			continue
		}
		if a.ResponseType == model.ResponseUnsubscribe {
			return MinScore
		}
		switch a.Sentiment {
		case model.SentimentPositive:
			score += PositiveBonus
		case model.SentimentNegative:
			score -= NegativePenalty
		}
		switch a.Intent {
		case model.IntentMeetingRequest:
			score += MeetingBonus
		case model.IntentPricingInquiry:
			score += PricingBonus
		}
	}

	if recent(f.MessageTimes, asOf) >= EngagementMinimum {
		score += EngagementBonus
	}
	score += stageBonus[f.Stage]

	return clamp(score)
}

func recent(times []time.Time, asOf time.Time) int {
	since := asOf.Add(-EngagementWindow)
	n := 0
	for _, t := range times {
		if !t.Before(since) && !t.After(asOf) {
			n++
		}
	}
	return n
}

func clamp(v float64) float64 {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// FromHistory gathers Facts for a target from its messages.
func FromHistory(t *model.Target, messages []*model.Message) Facts {
	f := Facts{Baseline: t.BaselineScore, Stage: t.ConversationStage}
	for _, m := range messages {
		f.MessageTimes = append(f.MessageTimes, m.Timestamp())
		if m.Direction == model.DirectionInbound && m.Analysis != nil {
			f.Replies = append(f.Replies, m.Analysis)
		}
	}
	return f
}
