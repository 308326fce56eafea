// Package analyzer classifies inbound replies into a response type, an
// intent and a sentiment score.
package analyzer

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

// Sentiment thresholds used when no keyword family matches.
const (
	PositiveThreshold = 0.5
	NegativeThreshold = -0.5
)

// Classification is what a Classifier reports about a piece of text.
type Classification struct {
	Sentiment float64             `json:"sentiment"`
	Entities  map[string][]string `json:"entities,omitempty"`
}

// Classifier scores the sentiment of text in [-1, 1] and extracts entities.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Classification, error)
}

type family struct {
	responseType model.ResponseType
	intent       string
	pattern      *regexp.Regexp
}

// Families are checked in order; the first match wins.
var families = []family{
	{model.ResponseUnsubscribe, model.IntentOptOut, phrases("unsubscribe", "stop", "remove me", "opt out", "opt-out")},
	{model.ResponseScheduleMeeting, model.IntentMeetingRequest, phrases("meeting", "call", "schedule", "calendar", "book")},
	{model.ResponseRequestInfo, model.IntentPricingInquiry, phrases("price", "prices", "cost", "costs", "how much", "pricing", "quote")},
	{model.ResponseObjection, model.IntentObjection, phrases("too expensive", "not interested", "no budget", "already have", "not the right time", "bad timing")},
}

func phrases(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// Analyzer applies keyword rules first and falls back to a sentiment
// classifier.
type Analyzer struct {
	classifier Classifier
	lexicon    *Lexicon
	logger     *logger.Logger
}

// New creates an analyzer. A nil classifier means the lexicon is used alone.
func New(classifier Classifier, log *logger.Logger) *Analyzer {
	lex := NewLexicon()
	if classifier == nil {
		classifier = lex
	}
	return &Analyzer{classifier: classifier, lexicon: lex, logger: log}
}

// Analyze classifies text. It always produces a verdict: a failing
// classifier is replaced by the lexicon and the result is marked Fallback.
func (a *Analyzer) Analyze(ctx context.Context, text string) *model.Analysis {
	analysis := &model.Analysis{
		ResponseType: model.ResponseNeutral,
		Intent:       model.IntentGeneral,
		Keywords:     Keywords(text),
	}

	cls, err := a.classifier.Classify(ctx, text)
	if err != nil {
		a.logger.Warn("classifier unavailable, using lexicon",
			zap.Bool("fallback", true),
			zap.Error(err),
		)
		cls, _ = a.lexicon.Classify(ctx, text)
		analysis.Fallback = true
	}

	analysis.SentimentScore = clamp(cls.Sentiment)
	analysis.Sentiment = Label(analysis.SentimentScore)
	analysis.Entities = cls.Entities

	for _, f := range families {
		if f.pattern.MatchString(text) {
			analysis.ResponseType = f.responseType
			analysis.Intent = f.intent
			return analysis
		}
	}

	if strings.Contains(text, "?") {
		analysis.ResponseType = model.ResponseQuestion
		analysis.Intent = model.IntentQuestion
		return analysis
	}

	switch analysis.Sentiment {
	case model.SentimentPositive:
		analysis.ResponseType = model.ResponsePositive
	case model.SentimentNegative:
		analysis.ResponseType = model.ResponseNegative
	}
	return analysis
}

// Label buckets a sentiment score.
func Label(score float64) model.SentimentLabel {
	switch {
	case score >= PositiveThreshold:
		return model.SentimentPositive
	case score <= NegativeThreshold:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
