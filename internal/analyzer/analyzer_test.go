package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/llm"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

type stubGenerator struct {
	text string
	err  error
}

func (s *stubGenerator) Generate(context.Context, llm.GenerateRequest) (string, error) {
	return s.text, s.err
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, string) (*Classification, error) {
	return nil, apperr.GenerationUnavailable(errors.New("timeout"))
}

func TestAnalyzeKeywordFamilies(t *testing.T) {
	a := New(nil, logger.Nop())
	ctx := context.Background()

	tests := []struct {
		text     string
		wantType model.ResponseType
		intent   string
	}{
		{"Not interested, please remove me", model.ResponseUnsubscribe, model.IntentOptOut},
		{"STOP", model.ResponseUnsubscribe, model.IntentOptOut},
		{"Can we schedule a call next Tuesday?", model.ResponseScheduleMeeting, model.IntentMeetingRequest},
		{"How much does it cost per seat?", model.ResponseRequestInfo, model.IntentPricingInquiry},
		{"Honestly it's too expensive for us", model.ResponseObjection, model.IntentObjection},
		{"Who else uses this?", model.ResponseQuestion, model.IntentQuestion},
		{"Sounds great, I love this idea!", model.ResponsePositive, model.IntentGeneral},
		{"This is terrible and useless spam.", model.ResponseNegative, model.IntentGeneral},
		{"Received.", model.ResponseNeutral, model.IntentGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := a.Analyze(ctx, tt.text)
			assert.Equal(t, tt.wantType, got.ResponseType)
			assert.Equal(t, tt.intent, got.Intent)
			assert.False(t, got.Fallback)
		})
	}
}

func TestKeywordsMatchWholeWords(t *testing.T) {
	a := New(nil, logger.Nop())

	// "recall" and "facebook" must not trigger the meeting family.
	got := a.Analyze(context.Background(), "I recall seeing you on facebook, nice work")
	assert.NotEqual(t, model.ResponseScheduleMeeting, got.ResponseType)
}

func TestSentimentLabels(t *testing.T) {
	assert.Equal(t, model.SentimentPositive, Label(0.5))
	assert.Equal(t, model.SentimentNegative, Label(-0.5))
	assert.Equal(t, model.SentimentNeutral, Label(0.49))
	assert.Equal(t, model.SentimentNeutral, Label(-0.2))
}

func TestScoreNegation(t *testing.T) {
	assert.Greater(t, Score("this is great"), 0.5)
	assert.Less(t, Score("this is not great"), 0.0)
	assert.Zero(t, Score("the meeting is on tuesday"))
}

func TestFallbackToLexicon(t *testing.T) {
	a := New(failingClassifier{}, logger.Nop())

	got := a.Analyze(context.Background(), "Fantastic, thanks so much!")
	assert.True(t, got.Fallback)
	assert.Equal(t, model.ResponsePositive, got.ResponseType)
}

func TestLLMClassifier(t *testing.T) {
	gen := &stubGenerator{text: `{"sentiment": 1.7, "entities": {"org": ["Acme"]}}`}
	a := New(NewLLMClassifier(gen), logger.Nop())

	got := a.Analyze(context.Background(), "Acme would be happy to proceed")
	assert.False(t, got.Fallback)
	assert.Equal(t, 1.0, got.SentimentScore)
	assert.Equal(t, []string{"Acme"}, got.Entities["org"])

	gen.text = "I cannot help with that"
	_, err := NewLLMClassifier(gen).Classify(context.Background(), "x")
	assert.True(t, apperr.IsGenerationUnavailable(err))
}

func TestEntitiesAndKeywords(t *testing.T) {
	text := "Email me at jo@acme.io, budget is $5,000 and Friday works"
	ents := Entities(text)
	require.NotNil(t, ents)
	assert.Equal(t, []string{"jo@acme.io"}, ents["email"])
	assert.Equal(t, []string{"$5,000"}, ents["money"])
	assert.Equal(t, []string{"Friday"}, ents["date"])

	kw := Keywords("Budget budget works works for Friday")
	assert.Equal(t, []string{"budget", "works", "friday"}, kw)
}
