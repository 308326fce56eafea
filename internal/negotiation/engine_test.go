package negotiation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/llm"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/store"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

type stubGenerator struct {
	text string
	err  error
}

func (s *stubGenerator) Generate(context.Context, llm.GenerateRequest) (string, error) {
	return s.text, s.err
}

func newCampaign(goal model.Goal) *model.Campaign {
	return &model.Campaign{
		ID:     "c1",
		Goal:   goal,
		Budget: &model.Budget{Min: 1000, Max: 5000, Currency: "USD"},
	}
}

func newConversation() *model.Conversation {
	return &model.Conversation{ID: "conv1", CampaignID: "c1", TargetID: "t1", Channel: model.ChannelEmail}
}

func TestNextStateTable(t *testing.T) {
	tests := []struct {
		current    model.NegotiationState
		stance     model.Stance
		likelihood float64
		want       model.NegotiationState
	}{
		{model.NegotiationInitialContact, model.StanceAccepting, 50, model.NegotiationClosed},
		{model.NegotiationInitialContact, model.StanceRejecting, 10, model.NegotiationClosed},
		{model.NegotiationInitialContact, model.StanceRejecting, 40, model.NegotiationNegotiatingTerms},
		{model.NegotiationInitialContact, model.StanceCounterOffering, 50, model.NegotiationNegotiatingTerms},
		{model.NegotiationInitialContact, model.StanceConsidering, 50, model.NegotiationInterestShown},
		{model.NegotiationInterestShown, model.StanceConsidering, 85, model.NegotiationFinalOffer},
		{model.NegotiationInterestShown, model.StanceCounterOffering, 90, model.NegotiationFinalOffer},
		{model.NegotiationFinalOffer, model.StanceCounterOffering, 50, model.NegotiationFinalOffer},
		{model.NegotiationNegotiatingTerms, model.StanceConsidering, 50, model.NegotiationNegotiatingTerms},
		{model.NegotiationClosed, model.StanceCounterOffering, 50, model.NegotiationClosed},
	}

	for _, tt := range tests {
		got := NextState(tt.current, tt.stance, tt.likelihood)
		assert.Equal(t, tt.want, got, "%s + %s@%v", tt.current, tt.stance, tt.likelihood)
	}
}

func TestNextStateMonotonic(t *testing.T) {
	stances := []model.Stance{model.StanceAccepting, model.StanceRejecting, model.StanceCounterOffering, model.StanceConsidering}
	for state, rank := range stateRank {
		for _, s := range stances {
			for _, l := range []float64{0, 19, 20, 50, 80, 81, 100} {
				next := NextState(state, s, l)
				assert.GreaterOrEqual(t, stateRank[next], rank)
			}
		}
	}
}

func TestStartRequiresDealmakingGoal(t *testing.T) {
	e := New(store.NewInMemory(), nil, nil, logger.Nop())
	_, err := e.Start(context.Background(), newCampaign(model.GoalNetworking), newConversation(), nil)
	assert.True(t, apperr.IsValidation(err))
}

func TestStartOncePerConversation(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewInMemory(), nil, nil, logger.Nop())

	n, err := e.Start(ctx, newCampaign(model.GoalSales), newConversation(), &model.Offer{Amount: 4000})
	require.NoError(t, err)
	assert.Equal(t, model.NegotiationInitialContact, n.State)
	require.NotNil(t, n.CurrentOffer)
	assert.Equal(t, model.ProposerUs, n.CurrentOffer.ProposedBy)
	assert.Equal(t, "USD", n.CurrentOffer.Currency)

	_, err = e.Start(ctx, newCampaign(model.GoalSales), newConversation(), nil)
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestCounterOfferRound(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewInMemory(), nil, nil, logger.Nop())
	campaign := newCampaign(model.GoalSales)

	n, err := e.Start(ctx, campaign, newConversation(), &model.Offer{Amount: 4000})
	require.NoError(t, err)

	ev, err := e.Evaluate(ctx, campaign, n, "How about $3,000 instead?", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StanceCounterOffering, ev.Analysis.Stance)
	require.NotNil(t, ev.Counter)
	assert.Equal(t, 3500.0, ev.Counter.Amount)

	require.NoError(t, Apply(n, ev, time.Now()))
	assert.Equal(t, model.NegotiationNegotiatingTerms, n.State)
	require.Len(t, n.Offers, 3)
	assert.Equal(t, model.ProposerThem, n.Offers[1].ProposedBy)
	assert.Equal(t, 3000.0, n.Offers[1].Amount)
	assert.Equal(t, model.ProposerUs, n.Offers[2].ProposedBy)
	assert.Equal(t, 3500.0, n.CurrentOffer.Amount)
}

func TestAcceptClosesAndClosedRejectsReplies(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewInMemory(), nil, nil, logger.Nop())
	campaign := newCampaign(model.GoalPartnership)

	n, err := e.Start(ctx, campaign, newConversation(), nil)
	require.NoError(t, err)

	ev, err := e.Evaluate(ctx, campaign, n, "Agreed, let's do it.", nil)
	require.NoError(t, err)
	require.NoError(t, Apply(n, ev, time.Now()))
	assert.Equal(t, model.NegotiationClosed, n.State)
	assert.Equal(t, model.OutcomeAccepted, n.Outcome)
	assert.NotNil(t, n.ClosedAt)

	_, err = e.Evaluate(ctx, campaign, n, "Actually, can you do $2k?", nil)
	assert.True(t, apperr.IsValidation(err))
	assert.True(t, apperr.IsValidation(Apply(n, ev, time.Now())))
}

func TestLowLikelihoodRejectCloses(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewInMemory(), nil, nil, logger.Nop())
	campaign := newCampaign(model.GoalRecruitment)

	n, err := e.Start(ctx, campaign, newConversation(), nil)
	require.NoError(t, err)

	ev, err := e.Evaluate(ctx, campaign, n, "No thanks, we will pass on this.", nil)
	require.NoError(t, err)
	assert.Nil(t, ev.Counter)
	require.NoError(t, Apply(n, ev, time.Now()))
	assert.Equal(t, model.NegotiationClosed, n.State)
	assert.Equal(t, model.OutcomeRejected, n.Outcome)
}

func TestLLMFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{err: apperr.GenerationUnavailable(errors.New("down"))}
	e := New(store.NewInMemory(), NewLLMStanceAnalyzer(gen), NewLLMStrategist(gen), logger.Nop())
	campaign := newCampaign(model.GoalSales)

	n, err := e.Start(ctx, campaign, newConversation(), nil)
	require.NoError(t, err)

	ev, err := e.Evaluate(ctx, campaign, n, "Let me think about it", nil)
	require.NoError(t, err)
	assert.True(t, ev.Fallback)
	assert.Equal(t, model.StanceConsidering, ev.Analysis.Stance)
	assert.Equal(t, ActionSeekClarification, ev.Strategy.NextAction)
}

func TestLLMStanceHighLikelihoodForcesFinalOffer(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{text: `{"stance":"considering","likelihood_to_close":92}`}
	e := New(store.NewInMemory(), NewLLMStanceAnalyzer(gen), RuleStrategist{}, logger.Nop())
	campaign := newCampaign(model.GoalSales)

	n, err := e.Start(ctx, campaign, newConversation(), nil)
	require.NoError(t, err)

	ev, err := e.Evaluate(ctx, campaign, n, "We're very close, just need sign-off", nil)
	require.NoError(t, err)
	require.NoError(t, Apply(n, ev, time.Now()))
	assert.Equal(t, model.NegotiationFinalOffer, n.State)
	assert.Equal(t, 92.0, n.LikelihoodToClose)
}

func TestCounterClampsToBudget(t *testing.T) {
	budget := &model.Budget{Min: 1000, Max: 5000}
	n := &model.Negotiation{Offers: []model.Offer{{Amount: 1200, ProposedBy: model.ProposerUs}}}

	got := Counter(budget, n, &model.Offer{Amount: 100}, nil)
	assert.Equal(t, 1000.0, got.Amount)

	got = Counter(budget, n, nil, &model.Offer{Amount: 4200, Terms: "net 30"})
	assert.Equal(t, 4200.0, got.Amount)
	assert.Equal(t, "net 30", got.Terms)

	// Suggestions outside the budget are ignored.
	got = Counter(budget, n, &model.Offer{Amount: 2000}, &model.Offer{Amount: 9000})
	assert.Equal(t, 1600.0, got.Amount)

	assert.Nil(t, Counter(nil, &model.Negotiation{}, nil, nil))
}

func TestParseAmount(t *testing.T) {
	tests := map[string]float64{
		"$3,000":           3000,
		"can you do $5k":   5000,
		"2500 USD works":   2500,
		"£1,250.50 please": 1250.5,
	}
	for text, want := range tests {
		got, ok := ParseAmount(text)
		require.True(t, ok, text)
		assert.Equal(t, want, got, text)
	}
	_, ok := ParseAmount("no numbers here")
	assert.False(t, ok)
}
