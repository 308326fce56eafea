// Package negotiation tracks offers and counter-offers of dealmaking
// conversations through to closure.
package negotiation

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/store"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

// Likelihood thresholds, in percent.
const (
	LowLikelihood  = 20.0
	HighLikelihood = 80.0
)

var stateRank = map[model.NegotiationState]int{
	model.NegotiationInitialContact:   0,
	model.NegotiationInterestShown:    1,
	model.NegotiationNegotiatingTerms: 2,
	model.NegotiationFinalOffer:       3,
	model.NegotiationClosed:           4,
}

// NextState computes the state after a reply. The state never moves
// backward and closed is final.
func NextState(current model.NegotiationState, stance model.Stance, likelihood float64) model.NegotiationState {
	if current == model.NegotiationClosed {
		return current
	}

	var next model.NegotiationState
	switch {
	case stance == model.StanceAccepting:
		next = model.NegotiationClosed
	case stance == model.StanceRejecting && likelihood < LowLikelihood:
		next = model.NegotiationClosed
	case likelihood > HighLikelihood:
		next = model.NegotiationFinalOffer
	case stance == model.StanceCounterOffering, stance == model.StanceRejecting:
		next = model.NegotiationNegotiatingTerms
	default:
		next = model.NegotiationInterestShown
	}

	if stateRank[next] < stateRank[current] {
		return current
	}
	return next
}

// Evaluation is the outcome of reading one reply, ready to be applied.
type Evaluation struct {
	Analysis   *StanceAnalysis
	Strategy   *model.Strategy
	TheirOffer *model.Offer
	Counter    *model.Offer
	Fallback   bool
}

// Engine evaluates negotiation replies.
type Engine struct {
	store      *store.Store
	stance     StanceAnalyzer
	strategist Strategist
	logger     *logger.Logger
	now        func() time.Time
}

// New creates an engine. Nil collaborators are replaced by the keyword
// analyzer and the rule strategist.
func New(st *store.Store, stance StanceAnalyzer, strategist Strategist, log *logger.Logger) *Engine {
	if stance == nil {
		stance = KeywordStanceAnalyzer{}
	}
	if strategist == nil {
		strategist = RuleStrategist{}
	}
	return &Engine{
		store:      st,
		stance:     stance,
		strategist: strategist,
		logger:     log,
		now:        time.Now,
	}
}

// Start opens a negotiation on a conversation of a dealmaking campaign.
func (e *Engine) Start(ctx context.Context, campaign *model.Campaign, conv *model.Conversation, opening *model.Offer) (*model.Negotiation, error) {
	if !campaign.Goal.Dealmaking() {
		return nil, apperr.Validation("campaign goal %q does not support negotiation", campaign.Goal)
	}
	if conv.CampaignID != campaign.ID {
		return nil, apperr.Validation("conversation %s does not belong to campaign %s", conv.ID, campaign.ID)
	}

	existing, err := e.store.NegotiationByConversation(ctx, conv.ID)
	switch {
	case err == nil:
		return nil, apperr.AlreadyExists("negotiation", existing.ID)
	case !apperr.IsNotFound(err):
		return nil, err
	}

	now := e.now().UTC()
	n := &model.Negotiation{
		ID:             uuid.Must(uuid.NewV7()).String(),
		CampaignID:     campaign.ID,
		TargetID:       conv.TargetID,
		ConversationID: conv.ID,
		State:          model.NegotiationInitialContact,
		Offers:         []model.Offer{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opening != nil {
		offer := *opening
		offer.ProposedBy = model.ProposerUs
		offer.ProposedAt = now
		if offer.Currency == "" && campaign.Budget != nil {
			offer.Currency = campaign.Budget.Currency
		}
		n.Offers = append(n.Offers, offer)
		n.CurrentOffer = &offer
	}

	if err := e.store.CreateNegotiation(ctx, n); err != nil {
		return nil, err
	}
	e.logger.Info("negotiation started",
		zap.String("negotiation_id", n.ID),
		zap.String("conversation_id", conv.ID),
	)
	return n, nil
}

// Evaluate reads a reply and plans our answer. It does not modify n and may
// block on generation; callers apply the result with Apply once they hold
// the target's lock.
func (e *Engine) Evaluate(ctx context.Context, campaign *model.Campaign, n *model.Negotiation, text string, offer *model.Offer) (*Evaluation, error) {
	if n.State == model.NegotiationClosed {
		return nil, apperr.Validation("negotiation %s is closed", n.ID)
	}

	ev := &Evaluation{}
	analysis, err := e.stance.AnalyzeStance(ctx, n, text)
	if err != nil {
		e.logger.Warn("stance analyzer unavailable, using keywords",
			zap.Bool("fallback", true),
			zap.String("negotiation_id", n.ID),
			zap.Error(err),
		)
		analysis, _ = KeywordStanceAnalyzer{}.AnalyzeStance(ctx, n, text)
		ev.Fallback = true
	}
	ev.Analysis = analysis

	ev.TheirOffer = analysis.TheirOffer
	if offer != nil {
		ev.TheirOffer = offer
	}
	if ev.TheirOffer != nil {
		o := *ev.TheirOffer
		o.ProposedBy = model.ProposerThem
		ev.TheirOffer = &o
	}

	strategy, err := e.strategist.Strategize(ctx, StrategyInput{Campaign: campaign, Negotiation: n, Analysis: analysis})
	if err != nil {
		e.logger.Warn("strategist unavailable, using rules",
			zap.Bool("fallback", true),
			zap.String("negotiation_id", n.ID),
			zap.Error(err),
		)
		strategy, _ = RuleStrategist{}.Strategize(ctx, StrategyInput{Campaign: campaign, Negotiation: n, Analysis: analysis})
		ev.Fallback = true
	}
	ev.Strategy = strategy

	if strategy.NextAction == ActionCounterOffer &&
		NextState(n.State, analysis.Stance, analysis.Likelihood) != model.NegotiationClosed {
		ev.Counter = Counter(campaign.Budget, n, ev.TheirOffer, strategy.CounterOffer)
	}
	return ev, nil
}

// Apply commits an evaluation onto n. It fails with a ValidationError when
// n was closed in the meantime.
func Apply(n *model.Negotiation, ev *Evaluation, now time.Time) error {
	if n.State == model.NegotiationClosed {
		return apperr.Validation("negotiation %s is closed", n.ID)
	}
	now = now.UTC()

	if ev.TheirOffer != nil {
		o := *ev.TheirOffer
		o.ProposedAt = now
		n.Offers = append(n.Offers, o)
		n.CurrentOffer = &o
	}

	n.State = NextState(n.State, ev.Analysis.Stance, ev.Analysis.Likelihood)
	n.LastStance = ev.Analysis.Stance
	n.LikelihoodToClose = ev.Analysis.Likelihood
	n.Strategy = ev.Strategy
	n.UpdatedAt = now

	if n.State == model.NegotiationClosed {
		n.Outcome = model.OutcomeRejected
		if ev.Analysis.Stance == model.StanceAccepting {
			n.Outcome = model.OutcomeAccepted
		}
		n.ClosedAt = &now
		return nil
	}

	if ev.Counter != nil {
		o := *ev.Counter
		o.ProposedBy = model.ProposerUs
		o.ProposedAt = now
		n.Offers = append(n.Offers, o)
		n.CurrentOffer = &o
	}
	return nil
}

// Counter proposes our next offer. A suggested amount inside the budget is
// taken as is; otherwise the difference between our last offer and theirs is
// split and clamped to the budget.
func Counter(budget *model.Budget, n *model.Negotiation, theirs, suggested *model.Offer) *model.Offer {
	out := &model.Offer{ProposedBy: model.ProposerUs}
	if budget != nil {
		out.Currency = budget.Currency
	}

	if suggested != nil && suggested.Amount > 0 && inBudget(budget, suggested.Amount) {
		out.Amount = suggested.Amount
		out.Terms = suggested.Terms
		if suggested.Currency != "" {
			out.Currency = suggested.Currency
		}
		return out
	}

	ours, ok := lastOffer(n, model.ProposerUs)
	switch {
	case ok:
	case budget != nil && budget.Max > 0:
		ours = (budget.Min + budget.Max) / 2
	case theirs != nil:
		ours = theirs.Amount
	default:
		return nil
	}

	amount := ours
	if theirs != nil && theirs.Amount > 0 {
		amount = (ours + theirs.Amount) / 2
	}
	if budget != nil && budget.Max > 0 {
		amount = math.Max(budget.Min, math.Min(budget.Max, amount))
	}
	out.Amount = math.Round(amount*100) / 100
	return out
}

func inBudget(b *model.Budget, amount float64) bool {
	if b == nil || b.Max <= 0 {
		return true
	}
	return amount >= b.Min && amount <= b.Max
}

func lastOffer(n *model.Negotiation, by model.Proposer) (float64, bool) {
	for i := len(n.Offers) - 1; i >= 0; i-- {
		if n.Offers[i].ProposedBy == by {
			return n.Offers[i].Amount, true
		}
	}
	return 0, false
}
