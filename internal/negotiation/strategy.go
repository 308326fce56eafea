package negotiation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capitalize-ai/outreach-engine/internal/llm"
	"github.com/capitalize-ai/outreach-engine/internal/model"
)

// Strategy next actions.
const (
	ActionCounterOffer      = "counter_offer"
	ActionAccept            = "accept"
	ActionWalkAway          = "walk_away"
	ActionSeekClarification = "seek_clarification"
)

// StrategyInput is what a Strategist decides from.
type StrategyInput struct {
	Campaign    *model.Campaign
	Negotiation *model.Negotiation
	Analysis    *StanceAnalysis
}

// Strategist plans our next negotiation move.
type Strategist interface {
	Strategize(ctx context.Context, in StrategyInput) (*model.Strategy, error)
}

// LLMStrategist asks a generator for a JSON strategy.
type LLMStrategist struct {
	gen llm.Generator
}

// NewLLMStrategist creates a strategist backed by gen.
func NewLLMStrategist(gen llm.Generator) *LLMStrategist {
	return &LLMStrategist{gen: gen}
}

// Strategize implements Strategist.
func (s *LLMStrategist) Strategize(ctx context.Context, in StrategyInput) (*model.Strategy, error) {
	budget, _ := json.Marshal(in.Campaign.Budget)
	analysis, _ := json.Marshal(in.Analysis)

	var objectives []string
	if in.Campaign.Agent != nil {
		objectives = in.Campaign.Agent.Objectives
	}
	goals, _ := json.Marshal(objectives)

	prompt := fmt.Sprintf(`Generate a negotiation strategy.

Campaign goal: %s
Objectives: %s
Budget range: %s
Their analysis: %s
Rounds so far: %d

Return a single JSON object:
{"approach": "collaborative|competitive|accommodating", "next_action": "counter_offer|accept|walk_away|seek_clarification", "concession_areas": [], "hold_firm_areas": [], "tactics": [], "reasoning": "", "counter_offer": {"amount": <number>, "terms": ""}}
Only include counter_offer when next_action is counter_offer.`,
		in.Campaign.Goal, goals, budget, analysis, len(in.Negotiation.Offers))

	var out model.Strategy
	if err := llm.GenerateJSON(ctx, s.gen, llm.GenerateRequest{
		SystemContext: "You are an expert negotiation strategist.",
		Instruction:   prompt,
		Temperature:   0.5,
	}, &out); err != nil {
		return nil, err
	}
	if out.CounterOffer != nil && out.CounterOffer.Amount <= 0 {
		out.CounterOffer = nil
	}
	return &out, nil
}

// RuleStrategist maps the stance straight to a move. It never fails.
type RuleStrategist struct{}

// Strategize implements Strategist.
func (RuleStrategist) Strategize(_ context.Context, in StrategyInput) (*model.Strategy, error) {
	a := in.Analysis
	s := &model.Strategy{
		Approach:      "collaborative",
		HoldFirmAreas: []string{"budget ceiling"},
	}

	switch {
	case a.Stance == model.StanceAccepting:
		s.NextAction = ActionAccept
		s.Reasoning = "counterpart accepted"
	case a.Stance == model.StanceRejecting && a.Likelihood < LowLikelihood:
		s.NextAction = ActionWalkAway
		s.Reasoning = "counterpart rejected with little chance of closing"
	case a.Stance == model.StanceCounterOffering || a.Stance == model.StanceRejecting:
		s.NextAction = ActionCounterOffer
		s.ConcessionAreas = []string{"price", "payment terms"}
		s.Tactics = []string{"split the difference"}
		s.Reasoning = "counterpart is negotiating on terms"
	case a.Likelihood > HighLikelihood:
		s.Approach = "accommodating"
		s.NextAction = ActionAccept
		s.Reasoning = "deal is close"
	default:
		s.NextAction = ActionSeekClarification
		s.Tactics = []string{"ask an open question"}
		s.Reasoning = "counterpart is still considering"
	}
	return s, nil
}
