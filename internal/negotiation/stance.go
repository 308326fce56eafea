package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/capitalize-ai/outreach-engine/internal/llm"
	"github.com/capitalize-ai/outreach-engine/internal/model"
)

// StanceAnalysis is the read of one counterpart reply.
type StanceAnalysis struct {
	Stance           model.Stance `json:"stance"`
	Likelihood       float64      `json:"likelihood_to_close"`
	KeyConcerns      []string     `json:"key_concerns,omitempty"`
	FlexibilityAreas []string     `json:"flexibility_areas,omitempty"`
	TheirOffer       *model.Offer `json:"their_offer,omitempty"`
}

// StanceAnalyzer reads the counterpart's stance and likelihood to close.
type StanceAnalyzer interface {
	AnalyzeStance(ctx context.Context, n *model.Negotiation, text string) (*StanceAnalysis, error)
}

func (a *StanceAnalysis) normalize() {
	switch a.Stance {
	case model.StanceAccepting, model.StanceRejecting, model.StanceCounterOffering, model.StanceConsidering:
	default:
		a.Stance = model.StanceConsidering
	}
	if a.Likelihood < 0 {
		a.Likelihood = 0
	}
	if a.Likelihood > 100 {
		a.Likelihood = 100
	}
	if a.TheirOffer != nil && a.TheirOffer.Amount <= 0 && a.TheirOffer.Terms == "" {
		a.TheirOffer = nil
	}
}

// LLMStanceAnalyzer asks a generator for a JSON stance analysis.
type LLMStanceAnalyzer struct {
	gen llm.Generator
}

// NewLLMStanceAnalyzer creates a stance analyzer backed by gen.
func NewLLMStanceAnalyzer(gen llm.Generator) *LLMStanceAnalyzer {
	return &LLMStanceAnalyzer{gen: gen}
}

// AnalyzeStance implements StanceAnalyzer.
func (a *LLMStanceAnalyzer) AnalyzeStance(ctx context.Context, n *model.Negotiation, text string) (*StanceAnalysis, error) {
	current, _ := json.Marshal(n.CurrentOffer)
	history := n.Offers
	if len(history) > 3 {
		history = history[len(history)-3:]
	}
	recent, _ := json.Marshal(history)

	prompt := fmt.Sprintf(`Analyze this negotiation response.

Current offer: %s
Recent offers: %s

Response:
%s

Return a single JSON object:
{"stance": "accepting|rejecting|counter_offering|considering", "likelihood_to_close": <0-100>, "key_concerns": [], "flexibility_areas": [], "their_offer": {"amount": <number or 0>, "terms": ""}}`,
		current, recent, text)

	var out StanceAnalysis
	if err := llm.GenerateJSON(ctx, a.gen, llm.GenerateRequest{
		SystemContext: "You are an expert negotiation analyst.",
		Instruction:   prompt,
		Temperature:   0.3,
	}, &out); err != nil {
		return nil, err
	}
	out.normalize()
	return &out, nil
}

var (
	acceptPattern  = regexp.MustCompile(`(?i)\b(?:accept|accepted|agreed|agree|deal|let's do it|lets do it|sounds good|works for us|sign)\b`)
	rejectPattern  = regexp.MustCompile(`(?i)\b(?:no thanks|not interested|decline|declined|reject|pass on|walk away|no deal)\b`)
	counterPattern = regexp.MustCompile(`(?i)\b(?:how about|counter|instead|can you do|could you do|lower|discount|meet in the middle|best you can do)\b`)
	amountPattern  = regexp.MustCompile(`[$€£]\s?(\d[\d,]*(?:\.\d+)?)\s?([kK])?|\b(\d[\d,]*(?:\.\d+)?)\s?([kK])?\s?(?:USD|EUR|GBP|dollars)\b`)
)

// KeywordStanceAnalyzer is a deterministic stance reader. It never fails.
type KeywordStanceAnalyzer struct{}

// AnalyzeStance implements StanceAnalyzer.
func (KeywordStanceAnalyzer) AnalyzeStance(_ context.Context, n *model.Negotiation, text string) (*StanceAnalysis, error) {
	out := &StanceAnalysis{}
	if amount, ok := ParseAmount(text); ok {
		out.TheirOffer = &model.Offer{Amount: amount, ProposedBy: model.ProposerThem}
		if n.CurrentOffer != nil {
			out.TheirOffer.Currency = n.CurrentOffer.Currency
		}
	}

	switch {
	case rejectPattern.MatchString(text):
		out.Stance, out.Likelihood = model.StanceRejecting, 10
	case out.TheirOffer != nil || counterPattern.MatchString(text):
		out.Stance, out.Likelihood = model.StanceCounterOffering, 55
	case acceptPattern.MatchString(text):
		out.Stance, out.Likelihood = model.StanceAccepting, 90
	default:
		out.Stance, out.Likelihood = model.StanceConsidering, 40
	}
	return out, nil
}

// ParseAmount finds the first currency amount in text. "$5k" is 5000.
func ParseAmount(text string) (float64, bool) {
	m := amountPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	digits, suffix := m[1], m[2]
	if digits == "" {
		digits, suffix = m[3], m[4]
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if suffix != "" {
		v *= 1000
	}
	return v, true
}
