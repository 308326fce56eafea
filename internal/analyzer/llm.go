package analyzer

import (
	"context"

	"github.com/capitalize-ai/outreach-engine/internal/llm"
)

const classifyPrompt = `Classify the sentiment of the message below on a scale from -1 (very negative) to 1 (very positive) and extract named entities.
Respond with a single JSON object of the form {"sentiment": <number>, "entities": {"<type>": ["<text>", ...]}} and nothing else.

Message:
`

// LLMClassifier asks a generator for a JSON classification.
type LLMClassifier struct {
	gen llm.Generator
}

// NewLLMClassifier creates a classifier backed by gen.
func NewLLMClassifier(gen llm.Generator) *LLMClassifier {
	return &LLMClassifier{gen: gen}
}

// Classify implements Classifier. Unreachable or unparseable output is
// reported as GenerationUnavailable.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (*Classification, error) {
	var out Classification
	err := llm.GenerateJSON(ctx, c.gen, llm.GenerateRequest{
		SystemContext: "You are a precise text classification service.",
		Instruction:   classifyPrompt + text,
		MaxTokens:     200,
		Temperature:   0.1,
	}, &out)
	if err != nil {
		return nil, err
	}
	out.Sentiment = clamp(out.Sentiment)
	return &out, nil
}
