package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
	"github.com/capitalize-ai/outreach-engine/pkg/metrics"
	"github.com/capitalize-ai/outreach-engine/pkg/tracing"
)

// GenerateRequest is the input to free-text generation.
type GenerateRequest struct {
	SystemContext string
	History       []ChatMessage
	Instruction   string
	MaxTokens     int
	Temperature   float64
}

// Generator produces text from a system context, a bounded history and an
// instruction. Implementations return apperr.ErrGenerationUnavailable when
// the backend cannot be reached.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GeneratorConfig configures a ClientGenerator.
type GeneratorConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ClientGenerator adapts a provider Client to the Generator role.
type ClientGenerator struct {
	client Client
	cfg    GeneratorConfig
	logger *logger.Logger
}

// NewGenerator wraps client.
func NewGenerator(client Client, cfg GeneratorConfig, log *logger.Logger) *ClientGenerator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ClientGenerator{client: client, cfg: cfg, logger: log}
}

// Generate implements Generator.
func (g *ClientGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	ctx, span := tracing.Start(ctx, "llm.generate", attribute.String("llm.provider", g.client.Name()))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	messages := append([]ChatMessage(nil), req.History...)
	if req.Instruction != "" {
		messages = append(messages, ChatMessage{Role: RoleUser, Content: req.Instruction})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = g.cfg.Temperature
	}

	start := time.Now()
	resp, err := g.client.Complete(ctx, &CompletionRequest{
		Model:       g.cfg.Model,
		System:      req.SystemContext,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		metrics.RecordLLM(g.client.Name(), g.cfg.Model, "error", time.Since(start).Seconds(), 0, 0)
		tracing.RecordError(span, err)
		g.logger.Warn("generation unavailable",
			zap.String("provider", g.client.Name()),
			zap.Error(err),
		)
		return "", apperr.GenerationUnavailable(err)
	}

	metrics.RecordLLM(g.client.Name(), resp.Model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", apperr.GenerationUnavailable(errors.New("empty completion"))
	}
	return text, nil
}

// GenerateJSON asks for a JSON object and decodes it into out. Output that
// does not contain a decodable object is reported as GenerationUnavailable.
func GenerateJSON(ctx context.Context, gen Generator, req GenerateRequest, out any) error {
	text, err := gen.Generate(ctx, req)
	if err != nil {
		return err
	}
	raw, err := extractObject(text)
	if err != nil {
		return apperr.GenerationUnavailable(err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return apperr.GenerationUnavailable(fmt.Errorf("malformed JSON: %w", err))
	}
	return nil
}

func extractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", errors.New("no JSON object in completion")
	}
	return text[start : end+1], nil
}
