package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

type fakeClient struct {
	resp *CompletionResponse
	err  error
	last *CompletionRequest
}

func (f *fakeClient) Complete(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	f.last = req
	return f.resp, f.err
}

func (f *fakeClient) Name() string { return "fake" }

func TestNewClient(t *testing.T) {
	c, err := NewClient("", "key")
	require.NoError(t, err)
	assert.Equal(t, string(ProviderAnthropic), c.Name())

	c, err = NewClient(ProviderOpenAI, "key")
	require.NoError(t, err)
	assert.Equal(t, string(ProviderOpenAI), c.Name())

	_, err = NewClient("mistral", "key")
	assert.Error(t, err)
	_, err = NewClient(ProviderOpenAI, "")
	assert.Error(t, err)
}

func TestGenerateAppendsInstruction(t *testing.T) {
	client := &fakeClient{resp: &CompletionResponse{Content: "  hello  ", Model: "fake-1"}}
	g := NewGenerator(client, GeneratorConfig{MaxTokens: 200, Temperature: 0.4}, logger.Nop())

	text, err := g.Generate(context.Background(), GenerateRequest{
		SystemContext: "be brief",
		History:       []ChatMessage{{Role: RoleAssistant, Content: "hi"}, {Role: RoleUser, Content: "price?"}},
		Instruction:   "answer the question",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	require.Len(t, client.last.Messages, 3)
	assert.Equal(t, "answer the question", client.last.Messages[2].Content)
	assert.Equal(t, "be brief", client.last.System)
	assert.Equal(t, 200, client.last.MaxTokens)
	assert.InDelta(t, 0.4, client.last.Temperature, 1e-9)
}

func TestGenerateWrapsProviderFailure(t *testing.T) {
	client := &fakeClient{err: errors.New("503 overloaded")}
	g := NewGenerator(client, GeneratorConfig{}, logger.Nop())

	_, err := g.Generate(context.Background(), GenerateRequest{Instruction: "x"})
	assert.True(t, apperr.IsGenerationUnavailable(err))
}

func TestGenerateJSON(t *testing.T) {
	client := &fakeClient{resp: &CompletionResponse{Content: "Sure! ```json\n{\"stance\":\"accepting\",\"likelihood\":90}\n```"}}
	g := NewGenerator(client, GeneratorConfig{}, logger.Nop())

	var out struct {
		Stance     string  `json:"stance"`
		Likelihood float64 `json:"likelihood"`
	}
	require.NoError(t, GenerateJSON(context.Background(), g, GenerateRequest{Instruction: "x"}, &out))
	assert.Equal(t, "accepting", out.Stance)
	assert.Equal(t, 90.0, out.Likelihood)

	client.resp = &CompletionResponse{Content: "no json here"}
	err := GenerateJSON(context.Background(), g, GenerateRequest{Instruction: "x"}, &out)
	assert.True(t, apperr.IsGenerationUnavailable(err))
}

func TestAnthropicTurns(t *testing.T) {
	turns := anthropicTurns("sys", []ChatMessage{
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b"},
	})

	require.Len(t, turns, 3)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "sys", turns[0].Content)
	assert.Equal(t, RoleAssistant, turns[1].Role)
	assert.Equal(t, "a\n\nb", turns[2].Content)
}

func TestOpenAIMessagesPrependsSystem(t *testing.T) {
	msgs := openAIMessages("sys", []ChatMessage{{Role: RoleUser, Content: "hi"}})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
}
