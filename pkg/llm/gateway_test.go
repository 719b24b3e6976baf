package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refinelabs/refinery/pkg/errors"
	"github.com/refinelabs/refinery/pkg/logging"
)

func TestMockServesQueuedResponses(t *testing.T) {
	mock := NewMock().
		Enqueue(&Response{Content: "first", TokensUsed: 5}).
		Enqueue(&Response{Content: "second", TokensUsed: 7})

	ctx := context.Background()
	resp, err := mock.Generate(ctx, Request{Prompt: "one"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = mock.Generate(ctx, Request{Prompt: "two"})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	// Queue drained: canned reply with the default token cost.
	resp, err = mock.Generate(ctx, Request{Prompt: "three"})
	require.NoError(t, err)
	assert.Equal(t, 10, resp.TokensUsed)

	reqs := mock.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "one", reqs[0].Prompt)
}

func TestMockErrorQueueAndCancellation(t *testing.T) {
	mock := NewMock().EnqueueError(errors.New(errors.ExternalService, "rate limited"))

	_, err := mock.Generate(context.Background(), Request{Prompt: "x"})
	assert.True(t, errors.HasCode(err, errors.ExternalService))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mock.Generate(ctx, Request{Prompt: "x"})
	assert.True(t, errors.HasCode(err, errors.Canceled))
}

func TestNewAnthropicValidation(t *testing.T) {
	logger := logging.NewLogger(logging.Config{Severity: logging.FATAL})

	_, err := NewAnthropic(AnthropicConfig{}, logger)
	assert.True(t, errors.HasCode(err, errors.InvalidInput))

	_, err = NewAnthropic(AnthropicConfig{APIKey: "k", Model: "gpt-4"}, logger)
	assert.True(t, errors.HasCode(err, errors.InvalidInput))

	gw, err := NewAnthropic(AnthropicConfig{APIKey: "k"}, logger)
	require.NoError(t, err)
	assert.Equal(t, defaultModel, gw.model)

	_, err = gw.Generate(context.Background(), Request{})
	assert.True(t, errors.HasCode(err, errors.InvalidInput), "empty prompt rejected before any network call")
}

func TestRenderPrompt(t *testing.T) {
	assert.Equal(t, "do the thing", renderPrompt(Request{Prompt: "do the thing"}))

	withCtx := renderPrompt(Request{Prompt: "do it", Context: "prior results"})
	assert.Contains(t, withCtx, "<context>\nprior results\n</context>")
	assert.Contains(t, withCtx, "do it")

	asJSON := renderPrompt(Request{Prompt: "do it", ResponseFormat: FormatJSON})
	assert.Contains(t, asJSON, "Respond with valid JSON only.")
}

func TestEstimateCost(t *testing.T) {
	// 1M input tokens at sonnet rates.
	assert.InDelta(t, 3.0, estimateCost("claude-sonnet-4-5", 1_000_000, 0), 1e-9)
	assert.InDelta(t, 75.0, estimateCost("claude-opus-4-1", 0, 1_000_000), 1e-9)
	// Unknown models fall back to sonnet rates.
	assert.InDelta(t, 3.0, estimateCost("claude-next", 1_000_000, 0), 1e-9)
}
