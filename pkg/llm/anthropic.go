package llm

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/refinelabs/refinery/pkg/errors"
	"github.com/refinelabs/refinery/pkg/logging"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 4096
)

// Cost per million tokens, used for budget reporting only. Unknown
// models fall back to the sonnet rates.
var costPerMillion = map[string]struct{ input, output float64 }{
	"claude-opus":   {15.0, 75.0},
	"claude-sonnet": {3.0, 15.0},
	"claude-haiku":  {0.8, 4.0},
}

// Anthropic is a Gateway backed by the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
	model  string
	log    *logging.ComponentLogger
}

// AnthropicConfig configures the Anthropic gateway.
type AnthropicConfig struct {
	APIKey  string
	Model   string // defaults to the current sonnet model
	BaseURL string
}

// NewAnthropic creates an Anthropic-backed gateway.
func NewAnthropic(cfg AnthropicConfig, logger *logging.Logger) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.InvalidInput, "anthropic api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	if !strings.HasPrefix(model, "claude-") {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "unsupported anthropic model"),
			errors.Fields{"model": model})
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	return &Anthropic{
		client: &client,
		model:  model,
		log:    logger.WithComponent("llm.anthropic"),
	}, nil
}

// Generate implements Gateway.
func (a *Anthropic) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.Prompt == "" {
		return nil, errors.New(errors.InvalidInput, "prompt is required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model: anthropic.Model(a.model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(renderPrompt(req)),
			),
		},
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	started := time.Now()
	message, err := a.client.Messages.New(ctx, params)
	elapsed := time.Since(started)
	if err != nil {
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			a.log.Error("anthropic api error: status %d", apiErr.StatusCode)
		}
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ExternalService, "anthropic generation failed"),
			errors.Fields{"model": a.model, "max_tokens": maxTokens})
	}
	if message == nil || len(message.Content) == 0 {
		return nil, errors.New(errors.ExternalService, "empty response from anthropic")
	}

	var content string
	if block := message.Content[0]; block.Type == "text" {
		content = block.Text
	}

	inTokens := message.Usage.InputTokens
	outTokens := message.Usage.OutputTokens
	a.log.Debug("generation finished: %d prompt tokens, %d completion tokens in %s",
		inTokens, outTokens, elapsed)

	return &Response{
		Content:      content,
		TokensUsed:   int(inTokens + outTokens),
		Model:        a.model,
		CostEstimate: estimateCost(a.model, inTokens, outTokens),
		ResponseTime: elapsed,
	}, nil
}

// renderPrompt folds stage context into the user message. The system
// prompt travels separately.
func renderPrompt(req Request) string {
	var b strings.Builder
	if req.Context != "" {
		b.WriteString("<context>\n")
		b.WriteString(req.Context)
		b.WriteString("\n</context>\n\n")
	}
	b.WriteString(req.Prompt)
	if req.ResponseFormat == FormatJSON {
		b.WriteString("\n\nRespond with valid JSON only.")
	}
	return b.String()
}

func estimateCost(model string, inTokens, outTokens int64) float64 {
	rates := costPerMillion["claude-sonnet"]
	for prefix, r := range costPerMillion {
		if strings.HasPrefix(model, prefix) {
			rates = r
			break
		}
	}
	return (float64(inTokens)*rates.input + float64(outTokens)*rates.output) / 1e6
}
