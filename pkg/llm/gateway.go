// Package llm provides the gateway the workflow stages use to reach a
// language model provider. Stages never talk to provider SDKs directly;
// they build a Request and hand it to a Gateway.
package llm

import (
	"context"
	"time"
)

// ResponseFormat asks the provider for a particular output shape.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// Request describes one generation call.
type Request struct {
	Prompt       string
	SystemPrompt string
	// Context carries prior stage output and retrieved memories,
	// rendered into the prompt ahead of the task itself.
	Context        string
	MaxTokens      int
	Temperature    float64
	ResponseFormat ResponseFormat
}

// Response is the provider-agnostic result of a generation call.
type Response struct {
	Content      string
	TokensUsed   int
	Model        string
	CostEstimate float64
	ResponseTime time.Duration
}

// Gateway generates model completions.
type Gateway interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
