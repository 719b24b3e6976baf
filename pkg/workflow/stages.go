package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/refinelabs/refinery/pkg/errors"
	"github.com/refinelabs/refinery/pkg/llm"
	"github.com/refinelabs/refinery/pkg/logging"
	"github.com/refinelabs/refinery/pkg/memory"
	"github.com/refinelabs/refinery/pkg/task"
)

// Stage prompts. Handlers add the project path and threaded results of
// earlier stages as context.
const (
	scannerSystemPrompt = "You are a code scanner. Analyze the project and report issues " +
		"(with severity: critical, high, medium, low) and improvement opportunities " +
		"(with impact: high, medium, low)."
	improverSystemPrompt = "You are a code improver. Given scan results, propose and " +
		"describe concrete improvements."
	generatorSystemPrompt = "You are a module generator. Given scan results and any " +
		"improvements, design the new modules the project needs."
)

// llmStage is the shared shape of the built-in gateway-backed handlers.
type llmStage struct {
	gateway      llm.Gateway
	memories     *memory.Store
	systemPrompt string
	outputKey    string
	prompt       func(t *task.Task) string
}

// NewScannerHandler returns the built-in scan stage handler.
func NewScannerHandler(gateway llm.Gateway, memories *memory.Store) StageHandler {
	return &llmStage{
		gateway:      gateway,
		memories:     memories,
		systemPrompt: scannerSystemPrompt,
		outputKey:    "issues",
		prompt: func(t *task.Task) string {
			return fmt.Sprintf("Scan the project at %q. Return JSON with \"issues\" and \"opportunities\" arrays.",
				stringField(t.InputData, "path"))
		},
	}
}

// NewImproverHandler returns the built-in improve stage handler.
func NewImproverHandler(gateway llm.Gateway, memories *memory.Store) StageHandler {
	return &llmStage{
		gateway:      gateway,
		memories:     memories,
		systemPrompt: improverSystemPrompt,
		outputKey:    "improvements",
		prompt: func(t *task.Task) string {
			return fmt.Sprintf("Improve the project at %q using these scan results: %s. "+
				"Return JSON with an \"improvements\" array.",
				stringField(t.InputData, "path"), compactJSON(t.InputData["scan_results"]))
		},
	}
}

// NewGeneratorHandler returns the built-in generate stage handler.
func NewGeneratorHandler(gateway llm.Gateway, memories *memory.Store) StageHandler {
	return &llmStage{
		gateway:      gateway,
		memories:     memories,
		systemPrompt: generatorSystemPrompt,
		outputKey:    "modules",
		prompt: func(t *task.Task) string {
			return fmt.Sprintf("Generate new modules for the project at %q. Scan results: %s. "+
				"Prior improvements: %s. Return JSON with a \"modules\" array.",
				stringField(t.InputData, "path"),
				compactJSON(t.InputData["scan_results"]),
				compactJSON(t.InputData["improvement_results"]))
		},
	}
}

// Execute implements StageHandler.
func (s *llmStage) Execute(ctx context.Context, t *task.Task) (*StageResult, error) {
	resp, err := s.gateway.Generate(ctx, llm.Request{
		Prompt:         s.prompt(t),
		SystemPrompt:   s.systemPrompt,
		Context:        s.memoryContext(ctx, t),
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		return nil, err
	}

	output, err := parseJSONOutput(resp.Content)
	if err != nil {
		return nil, err
	}
	if _, ok := output[s.outputKey]; !ok {
		output[s.outputKey] = []interface{}{}
	}
	return &StageResult{
		Output:       output,
		TokensUsed:   resp.TokensUsed,
		CostEstimate: resp.CostEstimate,
	}, nil
}

// memoryContext renders relevant memories for the prompt. Retrieval
// failures degrade to an empty context rather than failing the stage.
func (s *llmStage) memoryContext(ctx context.Context, t *task.Task) string {
	if s.memories == nil {
		return ""
	}
	relevant, err := s.memories.GetRelevantMemories(ctx, t.ProjectID, stringField(t.InputData, "path"), t.TaskType, 5)
	if err != nil {
		logging.GetLogger().Debug("workflow", "memory retrieval for task %s failed: %v", t.ID, err)
		return ""
	}
	if len(relevant) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant project memory:\n")
	for _, m := range relevant {
		fmt.Fprintf(&b, "- [%s] %s\n", m.MemoryType, compactJSON(m.Content))
	}
	return b.String()
}

// parseJSONOutput decodes a model reply into a map, tolerating a
// markdown code fence around the JSON body.
func parseJSONOutput(content string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, errors.Wrap(err, errors.ExternalService, "stage returned malformed JSON")
	}
	return out, nil
}

func stringField(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

func compactJSON(v interface{}) string {
	if v == nil {
		return "{}"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
