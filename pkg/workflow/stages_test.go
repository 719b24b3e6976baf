package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refinelabs/refinery/pkg/errors"
	"github.com/refinelabs/refinery/pkg/llm"
	"github.com/refinelabs/refinery/pkg/task"
)

func stageTask(agent task.AgentType, input map[string]interface{}) *task.Task {
	return &task.Task{
		ID:        "t1",
		ProjectID: "proj",
		TaskType:  task.TypeFull,
		AgentType: agent,
		InputData: input,
	}
}

func TestScannerHandlerParsesGatewayOutput(t *testing.T) {
	mock := llm.NewMock().Enqueue(&llm.Response{
		Content:    `{"issues":[{"severity":"high","description":"x"}],"opportunities":[]}`,
		TokensUsed: 42,
	})
	handler := NewScannerHandler(mock, nil)

	res, err := handler.Execute(context.Background(), stageTask(task.AgentScanner,
		map[string]interface{}{"path": "./src"}))
	require.NoError(t, err)

	assert.Equal(t, 42, res.TokensUsed)
	assert.Len(t, records(res.Output, "issues"), 1)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "./src")
	assert.Equal(t, llm.FormatJSON, reqs[0].ResponseFormat)
}

func TestImproverHandlerForwardsScanResults(t *testing.T) {
	mock := llm.NewMock().Enqueue(&llm.Response{Content: `{"improvements":[]}`})
	handler := NewImproverHandler(mock, nil)

	input := map[string]interface{}{
		"path": "./src",
		"scan_results": map[string]interface{}{
			"issues": []interface{}{map[string]interface{}{"severity": "high"}},
		},
	}
	_, err := handler.Execute(context.Background(), stageTask(task.AgentImprover, input))
	require.NoError(t, err)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, `"severity":"high"`)
}

func TestStageHandlerMalformedJSON(t *testing.T) {
	mock := llm.NewMock().Enqueue(&llm.Response{Content: "definitely not json"})
	handler := NewGeneratorHandler(mock, nil)

	_, err := handler.Execute(context.Background(), stageTask(task.AgentGenerator, nil))
	assert.True(t, errors.HasCode(err, errors.ExternalService))
}

func TestStageHandlerEnsuresOutputKey(t *testing.T) {
	mock := llm.NewMock().Enqueue(&llm.Response{Content: `{"notes":"nothing found"}`})
	handler := NewScannerHandler(mock, nil)

	res, err := handler.Execute(context.Background(), stageTask(task.AgentScanner, nil))
	require.NoError(t, err)
	assert.NotNil(t, res.Output["issues"], "missing stage key is normalized to an empty list")
}

func TestParseJSONOutputStripsFences(t *testing.T) {
	out, err := parseJSONOutput("```json\n{\"issues\":[]}\n```")
	require.NoError(t, err)
	assert.Contains(t, out, "issues")

	out, err = parseJSONOutput("```\n{\"a\":1}\n```")
	require.NoError(t, err)
	assert.Contains(t, out, "a")
}
