package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/refinelabs/refinery/pkg/task"
)

func TestBuildReport(t *testing.T) {
	outputs := map[task.AgentType]map[string]interface{}{
		task.AgentScanner: {
			"issues": []interface{}{
				map[string]interface{}{"severity": "critical", "description": "unvalidated input"},
				map[string]interface{}{"severity": "HIGH", "description": "missing auth check"},
				map[string]interface{}{"severity": "medium", "description": "long function"},
			},
			"opportunities": []interface{}{
				map[string]interface{}{"impact": "high", "description": "introduce worker pool"},
				map[string]interface{}{"impact": "low", "description": "rename package"},
			},
		},
		task.AgentImprover: {
			"improvements": []interface{}{
				map[string]interface{}{"description": "validated input"},
			},
		},
	}

	report := buildReport(task.TypeEnhance, outputs, 1234, 0.05)

	assert.Contains(t, report, "Workflow report (enhance)")
	assert.Contains(t, report, "1234 tokens")
	assert.Contains(t, report, "Issues found: 3")

	assert.Contains(t, report, "unvalidated input")
	assert.Contains(t, report, "missing auth check", "severity matching is case-insensitive")
	assert.NotContains(t, report, "long function")

	assert.Contains(t, report, "introduce worker pool")
	assert.NotContains(t, report, "rename package")

	assert.Contains(t, report, "Improvements applied: 1")
	assert.NotContains(t, report, "Modules generated")
}

func TestBuildReportEmptyOutputs(t *testing.T) {
	report := buildReport(task.TypeScan, map[task.AgentType]map[string]interface{}{}, 0, 0)
	assert.Contains(t, report, "Workflow report (scan)")
	assert.NotContains(t, report, "Immediate actions")
}

func TestRecordsToleratesMalformedShapes(t *testing.T) {
	output := map[string]interface{}{
		"issues": []interface{}{
			map[string]interface{}{"severity": "high", "description": "real"},
			"not an object",
			42,
		},
		"opportunities": "not a list",
	}

	assert.Len(t, records(output, "issues"), 1)
	assert.Nil(t, records(output, "opportunities"))
	assert.Nil(t, records(nil, "issues"))
}
