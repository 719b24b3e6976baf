package workflow

import (
	"fmt"
	"strings"

	"github.com/refinelabs/refinery/pkg/task"
)

// buildReport renders the human-readable summary of a completed
// workflow. Critical and high severity issues become immediate
// actions; high impact opportunities become high-impact improvements.
func buildReport(mode task.Type, outputs map[task.AgentType]map[string]interface{}, tokensUsed int, costEstimate float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow report (%s)\n", mode)
	fmt.Fprintf(&b, "Usage: %d tokens, $%.4f estimated\n", tokensUsed, costEstimate)

	scan := outputs[task.AgentScanner]
	issues := records(scan, "issues")
	opportunities := records(scan, "opportunities")

	if len(issues) > 0 {
		fmt.Fprintf(&b, "\nIssues found: %d\n", len(issues))
	}
	if actions := describeMatching(issues, "severity", "critical", "high"); len(actions) > 0 {
		b.WriteString("\nImmediate actions:\n")
		writeBullets(&b, actions)
	}
	if improvements := describeMatching(opportunities, "impact", "high"); len(improvements) > 0 {
		b.WriteString("\nHigh-impact improvements:\n")
		writeBullets(&b, improvements)
	}

	if improve := outputs[task.AgentImprover]; improve != nil {
		if applied := records(improve, "improvements"); len(applied) > 0 {
			fmt.Fprintf(&b, "\nImprovements applied: %d\n", len(applied))
		}
	}
	if gen := outputs[task.AgentGenerator]; gen != nil {
		if modules := records(gen, "modules"); len(modules) > 0 {
			fmt.Fprintf(&b, "\nModules generated: %d\n", len(modules))
		}
	}

	return b.String()
}

// records extracts a list-of-objects field from a stage output. Stage
// outputs round-trip through JSON, so lists arrive as []interface{}.
func records(output map[string]interface{}, key string) []map[string]interface{} {
	if output == nil {
		return nil
	}
	raw, ok := output[key].([]interface{})
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	for _, item := range raw {
		if rec, ok := item.(map[string]interface{}); ok {
			out = append(out, rec)
		}
	}
	return out
}

// describeMatching returns the descriptions of records whose field
// matches one of the wanted values.
func describeMatching(recs []map[string]interface{}, field string, wanted ...string) []string {
	var out []string
	for _, rec := range recs {
		value, _ := rec[field].(string)
		for _, w := range wanted {
			if strings.EqualFold(value, w) {
				desc, _ := rec["description"].(string)
				if desc == "" {
					desc = fmt.Sprintf("unlabelled %s item", value)
				}
				out = append(out, desc)
				break
			}
		}
	}
	return out
}

func writeBullets(b *strings.Builder, lines []string) {
	for _, line := range lines {
		fmt.Fprintf(b, "  - %s\n", line)
	}
}
