// Package memory implements the scored, retrievable memory store that
// carries learnings across workflow runs. Records are persisted in
// SQLite, mirrored in a bounded per-project cache, and ranked for
// retrieval by a weighted relevance score.
package memory

import "time"

// Type tags the shape of a memory's content payload.
type Type string

const (
	TypeInsight    Type = "insight"
	TypePattern    Type = "pattern"
	TypeError      Type = "error"
	TypeSuccess    Type = "success"
	TypePreference Type = "preference"
	TypeContext    Type = "context"
)

func (t Type) Valid() bool {
	switch t {
	case TypeInsight, TypePattern, TypeError, TypeSuccess, TypePreference, TypeContext:
		return true
	}
	return false
}

const (
	// MinImportance and MaxImportance bound the importance score.
	// Out-of-range writes are clamped, not rejected.
	MinImportance = 1
	MaxImportance = 10

	// DefaultImportance applies when the caller does not care.
	DefaultImportance = 5
)

// ClampImportance forces a score into [MinImportance, MaxImportance].
func ClampImportance(score int) int {
	if score < MinImportance {
		return MinImportance
	}
	if score > MaxImportance {
		return MaxImportance
	}
	return score
}

// Memory is one durable, typed, importance-scored note for a project.
type Memory struct {
	ID              string                 `json:"id"`
	ProjectID       string                 `json:"project_id"`
	MemoryType      Type                   `json:"memory_type"`
	Content         map[string]interface{} `json:"content"`
	ImportanceScore int                    `json:"importance_score"`
	CreatedAt       time.Time              `json:"created_at"`
	LastAccessed    time.Time              `json:"last_accessed"`
	AccessCount     int                    `json:"access_count"`
}

// clone returns a copy safe to hand to callers while the original stays
// in the cache.
func (m *Memory) clone() *Memory {
	cp := *m
	if m.Content != nil {
		content := make(map[string]interface{}, len(m.Content))
		for k, v := range m.Content {
			content[k] = v
		}
		cp.Content = content
	}
	return &cp
}

// Filter controls which memories List returns.
type Filter struct {
	ProjectID     string
	MemoryType    *Type
	MinImportance int
	Limit         int
}
