// Package task defines the task model and the lifecycle manager that
// enforces valid status transitions for workflows and their sub-tasks.
package task

import "time"

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Type is the execution mode a task belongs to.
type Type string

const (
	TypeScan       Type = "scan"
	TypeEnhance    Type = "enhance"
	TypeAddModules Type = "add_modules"
	TypeFull       Type = "full"
)

func (t Type) Valid() bool {
	switch t {
	case TypeScan, TypeEnhance, TypeAddModules, TypeFull:
		return true
	}
	return false
}

// AgentType identifies which handler a task is dispatched to.
type AgentType string

const (
	AgentScanner      AgentType = "scanner"
	AgentImprover     AgentType = "improver"
	AgentGenerator    AgentType = "generator"
	AgentOrchestrator AgentType = "orchestrator"
)

func (a AgentType) Valid() bool {
	switch a {
	case AgentScanner, AgentImprover, AgentGenerator, AgentOrchestrator:
		return true
	}
	return false
}

// Metadata holds scheduling and usage accounting for a task.
type Metadata struct {
	Priority     int     `json:"priority"`
	RetryCount   int     `json:"retry_count"`
	TokensUsed   int     `json:"tokens_used"`
	CostEstimate float64 `json:"cost_estimate"`
	AIEngine     string  `json:"ai_engine,omitempty"`
}

// Task is one unit of orchestrated work. A root workflow task holds the
// ordered sub-task id list in InputData; sub-tasks point back at it via
// ParentTaskID.
type Task struct {
	ID           string                 `json:"id"`
	ProjectID    string                 `json:"project_id"`
	TaskType     Type                   `json:"task_type"`
	AgentType    AgentType              `json:"agent_type"`
	Status       Status                 `json:"status"`
	InputData    map[string]interface{} `json:"input_data"`
	OutputData   map[string]interface{} `json:"output_data,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	ErrorStack   string                 `json:"error_stack,omitempty"`
	ParentTaskID string                 `json:"parent_task_id,omitempty"`
	Metadata     Metadata               `json:"metadata"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// Filter controls which tasks List returns.
type Filter struct {
	ProjectID    string
	ParentTaskID string
	Status       *Status
	Limit        int
}
