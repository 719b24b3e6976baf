package task

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/refinelabs/refinery/pkg/errors"
	"github.com/refinelabs/refinery/pkg/logging"
)

// Manager owns task status transitions. All mutations funnel through
// it; the orchestrator never writes task rows directly.
type Manager struct {
	store Store
	log   *logging.ComponentLogger
}

// NewManager creates a lifecycle manager over the given store.
func NewManager(store Store, logger *logging.Logger) *Manager {
	return &Manager{
		store: store,
		log:   logger.WithComponent("task"),
	}
}

// CreateParams carries the inputs for CreateTask.
type CreateParams struct {
	ProjectID    string
	TaskType     Type
	AgentType    AgentType
	InputData    map[string]interface{}
	ParentTaskID string
	Priority     int
	AIEngine     string
}

// CreateTask persists a new task. Tasks always start pending.
func (m *Manager) CreateTask(ctx context.Context, p CreateParams) (*Task, error) {
	if p.ProjectID == "" {
		return nil, errors.New(errors.ValidationFailed, "project id is required")
	}
	if !p.TaskType.Valid() {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "unknown task type"),
			errors.Fields{"task_type": string(p.TaskType)})
	}
	if !p.AgentType.Valid() {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "unknown agent type"),
			errors.Fields{"agent_type": string(p.AgentType)})
	}

	input := p.InputData
	if input == nil {
		input = map[string]interface{}{}
	}
	t := &Task{
		ID:           uuid.NewString(),
		ProjectID:    p.ProjectID,
		TaskType:     p.TaskType,
		AgentType:    p.AgentType,
		Status:       StatusPending,
		InputData:    input,
		ParentTaskID: p.ParentTaskID,
		Metadata: Metadata{
			Priority: p.Priority,
			AIEngine: p.AIEngine,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Insert(ctx, t); err != nil {
		return nil, err
	}

	m.log.Debug("created task %s (%s/%s) for project %s", t.ID, t.TaskType, t.AgentType, t.ProjectID)
	return t, nil
}

// StartTask moves a pending task to in_progress and stamps started_at.
// Any other current status yields an InvalidState error.
func (m *Manager) StartTask(ctx context.Context, id string) error {
	err := m.store.Transition(ctx, id,
		[]Status{StatusPending}, StatusInProgress,
		TransitionUpdate{SetStartedAt: true})
	if err != nil {
		return err
	}
	m.log.Debug("started task %s", id)
	return nil
}

// CompleteTask moves an in-progress task to completed, storing its
// output and accrued usage.
func (m *Manager) CompleteTask(ctx context.Context, id string, output map[string]interface{}, tokensUsed int, costEstimate float64) error {
	if output == nil {
		output = map[string]interface{}{}
	}
	err := m.store.Transition(ctx, id,
		[]Status{StatusInProgress}, StatusCompleted,
		TransitionUpdate{
			SetCompletedAt: true,
			OutputData:     output,
			TokensUsed:     tokensUsed,
			CostEstimate:   costEstimate,
		})
	if err != nil {
		return err
	}
	m.log.Debug("completed task %s (tokens=%d)", id, tokensUsed)
	return nil
}

// FailTask records an error on a pending or in-progress task. A task
// may fail before it starts, for example during input validation.
func (m *Manager) FailTask(ctx context.Context, id, errorMessage, errorStack string) error {
	if errorMessage == "" {
		errorMessage = "unknown error"
	}
	err := m.store.Transition(ctx, id,
		[]Status{StatusPending, StatusInProgress}, StatusFailed,
		TransitionUpdate{
			SetCompletedAt: true,
			ErrorMessage:   errorMessage,
			ErrorStack:     errorStack,
		})
	if err != nil {
		return err
	}
	m.log.Warn("failed task %s: %s", id, errorMessage)
	return nil
}

// CancelTask terminally cancels a pending or in-progress task.
func (m *Manager) CancelTask(ctx context.Context, id, reason string) error {
	err := m.store.Transition(ctx, id,
		[]Status{StatusPending, StatusInProgress}, StatusCancelled,
		TransitionUpdate{
			SetCompletedAt: true,
			ErrorMessage:   reason,
		})
	if err != nil {
		return err
	}
	m.log.Info("cancelled task %s", id)
	return nil
}

// GetTask returns a task by id or a ResourceNotFound error.
func (m *Manager) GetTask(ctx context.Context, id string) (*Task, error) {
	return m.store.Get(ctx, id)
}

// GetProjectTasks lists a project's tasks, newest first, optionally
// filtered by status.
func (m *Manager) GetProjectTasks(ctx context.Context, projectID string, status *Status, limit int) ([]*Task, error) {
	if projectID == "" {
		return nil, errors.New(errors.ValidationFailed, "project id is required")
	}
	return m.store.List(ctx, Filter{ProjectID: projectID, Status: status, Limit: limit})
}

// GetSubTasks lists the sub-tasks of a workflow, newest first.
func (m *Manager) GetSubTasks(ctx context.Context, workflowID string) ([]*Task, error) {
	return m.store.List(ctx, Filter{ParentTaskID: workflowID})
}

// ThreadInput merges data into the input of a not-yet-started sub-task.
// Used by the orchestrator to feed one stage's output into a later
// stage without disturbing the input the sub-task was created with.
func (m *Manager) ThreadInput(ctx context.Context, id string, input map[string]interface{}) error {
	return m.store.ThreadInput(ctx, id, input)
}

// CleanupCompletedTasks bulk-deletes terminal tasks older than the
// retention window. Pending and in-progress tasks survive any age.
func (m *Manager) CleanupCompletedTasks(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, errors.New(errors.ValidationFailed, "retention days must be at least 1")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	deleted, err := m.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		m.log.Info("cleaned up %d terminal tasks older than %d days", deleted, retentionDays)
	}
	return deleted, nil
}
