package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/refinelabs/refinery/pkg/errors"
	"github.com/refinelabs/refinery/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL,
	task_type      TEXT NOT NULL,
	agent_type     TEXT NOT NULL,
	status         TEXT NOT NULL,
	input_data     TEXT NOT NULL DEFAULT '{}',
	output_data    TEXT,
	error_message  TEXT NOT NULL DEFAULT '',
	error_stack    TEXT NOT NULL DEFAULT '',
	parent_task_id TEXT NOT NULL DEFAULT '',
	priority       INTEGER NOT NULL DEFAULT 0,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	tokens_used    INTEGER NOT NULL DEFAULT 0,
	cost_estimate  REAL NOT NULL DEFAULT 0,
	ai_engine      TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	started_at     DATETIME,
	completed_at   DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);
`

// TransitionUpdate carries the columns written alongside a status change.
type TransitionUpdate struct {
	SetStartedAt   bool
	SetCompletedAt bool
	OutputData     map[string]interface{}
	ErrorMessage   string
	ErrorStack     string
	TokensUsed     int
	CostEstimate   float64
}

// Store persists tasks. The Transition method must be an atomic
// compare-and-swap on status so two concurrent callers cannot both
// move the same task out of pending.
type Store interface {
	Insert(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, filter Filter) ([]*Task, error)
	Transition(ctx context.Context, id string, from []Status, to Status, update TransitionUpdate) error
	ThreadInput(ctx context.Context, id string, input map[string]interface{}) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteStore persists tasks in the shared SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore ensures the tasks schema exists on the shared database.
func NewSQLiteStore(db *storage.DB) (*SQLiteStore, error) {
	if _, err := db.Conn().Exec(schema); err != nil {
		return nil, errors.Wrap(err, errors.ExternalService, "create tasks schema")
	}
	return &SQLiteStore{db: db.Conn()}, nil
}

// Insert persists a new task row.
func (s *SQLiteStore) Insert(ctx context.Context, t *Task) error {
	input, err := json.Marshal(t.InputData)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "encode input_data")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks
			(id, project_id, task_type, agent_type, status, input_data,
			 error_message, error_stack, parent_task_id,
			 priority, retry_count, tokens_used, cost_estimate, ai_engine,
			 created_at, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, string(t.TaskType), string(t.AgentType), string(t.Status),
		string(input),
		t.ErrorMessage, t.ErrorStack, t.ParentTaskID,
		t.Metadata.Priority, t.Metadata.RetryCount, t.Metadata.TokensUsed,
		t.Metadata.CostEstimate, t.Metadata.AIEngine,
		t.CreatedAt, nullTime(t.StartedAt), nullTime(t.CompletedAt),
	)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.ExternalService, "insert task"),
			errors.Fields{"task_id": t.ID})
	}
	return nil
}

// Get retrieves a task by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.WithFields(
			errors.New(errors.ResourceNotFound, "task not found"),
			errors.Fields{"task_id": id})
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ExternalService, "get task")
	}
	return t, nil
}

// List returns tasks matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	var q strings.Builder
	q.WriteString(`SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`)
	args := []any{}

	if filter.ProjectID != "" {
		q.WriteString(" AND project_id=?")
		args = append(args, filter.ProjectID)
	}
	if filter.ParentTaskID != "" {
		q.WriteString(" AND parent_task_id=?")
		args = append(args, filter.ParentTaskID)
	}
	if filter.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*filter.Status))
	}
	q.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ExternalService, "list tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ExternalService, "scan task row")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ExternalService, "iterate task rows")
	}
	return tasks, nil
}

// Transition atomically moves a task from one of the expected statuses
// to the target status, writing the update's columns in the same
// statement. Zero affected rows means either the task does not exist or
// its current status was not in the expected set.
func (s *SQLiteStore) Transition(ctx context.Context, id string, from []Status, to Status, update TransitionUpdate) error {
	var set strings.Builder
	set.WriteString("status=?")
	args := []any{string(to)}

	now := time.Now().UTC()
	if update.SetStartedAt {
		set.WriteString(", started_at=?")
		args = append(args, now)
	}
	if update.SetCompletedAt {
		set.WriteString(", completed_at=?")
		args = append(args, now)
	}
	if update.OutputData != nil {
		output, err := json.Marshal(update.OutputData)
		if err != nil {
			return errors.Wrap(err, errors.InvalidInput, "encode output_data")
		}
		set.WriteString(", output_data=?")
		args = append(args, string(output))
	}
	if update.ErrorMessage != "" {
		set.WriteString(", error_message=?")
		args = append(args, update.ErrorMessage)
	}
	if update.ErrorStack != "" {
		set.WriteString(", error_stack=?")
		args = append(args, update.ErrorStack)
	}
	if update.TokensUsed > 0 {
		set.WriteString(", tokens_used=tokens_used+?")
		args = append(args, update.TokensUsed)
	}
	if update.CostEstimate > 0 {
		set.WriteString(", cost_estimate=cost_estimate+?")
		args = append(args, update.CostEstimate)
	}

	args = append(args, id)
	placeholders := make([]string, len(from))
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id=? AND status IN (%s)",
		set.String(), strings.Join(placeholders, ","))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.ExternalService, "transition task"),
			errors.Fields{"task_id": id, "to": string(to)})
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.ExternalService, "transition task")
	}
	if affected == 0 {
		return s.transitionConflict(ctx, id, from, to)
	}
	return nil
}

// transitionConflict distinguishes a missing task from an invalid state.
func (s *SQLiteStore) transitionConflict(ctx context.Context, id string, from []Status, to Status) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	expected := make([]string, len(from))
	for i, st := range from {
		expected[i] = string(st)
	}
	return errors.WithFields(
		errors.New(errors.InvalidState, "invalid status transition"),
		errors.Fields{
			"task_id":  id,
			"current":  string(current.Status),
			"expected": strings.Join(expected, "|"),
			"target":   string(to),
		})
}

// ThreadInput merges new keys into a task's input_data, but only while
// the task is still pending. Threading never touches started or
// finished tasks, and never drops keys the task already carries.
func (s *SQLiteStore) ThreadInput(ctx context.Context, id string, input map[string]interface{}) error {
	encoded, err := json.Marshal(input)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "encode input_data")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET input_data=json_patch(input_data, ?) WHERE id=? AND status=?`,
		string(encoded), id, string(StatusPending))
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.ExternalService, "thread task input"),
			errors.Fields{"task_id": id})
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.ExternalService, "thread task input")
	}
	if affected == 0 {
		return s.transitionConflict(ctx, id, []Status{StatusPending}, StatusPending)
	}
	return nil
}

// DeleteTerminalBefore bulk-deletes tasks in a terminal status whose
// completion (or creation, for never-started failures) predates cutoff.
// Pending and in-progress tasks are never deleted regardless of age.
func (s *SQLiteStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN (?,?,?)
		  AND COALESCE(completed_at, created_at) < ?`,
		string(StatusCompleted), string(StatusFailed), string(StatusCancelled),
		cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, errors.ExternalService, "cleanup tasks")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, errors.ExternalService, "cleanup tasks")
	}
	return affected, nil
}

const taskColumns = `id, project_id, task_type, agent_type, status, input_data,
	output_data, error_message, error_stack, parent_task_id,
	priority, retry_count, tokens_used, cost_estimate, ai_engine,
	created_at, started_at, completed_at`

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*Task, error) {
	var t Task
	var taskType, agentType, status, inputJSON string
	var outputJSON sql.NullString
	var startedAt, completedAt sql.NullTime

	err := sc.Scan(
		&t.ID, &t.ProjectID, &taskType, &agentType, &status, &inputJSON,
		&outputJSON, &t.ErrorMessage, &t.ErrorStack, &t.ParentTaskID,
		&t.Metadata.Priority, &t.Metadata.RetryCount, &t.Metadata.TokensUsed,
		&t.Metadata.CostEstimate, &t.Metadata.AIEngine,
		&t.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.TaskType = Type(taskType)
	t.AgentType = AgentType(agentType)
	t.Status = Status(status)

	_ = json.Unmarshal([]byte(inputJSON), &t.InputData)
	if outputJSON.Valid {
		_ = json.Unmarshal([]byte(outputJSON.String), &t.OutputData)
	}
	if startedAt.Valid {
		st := startedAt.Time
		t.StartedAt = &st
	}
	if completedAt.Valid {
		ct := completedAt.Time
		t.CompletedAt = &ct
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
