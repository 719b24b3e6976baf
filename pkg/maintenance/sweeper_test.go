package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refinelabs/refinery/pkg/logging"
	"github.com/refinelabs/refinery/pkg/memory"
	"github.com/refinelabs/refinery/pkg/storage"
	"github.com/refinelabs/refinery/pkg/task"
)

func newTestSweeper(t *testing.T) (*Sweeper, *task.Manager, memory.Repository) {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logging.NewLogger(logging.Config{Severity: logging.FATAL})

	store, err := task.NewSQLiteStore(db)
	require.NoError(t, err)
	repo, err := memory.NewSQLiteRepository(db, logger)
	require.NoError(t, err)

	tasks := task.NewManager(store, logger)
	memories := memory.NewStore(repo, logger, memory.StoreConfig{AccessThreshold: 2})
	return NewSweeper(tasks, memories, Config{}, logger), tasks, repo
}

func seedStaleMemory(t *testing.T, repo memory.Repository, projectID, id string) {
	t.Helper()
	old := time.Now().UTC().AddDate(0, 0, -90)
	require.NoError(t, repo.Insert(context.Background(), &memory.Memory{
		ID:              id,
		ProjectID:       projectID,
		MemoryType:      memory.TypeInsight,
		Content:         map[string]interface{}{"text": "stale"},
		ImportanceScore: 2,
		CreatedAt:       old,
		LastAccessed:    old,
	}))
}

func TestSweepCleansAllProjects(t *testing.T) {
	sweeper, _, repo := newTestSweeper(t)
	ctx := context.Background()

	seedStaleMemory(t, repo, "alpha", "a1")
	seedStaleMemory(t, repo, "alpha", "a2")
	seedStaleMemory(t, repo, "beta", "b1")

	report, err := sweeper.Sweep(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)

	require.Len(t, report.Projects, 3)
	assert.Empty(t, report.Failed())

	deleted := make(map[string]int64, 3)
	for _, p := range report.Projects {
		deleted[p.ProjectID] = p.MemoriesDeleted
	}
	assert.Equal(t, int64(2), deleted["alpha"])
	assert.Equal(t, int64(1), deleted["beta"])
	assert.Equal(t, int64(0), deleted["gamma"])
}

func TestSweepPrunesOldTerminalTasks(t *testing.T) {
	sweeper, tasks, _ := newTestSweeper(t)
	ctx := context.Background()

	created, err := tasks.CreateTask(ctx, task.CreateParams{
		ProjectID: "proj", TaskType: task.TypeScan, AgentType: task.AgentScanner,
	})
	require.NoError(t, err)
	require.NoError(t, tasks.StartTask(ctx, created.ID))
	require.NoError(t, tasks.CompleteTask(ctx, created.ID, nil, 0, 0))

	// Fresh terminal tasks survive the default retention window.
	report, err := sweeper.Sweep(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, report.TasksDeleted)

	_, err = tasks.GetTask(ctx, created.ID)
	assert.NoError(t, err)
}

func TestSweepCollectsPerProjectErrors(t *testing.T) {
	sweeper, _, repo := newTestSweeper(t)
	ctx := context.Background()

	seedStaleMemory(t, repo, "good", "g1")

	// An empty project id fails validation inside cleanup but must not
	// prevent the healthy project from being swept.
	report, err := sweeper.Sweep(ctx, []string{"", "good"})
	require.NoError(t, err)

	require.Len(t, report.Projects, 2)
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "", report.Failed()[0].ProjectID)

	for _, p := range report.Projects {
		if p.ProjectID == "good" {
			assert.NoError(t, p.Err)
			assert.Equal(t, int64(1), p.MemoriesDeleted)
		}
	}
}
