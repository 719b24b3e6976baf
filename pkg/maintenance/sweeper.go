// Package maintenance runs periodic housekeeping: pruning terminal
// tasks and rotating stale low-value memories across projects.
package maintenance

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/refinelabs/refinery/pkg/logging"
	"github.com/refinelabs/refinery/pkg/memory"
	"github.com/refinelabs/refinery/pkg/task"
)

// Config tunes a sweep.
type Config struct {
	TaskRetentionDays   int
	MemoryRetentionDays int
	// MaxConcurrent bounds the number of projects swept in parallel.
	MaxConcurrent int
}

func (c *Config) applyDefaults() {
	if c.TaskRetentionDays < 1 {
		c.TaskRetentionDays = 30
	}
	if c.MemoryRetentionDays < 1 {
		c.MemoryRetentionDays = 30
	}
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 4
	}
}

// ProjectReport is the outcome of one project's sweep.
type ProjectReport struct {
	ProjectID       string
	MemoriesDeleted int64
	Err             error
}

// Report aggregates a full sweep.
type Report struct {
	TasksDeleted int64
	Projects     []ProjectReport
}

// Failed returns the reports of projects whose sweep failed.
func (r *Report) Failed() []ProjectReport {
	var out []ProjectReport
	for _, p := range r.Projects {
		if p.Err != nil {
			out = append(out, p)
		}
	}
	return out
}

// Sweeper runs cleanup across a set of projects.
type Sweeper struct {
	tasks    *task.Manager
	memories *memory.Store
	cfg      Config
	log      *logging.ComponentLogger
}

// NewSweeper creates a sweeper.
func NewSweeper(tasks *task.Manager, memories *memory.Store, cfg Config, logger *logging.Logger) *Sweeper {
	cfg.applyDefaults()
	return &Sweeper{
		tasks:    tasks,
		memories: memories,
		cfg:      cfg,
		log:      logger.WithComponent("maintenance"),
	}
}

// Sweep prunes old terminal tasks, then cleans stale memories for each
// project concurrently. A failure in one project never aborts the
// others; per-project errors are collected on the report.
func (s *Sweeper) Sweep(ctx context.Context, projectIDs []string) (*Report, error) {
	report := &Report{}

	tasksDeleted, err := s.tasks.CleanupCompletedTasks(ctx, s.cfg.TaskRetentionDays)
	if err != nil {
		return nil, err
	}
	report.TasksDeleted = tasksDeleted

	var mu sync.Mutex
	p := pool.New().WithContext(ctx).WithMaxGoroutines(s.cfg.MaxConcurrent)
	for _, projectID := range projectIDs {
		projectID := projectID
		p.Go(func(ctx context.Context) error {
			deleted, err := s.memories.CleanupOldMemories(ctx, projectID, s.cfg.MemoryRetentionDays)
			mu.Lock()
			report.Projects = append(report.Projects, ProjectReport{
				ProjectID:       projectID,
				MemoriesDeleted: deleted,
				Err:             err,
			})
			mu.Unlock()
			if err != nil {
				s.log.Warn("memory cleanup failed for project %s: %v", projectID, err)
			}
			// Errors are reported per project, never returned to the
			// pool, so one bad project cannot cancel the rest.
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	s.log.Info("sweep finished: %d tasks pruned, %d projects cleaned, %d failures",
		report.TasksDeleted, len(report.Projects), len(report.Failed()))
	return report, nil
}
