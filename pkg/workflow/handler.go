// Package workflow runs improvement workflows: an ordered chain of
// stages (scan, improve, generate) executed as durable sub-tasks of a
// parent workflow task, with each stage's output threaded into the
// input of the stages that follow it.
package workflow

import (
	"context"
	"sync"

	"github.com/refinelabs/refinery/pkg/errors"
	"github.com/refinelabs/refinery/pkg/task"
)

// StageResult is what a handler returns for one completed stage.
type StageResult struct {
	Output       map[string]interface{}
	TokensUsed   int
	CostEstimate float64
}

// StageHandler executes one stage of a workflow. The handler reads its
// stage input from the sub-task's InputData, which already contains the
// threaded output of every previously completed stage.
type StageHandler interface {
	Execute(ctx context.Context, t *task.Task) (*StageResult, error)
}

// StageHandlerFunc adapts a function to StageHandler.
type StageHandlerFunc func(ctx context.Context, t *task.Task) (*StageResult, error)

func (f StageHandlerFunc) Execute(ctx context.Context, t *task.Task) (*StageResult, error) {
	return f(ctx, t)
}

// Registry maps agent types to their stage handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[task.AgentType]StageHandler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[task.AgentType]StageHandler)}
}

// Register binds a handler to an agent type, replacing any previous one.
func (r *Registry) Register(agent task.AgentType, h StageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[agent] = h
}

// HandlerFor returns the handler for an agent type.
func (r *Registry) HandlerFor(agent task.AgentType) (StageHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[agent]
	if !ok {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "no handler registered for agent type"),
			errors.Fields{"agent_type": string(agent)})
	}
	return h, nil
}
