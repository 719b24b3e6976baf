package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/refinelabs/refinery/pkg/errors"
	"github.com/refinelabs/refinery/pkg/logging"
	"github.com/refinelabs/refinery/pkg/memory"
	"github.com/refinelabs/refinery/pkg/task"
)

// stagePlans maps an execution mode to its ordered stage agents.
var stagePlans = map[task.Type][]task.AgentType{
	task.TypeScan:       {task.AgentScanner},
	task.TypeEnhance:    {task.AgentScanner, task.AgentImprover},
	task.TypeAddModules: {task.AgentScanner, task.AgentGenerator},
	task.TypeFull:       {task.AgentScanner, task.AgentImprover, task.AgentGenerator},
}

// threadKeys names the input_data key under which each stage's output
// is threaded into later stages.
var threadKeys = map[task.AgentType]string{
	task.AgentScanner:   "scan_results",
	task.AgentImprover:  "improvement_results",
	task.AgentGenerator: "generation_results",
}

// stageImportance weights the success memory recorded for each stage.
var stageImportance = map[task.AgentType]int{
	task.AgentScanner:   7,
	task.AgentImprover:  8,
	task.AgentGenerator: 8,
}

const workflowImportance = 9

// Config tunes orchestrator execution.
type Config struct {
	// StageTimeout bounds each stage dispatch individually, so a
	// timeout in stage 2 cannot erase the recorded success of stage 1.
	StageTimeout time.Duration
	// MaxRetryAttempts is the number of re-dispatches allowed per stage
	// after a transient gateway failure. State and validation errors
	// are never retried.
	MaxRetryAttempts int
}

func (c *Config) applyDefaults() {
	if c.StageTimeout <= 0 {
		c.StageTimeout = 5 * time.Minute
	}
	if c.MaxRetryAttempts < 0 {
		c.MaxRetryAttempts = 0
	}
}

// StageMetrics reports one stage's outcome.
type StageMetrics struct {
	TaskID       string
	AgentType    task.AgentType
	Status       task.Status
	TokensUsed   int
	CostEstimate float64
	Duration     time.Duration
}

// Result is the outcome of one workflow execution. A failed run still
// carries the metrics of every stage that ran before the failure.
type Result struct {
	WorkflowID   string
	ProjectID    string
	Mode         task.Type
	Stages       []StageMetrics
	TokensUsed   int
	CostEstimate float64
	Report       string

	// Set when the workflow failed.
	FailedAgent  task.AgentType
	ErrorMessage string
}

// Orchestrator builds and runs workflows on top of the task lifecycle
// manager and the memory store.
type Orchestrator struct {
	tasks    *task.Manager
	memories *memory.Store
	registry *Registry
	cfg      Config
	log      *logging.ComponentLogger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(tasks *task.Manager, memories *memory.Store, registry *Registry, cfg Config, logger *logging.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		tasks:    tasks,
		memories: memories,
		registry: registry,
		cfg:      cfg,
		log:      logger.WithComponent("workflow"),
	}
}

// Execute creates a workflow task for the given mode, runs its stages
// strictly in order with result threading, and returns the aggregated
// result. The first stage failure fails the whole workflow; remaining
// stages are never dispatched.
func (o *Orchestrator) Execute(ctx context.Context, projectID string, mode task.Type, input map[string]interface{}) (*Result, error) {
	plan, ok := stagePlans[mode]
	if !ok {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "unknown execution mode"),
			errors.Fields{"mode": string(mode)})
	}
	// Resolve every handler up front so a missing registration fails
	// before any durable state is created.
	for _, agent := range plan {
		if _, err := o.registry.HandlerFor(agent); err != nil {
			return nil, err
		}
	}

	wf, subIDs, err := o.createWorkflow(ctx, projectID, mode, plan, input)
	if err != nil {
		return nil, err
	}
	if err := o.tasks.StartTask(ctx, wf.ID); err != nil {
		return nil, err
	}
	o.log.Info("workflow %s started: mode=%s stages=%d", wf.ID, mode, len(subIDs))

	result := &Result{WorkflowID: wf.ID, ProjectID: projectID, Mode: mode}
	outputs := make(map[task.AgentType]map[string]interface{}, len(plan))

	for i, subID := range subIDs {
		agent := plan[i]
		metrics, output, stageErr := o.runStage(ctx, subID, agent)
		result.Stages = append(result.Stages, metrics)
		result.TokensUsed += metrics.TokensUsed
		result.CostEstimate += metrics.CostEstimate

		if stageErr != nil {
			return o.failWorkflow(ctx, result, agent, stageErr)
		}
		outputs[agent] = output

		if err := o.threadOutput(ctx, agent, output, subIDs[i+1:]); err != nil {
			return o.failWorkflow(ctx, result, agent, err)
		}
	}

	result.Report = buildReport(mode, outputs, result.TokensUsed, result.CostEstimate)
	aggregated := map[string]interface{}{
		"report":        result.Report,
		"stages":        len(result.Stages),
		"tokens_used":   result.TokensUsed,
		"cost_estimate": result.CostEstimate,
	}
	if err := o.tasks.CompleteTask(ctx, wf.ID, aggregated, result.TokensUsed, result.CostEstimate); err != nil {
		return nil, err
	}
	o.recordInsights(ctx, result, outputs)
	o.log.Usage(result.TokensUsed, result.CostEstimate, "workflow %s completed", wf.ID)
	return result, nil
}

// createWorkflow persists the workflow task and its sub-tasks, storing
// the ordered sub-task id list on the workflow before it starts.
func (o *Orchestrator) createWorkflow(ctx context.Context, projectID string, mode task.Type, plan []task.AgentType, input map[string]interface{}) (*task.Task, []string, error) {
	wf, err := o.tasks.CreateTask(ctx, task.CreateParams{
		ProjectID: projectID,
		TaskType:  mode,
		AgentType: task.AgentOrchestrator,
		InputData: input,
	})
	if err != nil {
		return nil, nil, err
	}

	subIDs := make([]string, 0, len(plan))
	for _, agent := range plan {
		sub, err := o.tasks.CreateTask(ctx, task.CreateParams{
			ProjectID:    projectID,
			TaskType:     mode,
			AgentType:    agent,
			InputData:    input,
			ParentTaskID: wf.ID,
		})
		if err != nil {
			return nil, nil, err
		}
		subIDs = append(subIDs, sub.ID)
	}

	if err := o.tasks.ThreadInput(ctx, wf.ID, map[string]interface{}{"sub_task_ids": subIDs}); err != nil {
		return nil, nil, err
	}
	return wf, subIDs, nil
}

// runStage starts a sub-task, dispatches it to its handler under the
// stage timeout, and records the outcome on the sub-task.
func (o *Orchestrator) runStage(ctx context.Context, subID string, agent task.AgentType) (StageMetrics, map[string]interface{}, error) {
	metrics := StageMetrics{TaskID: subID, AgentType: agent, Status: task.StatusFailed}

	if err := o.tasks.StartTask(ctx, subID); err != nil {
		return metrics, nil, err
	}
	// Reload after start so the handler sees all threaded input.
	sub, err := o.tasks.GetTask(ctx, subID)
	if err != nil {
		return metrics, nil, err
	}
	handler, err := o.registry.HandlerFor(agent)
	if err != nil {
		return metrics, nil, err
	}

	started := time.Now()
	res, stageErr := o.dispatch(ctx, handler, sub)
	metrics.Duration = time.Since(started)

	if stageErr != nil {
		if failErr := o.tasks.FailTask(ctx, subID, stageErr.Error(), ""); failErr != nil {
			o.log.Error("failed to record stage failure on task %s: %v", subID, failErr)
		}
		return metrics, nil, stageErr
	}

	metrics.TokensUsed = res.TokensUsed
	metrics.CostEstimate = res.CostEstimate
	if err := o.tasks.CompleteTask(ctx, subID, res.Output, res.TokensUsed, res.CostEstimate); err != nil {
		return metrics, nil, err
	}
	metrics.Status = task.StatusCompleted
	o.log.Debug("stage %s (%s) completed in %s", subID, agent, metrics.Duration)
	return metrics, res.Output, nil
}

// dispatch runs the handler under the per-stage timeout, retrying only
// transient gateway failures.
func (o *Orchestrator) dispatch(ctx context.Context, handler StageHandler, sub *task.Task) (*StageResult, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetryAttempts; attempt++ {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		res, err := handler.Execute(stageCtx, sub)
		cancel()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.HasCode(err, errors.ExternalService) || ctx.Err() != nil {
			break
		}
		if attempt < o.cfg.MaxRetryAttempts {
			o.log.Warn("stage %s attempt %d failed, retrying: %v", sub.ID, attempt+1, err)
		}
	}
	return nil, errors.WithFields(
		errors.Wrap(lastErr, errors.StageFailed, "stage execution failed"),
		errors.Fields{"agent_type": string(sub.AgentType), "task_id": sub.ID})
}

// threadOutput writes a completed stage's output into the input of
// every later sub-task. Only pending rows accept the update, so a
// stage never observes a torn input mid-execution.
func (o *Orchestrator) threadOutput(ctx context.Context, agent task.AgentType, output map[string]interface{}, laterIDs []string) error {
	if len(laterIDs) == 0 || len(output) == 0 {
		return nil
	}
	patch := map[string]interface{}{threadKeys[agent]: output}
	for _, id := range laterIDs {
		if err := o.tasks.ThreadInput(ctx, id, patch); err != nil {
			return err
		}
	}
	return nil
}

// failWorkflow records the failure on the workflow task and surfaces
// the stage error to the caller. Sub-tasks after the failing one are
// left pending, never dispatched.
func (o *Orchestrator) failWorkflow(ctx context.Context, result *Result, agent task.AgentType, stageErr error) (*Result, error) {
	result.FailedAgent = agent
	result.ErrorMessage = stageErr.Error()

	wrapped := errors.WithFields(
		errors.Wrap(stageErr, errors.WorkflowFailed, "workflow failed"),
		errors.Fields{"workflow_id": result.WorkflowID, "failed_agent": string(agent)})

	if err := o.tasks.FailTask(ctx, result.WorkflowID, stageErr.Error(), ""); err != nil {
		o.log.Error("failed to record workflow failure on %s: %v", result.WorkflowID, err)
	}
	o.log.Error("workflow %s failed at %s: %v", result.WorkflowID, agent, stageErr)
	return result, wrapped
}

// Cancel transitions the workflow and its unfinished sub-tasks to
// cancelled. Completed history is untouched.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID, reason string) error {
	subs, err := o.tasks.GetSubTasks(ctx, workflowID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.Status.Terminal() {
			continue
		}
		if err := o.tasks.CancelTask(ctx, sub.ID, reason); err != nil {
			return err
		}
	}
	return o.tasks.CancelTask(ctx, workflowID, reason)
}

// recordInsights writes success memories for the workflow and each
// stage. Memory failures are logged and swallowed: bookkeeping must
// never turn a successful workflow into a failed one.
func (o *Orchestrator) recordInsights(ctx context.Context, result *Result, outputs map[task.AgentType]map[string]interface{}) {
	store := func(content map[string]interface{}, importance int) {
		if _, err := o.memories.StoreMemory(ctx, result.ProjectID, memory.TypeSuccess, content, importance); err != nil {
			o.log.Warn("failed to record workflow insight: %v", err)
		}
	}

	store(map[string]interface{}{
		"summary": fmt.Sprintf("%s workflow completed with %d stages", result.Mode, len(result.Stages)),
		"metrics": map[string]interface{}{
			"workflow_id":   result.WorkflowID,
			"tokens_used":   result.TokensUsed,
			"cost_estimate": result.CostEstimate,
		},
	}, workflowImportance)

	for _, stage := range result.Stages {
		store(map[string]interface{}{
			"summary": fmt.Sprintf("%s stage succeeded for %s workflow", stage.AgentType, result.Mode),
			"metrics": map[string]interface{}{
				"task_id":     stage.TaskID,
				"tokens_used": stage.TokensUsed,
				"duration_ms": stage.Duration.Milliseconds(),
				"output_keys": len(outputs[stage.AgentType]),
			},
		}, stageImportance[stage.AgentType])
	}
}
