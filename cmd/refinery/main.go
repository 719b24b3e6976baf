// Command refinery runs one improvement workflow against a project and
// prints the resulting report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/refinelabs/refinery/pkg/config"
	"github.com/refinelabs/refinery/pkg/llm"
	"github.com/refinelabs/refinery/pkg/logging"
	"github.com/refinelabs/refinery/pkg/maintenance"
	"github.com/refinelabs/refinery/pkg/memory"
	"github.com/refinelabs/refinery/pkg/storage"
	"github.com/refinelabs/refinery/pkg/task"
	"github.com/refinelabs/refinery/pkg/workflow"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the YAML config file (defaults apply when empty)")
		project    = flag.String("project", "", "project id to run against (required)")
		mode       = flag.String("mode", "full", "execution mode: scan | enhance | add_modules | full")
		path       = flag.String("path", ".", "project source path handed to the scan stage")
		sweep      = flag.Bool("sweep", false, "run retention cleanup for the project instead of a workflow")
	)
	flag.Parse()

	if err := run(*configPath, *project, *mode, *path, *sweep); err != nil {
		fmt.Fprintf(os.Stderr, "refinery: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, project, mode, path string, sweep bool) error {
	if project == "" {
		return fmt.Errorf("-project is required")
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	logging.SetLogger(logger)

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	taskStore, err := task.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	tasks := task.NewManager(taskStore, logger)

	repo, err := memory.NewSQLiteRepository(db, logger)
	if err != nil {
		return err
	}
	memories := memory.NewStore(repo, logger, memory.StoreConfig{
		MaxCacheSize:    cfg.Memory.MaxCacheSize,
		AccessThreshold: cfg.Memory.AccessThreshold,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sweep {
		sweeper := maintenance.NewSweeper(tasks, memories, maintenance.Config{
			TaskRetentionDays:   cfg.Workflow.TaskRetentionDays,
			MemoryRetentionDays: cfg.Memory.RetentionDays,
		}, logger)
		report, err := sweeper.Sweep(ctx, []string{project})
		if err != nil {
			return err
		}
		fmt.Printf("swept %d tasks, %d projects (%d failed)\n",
			report.TasksDeleted, len(report.Projects), len(report.Failed()))
		return nil
	}

	gateway, err := buildGateway(cfg.LLM, logger)
	if err != nil {
		return err
	}

	registry := workflow.NewRegistry()
	registry.Register(task.AgentScanner, workflow.NewScannerHandler(gateway, memories))
	registry.Register(task.AgentImprover, workflow.NewImproverHandler(gateway, memories))
	registry.Register(task.AgentGenerator, workflow.NewGeneratorHandler(gateway, memories))

	orchestrator := workflow.NewOrchestrator(tasks, memories, registry, workflow.Config{
		StageTimeout:     cfg.Workflow.TaskTimeout,
		MaxRetryAttempts: cfg.Workflow.MaxRetryAttempts,
	}, logger)

	result, err := orchestrator.Execute(ctx, project, task.Type(mode),
		map[string]interface{}{"path": path})
	if err != nil {
		return err
	}

	fmt.Println(result.Report)
	return nil
}

func buildLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	outputs := []logging.Output{logging.NewConsoleOutput(true, logging.WithColor(true))}
	if cfg.File != "" {
		fileOut, err := logging.NewFileOutput(cfg.File)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, fileOut)
	}
	return logging.NewLogger(logging.Config{
		Severity: logging.ParseSeverity(cfg.Level),
		Outputs:  outputs,
	}), nil
}

// buildGateway picks the provider. Without an API key the mock gateway
// keeps the pipeline runnable offline.
func buildGateway(cfg config.LLMConfig, logger *logging.Logger) (llm.Gateway, error) {
	if cfg.Provider == "anthropic" && cfg.APIKey != "" {
		return llm.NewAnthropic(llm.AnthropicConfig{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		}, logger)
	}
	return llm.NewMock(), nil
}
