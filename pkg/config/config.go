// Package config loads and validates refinery configuration. The
// resulting Config is constructed once at startup and passed into
// components explicitly; no component reads the environment on its own.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/refinelabs/refinery/pkg/errors"
)

// Config is the complete configuration for the refinery core.
type Config struct {
	Storage  StorageConfig  `yaml:"storage" validate:"required"`
	Memory   MemoryConfig   `yaml:"memory"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Logging  LoggingConfig  `yaml:"logging"`
	LLM      LLMConfig      `yaml:"llm"`
}

// StorageConfig locates the durable SQLite store.
type StorageConfig struct {
	// Path is the database file, or ":memory:" for tests.
	Path string `yaml:"path" validate:"required"`
}

// MemoryConfig tunes the memory store's cache and retention policy.
type MemoryConfig struct {
	// MaxCacheSize bounds the per-project cache entry count.
	MaxCacheSize int `yaml:"max_cache_size" validate:"gte=1"`

	// RetentionDays is the staleness window for retention cleanup.
	RetentionDays int `yaml:"retention_days" validate:"gte=1"`

	// AccessThreshold is the access_count at or below which a stale,
	// low-importance memory becomes eligible for cleanup.
	AccessThreshold int `yaml:"access_threshold" validate:"gte=0"`
}

// WorkflowConfig tunes orchestrator execution.
type WorkflowConfig struct {
	// TaskTimeout bounds each sub-task dispatch, not the whole workflow.
	TaskTimeout time.Duration `yaml:"task_timeout" validate:"gt=0"`

	// MaxRetryAttempts applies to retryable stage handlers.
	MaxRetryAttempts int `yaml:"max_retry_attempts" validate:"gte=0"`

	// TaskRetentionDays is the staleness window for terminal-task cleanup.
	TaskRetentionDays int `yaml:"task_retention_days" validate:"gte=1"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error fatal DEBUG INFO WARN ERROR FATAL"`
	File  string `yaml:"file"`
}

// LLMConfig configures the AI gateway.
type LLMConfig struct {
	Provider    string  `yaml:"provider" validate:"omitempty,oneof=anthropic mock"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Path: "refinery.db"},
		Memory: MemoryConfig{
			MaxCacheSize:    1000,
			RetentionDays:   30,
			AccessThreshold: 2,
		},
		Workflow: WorkflowConfig{
			TaskTimeout:       5 * time.Minute,
			MaxRetryAttempts:  3,
			TaskRetentionDays: 30,
		},
		Logging: LoggingConfig{Level: "info"},
		LLM: LLMConfig{
			Provider:    "mock",
			Model:       "claude-3-5-sonnet-20241022",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
	}
}

// Load reads a YAML configuration file, expands ${ENV} references,
// applies defaults for unset values, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "read config file"),
			errors.Fields{"path": path})
	}

	cfg := Default()
	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "parse config file"),
			errors.Fields{"path": path})
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values that Unmarshal may have cleared.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
	if c.Memory.MaxCacheSize == 0 {
		c.Memory.MaxCacheSize = def.Memory.MaxCacheSize
	}
	if c.Memory.RetentionDays == 0 {
		c.Memory.RetentionDays = def.Memory.RetentionDays
	}
	if c.Workflow.TaskTimeout == 0 {
		c.Workflow.TaskTimeout = def.Workflow.TaskTimeout
	}
	if c.Workflow.TaskRetentionDays == 0 {
		c.Workflow.TaskRetentionDays = def.Workflow.TaskRetentionDays
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = def.LLM.Provider
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, errors.ValidationFailed, "invalid configuration")
	}
	if c.LLM.Provider == "anthropic" && c.LLM.APIKey == "" {
		return errors.New(errors.ValidationFailed, "llm.api_key is required for the anthropic provider")
	}
	return nil
}
