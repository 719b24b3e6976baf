package logging

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput records entries for assertions.
type captureOutput struct {
	mu      sync.Mutex
	entries []Entry
	fail    bool
}

func (c *captureOutput) Write(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return fmt.Errorf("sink unavailable")
	}
	c.entries = append(c.entries, e)
	return nil
}

func (c *captureOutput) Sync() error  { return nil }
func (c *captureOutput) Close() error { return nil }

func (c *captureOutput) all() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

func TestLoggerSeverityFilter(t *testing.T) {
	sink := &captureOutput{}
	logger := NewLogger(Config{Severity: WARN, Outputs: []Output{sink}})

	logger.Debug("core", "debug message")
	logger.Info("core", "info message")
	logger.Warn("core", "warn message")
	logger.Error("core", "error message")

	entries := sink.all()
	require.Len(t, entries, 2)
	assert.Equal(t, WARN, entries[0].Severity)
	assert.Equal(t, ERROR, entries[1].Severity)
}

func TestComponentLogger(t *testing.T) {
	sink := &captureOutput{}
	logger := NewLogger(Config{Severity: DEBUG, Outputs: []Output{sink}})
	wf := logger.WithComponent("workflow")

	wf.Info("starting workflow %s", "wf-1")
	wf.WithFields(INFO, "stage complete", map[string]interface{}{"stage": "scan"})
	wf.Failure("stage failed", fmt.Errorf("boom"))

	entries := sink.all()
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "workflow", e.Component)
	}
	assert.Equal(t, "starting workflow wf-1", entries[0].Message)
	assert.Equal(t, "scan", entries[1].Fields["stage"])
	assert.Equal(t, "boom", entries[2].ErrorStack)
}

func TestUsageEntryAccounting(t *testing.T) {
	sink := &captureOutput{}
	logger := NewLogger(Config{
		Severity:      INFO,
		Outputs:       []Output{sink},
		DefaultFields: map[string]interface{}{"service": "refinery"},
	})

	wf := logger.WithComponent("workflow")
	wf.Usage(4096, 0.0315, "workflow %s completed", "wf-1")

	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, INFO, entries[0].Severity)
	assert.Equal(t, "workflow", entries[0].Component)
	assert.Equal(t, "workflow wf-1 completed", entries[0].Message)
	assert.Equal(t, 4096, entries[0].TokensUsed)
	assert.Equal(t, 0.0315, entries[0].Cost)
	assert.Equal(t, "refinery", entries[0].Fields["service"])
}

func TestUsageRespectsSeverityFilter(t *testing.T) {
	sink := &captureOutput{}
	logger := NewLogger(Config{Severity: ERROR, Outputs: []Output{sink}})

	logger.WithComponent("workflow").Usage(10, 0.01, "should be filtered")

	assert.Empty(t, sink.all())
}

func TestDroppedCounterOnWriteFailure(t *testing.T) {
	sink := &captureOutput{fail: true}
	logger := NewLogger(Config{Severity: INFO, Outputs: []Output{sink}})

	assert.Zero(t, logger.Dropped())

	// Log calls must not return or propagate the sink failure.
	logger.Info("core", "one")
	logger.Error("core", "two")

	assert.Equal(t, uint64(2), logger.Dropped())
}

func TestDefaultFieldsApplied(t *testing.T) {
	sink := &captureOutput{}
	logger := NewLogger(Config{
		Severity:      INFO,
		Outputs:       []Output{sink},
		DefaultFields: map[string]interface{}{"service": "refinery"},
	})

	logger.WithComponent("memory").WithFields(INFO, "stored", map[string]interface{}{"project": "p1"})

	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "refinery", entries[0].Fields["service"])
	assert.Equal(t, "p1", entries[0].Fields["project"])
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, DEBUG, ParseSeverity("debug"))
	assert.Equal(t, WARN, ParseSeverity("Warning"))
	assert.Equal(t, ERROR, ParseSeverity(" ERROR "))
	assert.Equal(t, INFO, ParseSeverity("nonsense"))
}

func TestConsoleOutputFormatting(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(false, WithColor(false))
	out.writer = &buf

	err := out.Write(Entry{
		Severity:   INFO,
		Component:  "task",
		Message:    "task started",
		TokensUsed: 120,
		Cost:       0.0021,
		Fields:     map[string]interface{}{"task_id": "t-1"},
	})
	require.NoError(t, err)

	line := buf.String()
	assert.Contains(t, line, "[task]")
	assert.Contains(t, line, "task started")
	assert.Contains(t, line, "tokens=120")
	assert.Contains(t, line, `task_id="t-1"`)
}
