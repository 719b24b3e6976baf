// Package logging provides fire-and-forget structured logging for the
// refinery core. Log calls never block workflow execution and never
// return errors; failed output writes are counted on an internal drop
// counter so operators can observe them.
package logging

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Output is a logging destination.
type Output interface {
	Write(Entry) error
	Sync() error
	Close() error
}

// Logger writes leveled, component-tagged entries to its outputs.
type Logger struct {
	mu        sync.Mutex
	severity  Severity
	component string
	outputs   []Output
	fields    map[string]interface{}
	dropped   atomic.Uint64
}

// Config configures a Logger.
type Config struct {
	Severity      Severity
	Component     string
	Outputs       []Output
	DefaultFields map[string]interface{}
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg Config) *Logger {
	return &Logger{
		severity:  cfg.Severity,
		component: cfg.Component,
		outputs:   cfg.Outputs,
		fields:    cfg.DefaultFields,
	}
}

// WithComponent returns a logger that tags entries with the given
// component name but shares outputs and the drop counter with l.
func (l *Logger) WithComponent(component string) *ComponentLogger {
	return &ComponentLogger{logger: l, component: component}
}

// Dropped reports how many entries failed to reach at least one output.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// log builds the entry and fans it out. Write failures are swallowed by
// contract; each failed output write bumps the drop counter.
func (l *Logger) log(s Severity, component, message string, fields map[string]interface{}, errorStack string) {
	if s < l.severity {
		return
	}
	if component == "" {
		component = l.component
	}

	entry := Entry{
		Time:       time.Now().UnixNano(),
		Severity:   s,
		Component:  component,
		Message:    message,
		ErrorStack: errorStack,
		Fields:     make(map[string]interface{}, len(l.fields)+len(fields)),
	}
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	for k, v := range fields {
		entry.Fields[k] = v
	}

	l.dispatch(entry)
}

// logUsage is log with token and cost accounting on the entry.
func (l *Logger) logUsage(s Severity, component, message string, tokensUsed int, cost float64) {
	if s < l.severity {
		return
	}
	if component == "" {
		component = l.component
	}

	entry := Entry{
		Time:       time.Now().UnixNano(),
		Severity:   s,
		Component:  component,
		Message:    message,
		TokensUsed: tokensUsed,
		Cost:       cost,
	}
	if len(l.fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(l.fields))
		for k, v := range l.fields {
			entry.Fields[k] = v
		}
	}

	l.dispatch(entry)
}

func (l *Logger) dispatch(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, out := range l.outputs {
		if err := out.Write(entry); err != nil {
			l.dropped.Add(1)
		}
	}
}

func (l *Logger) Debug(component, format string, args ...interface{}) {
	l.log(DEBUG, component, fmt.Sprintf(format, args...), nil, "")
}

func (l *Logger) Info(component, format string, args ...interface{}) {
	l.log(INFO, component, fmt.Sprintf(format, args...), nil, "")
}

func (l *Logger) Warn(component, format string, args ...interface{}) {
	l.log(WARN, component, fmt.Sprintf(format, args...), nil, "")
}

func (l *Logger) Error(component, format string, args ...interface{}) {
	l.log(ERROR, component, fmt.Sprintf(format, args...), nil, "")
}

// ComponentLogger is a component-scoped view over a shared Logger.
type ComponentLogger struct {
	logger    *Logger
	component string
}

func (c *ComponentLogger) Debug(format string, args ...interface{}) {
	c.logger.log(DEBUG, c.component, fmt.Sprintf(format, args...), nil, "")
}

func (c *ComponentLogger) Info(format string, args ...interface{}) {
	c.logger.log(INFO, c.component, fmt.Sprintf(format, args...), nil, "")
}

func (c *ComponentLogger) Warn(format string, args ...interface{}) {
	c.logger.log(WARN, c.component, fmt.Sprintf(format, args...), nil, "")
}

func (c *ComponentLogger) Error(format string, args ...interface{}) {
	c.logger.log(ERROR, c.component, fmt.Sprintf(format, args...), nil, "")
}

// Usage records an INFO entry carrying token and cost accounting, so
// outputs can surface spend alongside the message.
func (c *ComponentLogger) Usage(tokensUsed int, cost float64, format string, args ...interface{}) {
	c.logger.logUsage(INFO, c.component, fmt.Sprintf(format, args...), tokensUsed, cost)
}

// WithFields logs a single entry with structured data attached.
func (c *ComponentLogger) WithFields(s Severity, message string, fields map[string]interface{}) {
	c.logger.log(s, c.component, message, fields, "")
}

// Failure logs an error-level entry with a rendered error stack.
func (c *ComponentLogger) Failure(message string, err error) {
	stack := ""
	if err != nil {
		stack = err.Error()
	}
	c.logger.log(ERROR, c.component, message, nil, stack)
}

// GetLogger returns the global logger instance, creating a console
// logger at INFO on first use.
func GetLogger() *Logger {
	mu.RLock()
	if l := defaultLogger; l != nil {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(Config{
			Severity: INFO,
			Outputs:  []Output{NewConsoleOutput(true)},
		})
	}
	return defaultLogger
}

// SetLogger installs a custom configured logger as the global instance.
func SetLogger(l *Logger) {
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}
