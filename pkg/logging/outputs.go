package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// ConsoleOutput formats entries for human readability.
type ConsoleOutput struct {
	mu     sync.Mutex
	writer io.Writer
	color  bool
}

type ConsoleOutputOption func(*ConsoleOutput)

func WithColor(enabled bool) ConsoleOutputOption {
	return func(c *ConsoleOutput) {
		c.color = enabled
	}
}

func NewConsoleOutput(useStderr bool, opts ...ConsoleOutputOption) *ConsoleOutput {
	writer := os.Stdout
	if useStderr {
		writer = os.Stderr
	}

	c := &ConsoleOutput{
		writer: writer,
		color:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func severityColor(s Severity) string {
	switch s {
	case DEBUG:
		return "\033[37m"
	case INFO:
		return "\033[32m"
	case WARN:
		return "\033[33m"
	case ERROR:
		return "\033[31m"
	case FATAL:
		return "\033[35m"
	default:
		return ""
	}
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result string
	for _, k := range keys {
		str := fmt.Sprintf("%v", fields[k])
		if len(str) > 100 {
			str = str[:97] + "..."
		}
		result += fmt.Sprintf("%s=%q ", k, str)
	}
	return result
}

func (o *ConsoleOutput) Write(e Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	timestamp := time.Unix(0, e.Time).Format("2006-01-02 15:04:05.000")

	var levelColor, resetColor string
	if o.color {
		levelColor = severityColor(e.Severity)
		resetColor = "\033[0m"
	}

	line := fmt.Sprintf("%s %s%-5s%s [%s] %s",
		timestamp,
		levelColor,
		e.Severity,
		resetColor,
		e.Component,
		e.Message,
	)

	if e.TokensUsed > 0 {
		line += fmt.Sprintf(" [tokens=%d cost=%.4f]", e.TokensUsed, e.Cost)
	}
	if len(e.Fields) > 0 {
		line += " " + formatFields(e.Fields)
	}
	if e.ErrorStack != "" {
		line += "\n  " + e.ErrorStack
	}

	_, err := fmt.Fprintln(o.writer, line)
	return err
}

func (o *ConsoleOutput) Sync() error {
	if syncer, ok := o.writer.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

func (o *ConsoleOutput) Close() error {
	if closer, ok := o.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// FileOutput appends entries to a file as JSON lines.
type FileOutput struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileOutput(path string) (*FileOutput, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return &FileOutput{file: f}, nil
}

type fileEntry struct {
	Time       string                 `json:"time"`
	Severity   string                 `json:"severity"`
	Component  string                 `json:"component"`
	Message    string                 `json:"message"`
	ErrorStack string                 `json:"error_stack,omitempty"`
	TokensUsed int                    `json:"tokens_used,omitempty"`
	Cost       float64                `json:"cost,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

func (o *FileOutput) Write(e Entry) error {
	record := fileEntry{
		Time:       time.Unix(0, e.Time).UTC().Format(time.RFC3339Nano),
		Severity:   e.Severity.String(),
		Component:  e.Component,
		Message:    e.Message,
		ErrorStack: e.ErrorStack,
		TokensUsed: e.TokensUsed,
		Cost:       e.Cost,
		Fields:     e.Fields,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	_, err = o.file.Write(append(data, '\n'))
	return err
}

func (o *FileOutput) Sync() error {
	return o.file.Sync()
}

func (o *FileOutput) Close() error {
	return o.file.Close()
}
