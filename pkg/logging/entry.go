package logging

// Entry is a structured log record produced by a workflow component.
type Entry struct {
	// Standard fields
	Time      int64
	Severity  Severity
	Component string
	Message   string

	// ErrorStack carries a rendered stack or cause chain for failures.
	ErrorStack string

	// AI usage accounting, populated by orchestration code.
	TokensUsed int
	Cost       float64

	// General structured data
	Fields map[string]interface{}
}
