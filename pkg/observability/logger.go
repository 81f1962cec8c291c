package observability

import (
	"context"
	"time"
)

type SanitizerFunc func(key string, value any) any

// LogEntry represents a structured log entry.
//
// This type is intentionally small and stable so implementations can adapt it to their backend.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`

	RunID string `json:"run_id,omitempty"`
	Route string `json:"route,omitempty"`
	Step  string `json:"step,omitempty"`
}

// StructuredLogger is the logging surface threaded through a provisioning run.
// There is no package-level logger; callers pass one explicitly.
type StructuredLogger interface {
	Debug(message string, fields ...map[string]any)
	Info(message string, fields ...map[string]any)
	Warn(message string, fields ...map[string]any)
	Error(message string, fields ...map[string]any)

	WithField(key string, value any) StructuredLogger
	WithFields(fields map[string]any) StructuredLogger

	// WithRunID scopes entries to one provisioning run.
	WithRunID(runID string) StructuredLogger
	WithRoute(route string) StructuredLogger
	WithStep(step string) StructuredLogger

	Flush(ctx context.Context) error
	Close() error
	IsHealthy() bool
	GetStats() LoggerStats
}

type LoggerStats struct {
	LastFlush     time.Time     `json:"last_flush"`
	LastError     string        `json:"last_error,omitempty"`
	EntriesLogged int64         `json:"entries_logged"`
	FlushCount    int64         `json:"flush_count"`
	ErrorCount    int64         `json:"error_count"`
	AverageFlush  time.Duration `json:"average_flush_time"`
}

// LoggerConfig configures logger implementations.
type LoggerConfig struct {
	Format       string `json:"format"`
	Level        string `json:"level"`
	EnableStack  bool   `json:"enable_stack"`
	EnableCaller bool   `json:"enable_caller"`
}

type LoggerFactory interface {
	CreateConsoleLogger(config LoggerConfig) (StructuredLogger, error)
	CreateTestLogger() StructuredLogger
	CreateNoOpLogger() StructuredLogger
}

// OrNoOp returns logger, or a no-op logger when it is nil.
func OrNoOp(logger StructuredLogger) StructuredLogger {
	if logger == nil {
		return NewNoOpLogger()
	}
	return logger
}
