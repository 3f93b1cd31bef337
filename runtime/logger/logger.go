// Package logger provides structured logging for the annotation engine.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Workflow step logging (start, finish, failure, rollback)
//   - Backend round-trip logging with redaction of document payloads
//   - Contextual logging with task, document and step fields
//   - Level-based verbosity control, globally or per module
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	outputMu  sync.Mutex
	logOutput io.Writer = os.Stderr

	// customHandler is set by SetLogger; Configure leaves it alone.
	customHandler slog.Handler
)

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		level = ParseLevel(envLevel)
	}
	initLoggerWithConfig(level, nil, nil, false)
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to info.
// "trace" is accepted and treated as debug.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetOutput redirects all subsequent log output. Nil restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	outputMu.Lock()
	logOutput = w
	outputMu.Unlock()
	initLoggerWithConfig(slog.LevelInfo, nil, globalModuleConfig, false)
}

// SetLogger installs a caller-supplied logger. Passing nil restores the default text logger.
func SetLogger(l *slog.Logger) {
	if l == nil {
		customHandler = nil
		initLoggerWithConfig(slog.LevelInfo, nil, nil, false)
		return
	}
	customHandler = l.Handler()
	DefaultLogger = l
}

// SetLevel changes the logging level for all subsequent log operations.
func SetLevel(level slog.Level) {
	initLoggerWithConfig(level, nil, nil, false)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// StepStarted logs the beginning of one or more workflow steps.
func StepStarted(ctx context.Context, steps []string, attrs ...any) {
	allAttrs := make([]any, 0, 2+len(attrs))
	allAttrs = append(allAttrs, "steps", strings.Join(steps, ","))
	allAttrs = append(allAttrs, attrs...)
	InfoContext(ctx, "step started", allAttrs...)
}

// StepFinished logs a completed step with its duration.
func StepFinished(ctx context.Context, step string, elapsed time.Duration, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"step", step,
		"duration_ms", elapsed.Milliseconds(),
	)
	allAttrs = append(allAttrs, attrs...)
	InfoContext(ctx, "step finished", allAttrs...)
}

// StepFailed logs a step failure. The step is the furthest step name known,
// or one of the reserved pseudo-steps.
func StepFailed(ctx context.Context, step string, err error, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"step", step,
		"error", err,
	)
	allAttrs = append(allAttrs, attrs...)
	ErrorContext(ctx, "step failed", allAttrs...)
}

// RollbackApplied logs the steps undone by a rollback, most recent first.
func RollbackApplied(ctx context.Context, target string, undone []string, virtual bool) {
	InfoContext(ctx, "rollback applied",
		"target", target,
		"undone", strings.Join(undone, ","),
		"virtual", virtual,
	)
}

// maxPayloadPreview bounds how much of a document payload is echoed at debug level.
const maxPayloadPreview = 256

// BackendRequest logs a backend operation at debug level. Document payloads can be
// large and contain sensitive text, so only a short preview is kept.
// This function is a no-op when debug logging is disabled.
func BackendRequest(ctx context.Context, operation, url string, fields map[string]string) {
	if !DefaultLogger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	redacted := make(map[string]string, len(fields))
	for k, v := range fields {
		redacted[k] = RedactPayload(v)
	}
	DebugContext(ctx, "backend request",
		"operation", operation,
		"url", url,
		"fields", redacted,
	)
}

// BackendResponse logs the outcome of a backend operation at debug level.
func BackendResponse(ctx context.Context, operation string, statusCode int, elapsed time.Duration, err error) {
	if err != nil {
		ErrorContext(ctx, "backend response error",
			"operation", operation,
			"status_code", statusCode,
			"error", err,
		)
		return
	}
	DebugContext(ctx, "backend response",
		"operation", operation,
		"status_code", statusCode,
		"duration_ms", elapsed.Milliseconds(),
	)
}

// RedactPayload truncates long values so signal text is not written in full to logs.
func RedactPayload(v string) string {
	if len(v) <= maxPayloadPreview {
		return v
	}
	return v[:maxPayloadPreview] + "...[truncated]"
}
