package logger

import "context"

type contextKey string

// Context keys carried into every log record by ContextHandler.
const (
	ContextKeyTask      contextKey = "task"
	ContextKeyWorkflow  contextKey = "workflow"
	ContextKeyDocument  contextKey = "document"
	ContextKeyStep      contextKey = "step"
	ContextKeySessionID contextKey = "session_id"
	ContextKeyRequestID contextKey = "request_id"
)

var allContextKeys = []contextKey{
	ContextKeyTask,
	ContextKeyWorkflow,
	ContextKeyDocument,
	ContextKeyStep,
	ContextKeySessionID,
	ContextKeyRequestID,
}

// WithTask returns a context carrying the task name.
func WithTask(ctx context.Context, task string) context.Context {
	return context.WithValue(ctx, ContextKeyTask, task)
}

// WithWorkflow returns a context carrying the workflow name.
func WithWorkflow(ctx context.Context, workflow string) context.Context {
	return context.WithValue(ctx, ContextKeyWorkflow, workflow)
}

// WithDocument returns a context carrying a document identifier.
func WithDocument(ctx context.Context, docID string) context.Context {
	return context.WithValue(ctx, ContextKeyDocument, docID)
}

// WithStep returns a context carrying the step being processed.
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, ContextKeyStep, step)
}

// WithSessionID returns a context carrying the session ID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithRequestID returns a context carrying a backend request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// LoggingFields holds the standard context fields.
type LoggingFields struct {
	Task      string
	Workflow  string
	Document  string
	Step      string
	SessionID string
	RequestID string
}

// WithLoggingContext sets every non-empty field of fields on ctx.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	set := func(key contextKey, v string) {
		if v != "" {
			ctx = context.WithValue(ctx, key, v)
		}
	}
	set(ContextKeyTask, fields.Task)
	set(ContextKeyWorkflow, fields.Workflow)
	set(ContextKeyDocument, fields.Document)
	set(ContextKeyStep, fields.Step)
	set(ContextKeySessionID, fields.SessionID)
	set(ContextKeyRequestID, fields.RequestID)
	return ctx
}

// ExtractLoggingFields reads the standard fields back out of ctx.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	get := func(key contextKey) string {
		s, _ := ctx.Value(key).(string)
		return s
	}
	return LoggingFields{
		Task:      get(ContextKeyTask),
		Workflow:  get(ContextKeyWorkflow),
		Document:  get(ContextKeyDocument),
		Step:      get(ContextKeyStep),
		SessionID: get(ContextKeySessionID),
		RequestID: get(ContextKeyRequestID),
	}
}
