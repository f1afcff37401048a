package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyJobID     contextKey = "job_id"
	ContextKeyWorkerID  contextKey = "worker_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithJobID adds the job being processed to the context
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// JobIDFromContext extracts the job ID from context
func JobIDFromContext(ctx context.Context) string {
	if jobID, ok := ctx.Value(ContextKeyJobID).(string); ok {
		return jobID
	}
	return ""
}

// WithWorkerID adds the worker identity to the context
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, ContextKeyWorkerID, workerID)
}

// WorkerIDFromContext extracts the worker ID from context
func WorkerIDFromContext(ctx context.Context) string {
	if workerID, ok := ctx.Value(ContextKeyWorkerID).(string); ok {
		return workerID
	}
	return ""
}

// LoggerFromContext decorates logger with the job and worker ids carried by ctx.
func LoggerFromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id := JobIDFromContext(ctx); id != "" {
		logger = logger.With("job_id", id)
	}
	if id := WorkerIDFromContext(ctx); id != "" {
		logger = logger.With("worker_id", id)
	}
	return logger
}
