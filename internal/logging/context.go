package logging

import (
	"context"

	"go.uber.org/zap"
)

type candidateCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 2)

	if id, ok := ctx.Value(candidateCtxKey{}).(int64); ok {
		fields = append(fields, zap.Int64("candidate.id", id))
	}
	if requestID, ok := ctx.Value(requestCtxKey{}).(string); ok && requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// WithCandidateID tags the context so every log line carries the candidate
// being worked on.
func WithCandidateID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, candidateCtxKey{}, id)
}

// WithRequestID adds a request correlation id to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
