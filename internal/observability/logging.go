// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// CorrelationID is the context key carrying the per-operation correlation ID.
const CorrelationID LogContextKey = "correlation_id"

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// RequestLogger provides structured logging for backend API round trips.
type RequestLogger struct {
	component string
	logger    *Logger
}

// NewRequestLogger creates a RequestLogger for the given backend component
// ("rest", "auth", "storage", "rpc", "realtime").
func NewRequestLogger(component string) *RequestLogger {
	return &RequestLogger{
		component: component,
		logger:    GlobalLogger,
	}
}

// LogRequest logs a completed backend round trip.
func (l *RequestLogger) LogRequest(ctx context.Context, method, path string, status int, attempts int) {
	l.logger.InfoContext(ctx, "backend request",
		slog.String("component", l.component),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Int("attempts", attempts),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogError logs a failed backend round trip.
func (l *RequestLogger) LogError(ctx context.Context, method, path string, err error) {
	l.logger.ErrorContext(ctx, "backend request failed",
		slog.String("component", l.component),
		slog.String("method", method),
		slog.String("path", path),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// ServiceLogger provides structured logging for resource-service operations.
type ServiceLogger struct {
	service string
	logger  *Logger
}

// NewServiceLogger creates a ServiceLogger for the named service.
func NewServiceLogger(service string) *ServiceLogger {
	return &ServiceLogger{service: service, logger: GlobalLogger}
}

// LogCall logs a service method invocation.
func (l *ServiceLogger) LogCall(ctx context.Context, method string, fields map[string]any) {
	attrs := []any{
		slog.String("service", l.service),
		slog.String("method", method),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "service call", attrs...)
}

// LogPartialFailure logs a per-item enrichment failure that was degraded to a
// default value instead of failing the whole operation.
func (l *ServiceLogger) LogPartialFailure(ctx context.Context, method, itemID string, err error) {
	l.logger.WarnContext(ctx, "per-item enrichment failed, using fallback",
		slog.String("service", l.service),
		slog.String("method", method),
		slog.String("item_id", itemID),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogCompensation logs a compensating cleanup action (e.g. deleting uploaded
// storage objects after a failed record insert).
func (l *ServiceLogger) LogCompensation(ctx context.Context, method string, paths []string, err error) {
	attrs := []any{
		slog.String("service", l.service),
		slog.String("method", method),
		slog.Any("paths", paths),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.logger.ErrorContext(ctx, "compensating cleanup failed", attrs...)
		return
	}
	l.logger.WarnContext(ctx, "compensating cleanup performed", attrs...)
}

// LogOrphan logs storage objects left behind after a partial delete. The
// operation itself already succeeded; this must never be silent.
func (l *ServiceLogger) LogOrphan(ctx context.Context, method string, paths []string, err error) {
	l.logger.ErrorContext(ctx, "storage objects orphaned",
		slog.String("service", l.service),
		slog.String("method", method),
		slog.Any("paths", paths),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogError logs a service operation failure.
func (l *ServiceLogger) LogError(ctx context.Context, method string, err error) {
	l.logger.ErrorContext(ctx, "service error",
		slog.String("service", l.service),
		slog.String("method", method),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}
