package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
// Use these constants instead of raw strings.
const (
	// Identity
	FieldExecutionID   = "execution_id"
	FieldCorrelationID = "correlation_id"
	FieldScheduleID    = "schedule_id"
	FieldDeviceID      = "device_id"
	FieldCredentialID  = "credential_id"
	FieldTagID         = "tag_id"
	FieldUserID        = "user_id"

	FieldComponent = "component"
	FieldJobKind   = "job_kind"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldNextRun    = "next_run"
	FieldBackoff    = "backoff"

	// Errors
	FieldError      = "error"
	FieldErrorClass = "error_class"

	// Counts
	FieldCount   = "count"
	FieldAttempt = "attempt"
	FieldSize    = "size"

	FieldStatus = "status"

	// Network
	FieldHost = "host"
	FieldPort = "port"
)

type contextKey string

const (
	executionIDKey contextKey = "logger_execution_id"
	deviceIDKey    contextKey = "logger_device_id"
	componentKey   contextKey = "logger_component"
)

// WithExecutionID adds an execution ID to the context for logging
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// WithDeviceID adds a device ID to the context for logging
func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceIDKey, id)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context as key-value pairs
// suitable for Infow/Errorw.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}
	if id, ok := ctx.Value(executionIDKey).(string); ok && id != "" {
		fields = append(fields, FieldExecutionID, id)
	}
	if id, ok := ctx.Value(deviceIDKey).(string); ok && id != "" {
		fields = append(fields, FieldDeviceID, id)
	}
	if c, ok := ctx.Value(componentKey).(string); ok && c != "" {
		fields = append(fields, FieldComponent, c)
	}
	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	base = OrNop(base)
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// Component returns a named child of base for dependency injection.
//
//	pool := async.NewWorkerPool(cfg, logger.Component(root, "pulse.worker"))
func Component(base *zap.SugaredLogger, name string) *zap.SugaredLogger {
	return OrNop(base).Named(name)
}
