package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldUDID identifies the device a log line concerns.
	FieldUDID = "udid"
	// FieldDeviceIP is the client address the device was resolved from.
	FieldDeviceIP = "device_ip"
	// FieldBundleID is the application bundle identifier of a launch request.
	FieldBundleID = "bundle_id"
	// FieldOrdinal is the launch queue row identifier.
	FieldOrdinal = "ordinal"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	FieldEventType     = "event_type"
	FieldErrorHint     = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	udidKey      contextKey = "udid"
)

// WithRequestID attaches a correlation identifier to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the correlation identifier stored in ctx.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// WithUDID attaches the device identifier a request resolved to.
func WithUDID(ctx context.Context, udid string) context.Context {
	udid = strings.TrimSpace(udid)
	if udid == "" {
		return ctx
	}
	return context.WithValue(ctx, udidKey, udid)
}

// UDIDFromContext returns the device identifier stored in ctx.
func UDIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	udid, ok := ctx.Value(udidKey).(string)
	return udid, ok && udid != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if rid, ok := RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	if udid, ok := UDIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldUDID, udid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(args(fields)...)
}
