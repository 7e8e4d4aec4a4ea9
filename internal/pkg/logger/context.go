package logger

import (
	"context"

	"go.uber.org/zap"
)

// Context keys
type contextKey string

const (
	dongleIDKey contextKey = "dongle_id"
	driveIDKey  contextKey = "drive_identifier"
)

// WithContext returns a logger with fields from context
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	fields := make([]zap.Field, 0, 2)

	// Add device identifier if present
	if dongleID, ok := ctx.Value(dongleIDKey).(string); ok && dongleID != "" {
		fields = append(fields, zap.String("dongle_id", dongleID))
	}

	// Add drive identifier if present
	if driveID, ok := ctx.Value(driveIDKey).(string); ok && driveID != "" {
		fields = append(fields, zap.String("drive_identifier", driveID))
	}

	if len(fields) == 0 {
		return l
	}

	return l.With(fields...)
}

// WithDongleID adds a device identifier to context
func WithDongleID(ctx context.Context, dongleID string) context.Context {
	return context.WithValue(ctx, dongleIDKey, dongleID)
}

// WithDriveIdentifier adds a drive identifier to context
func WithDriveIdentifier(ctx context.Context, driveID string) context.Context {
	return context.WithValue(ctx, driveIDKey, driveID)
}
