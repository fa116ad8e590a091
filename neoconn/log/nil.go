package log

import "context"

// NopLogger drops every log event. It is the default whenever a component
// is constructed without a Logger.
type NopLogger struct{}

// NewNop returns a no-op Logger.
//
//nolint:ireturn
func NewNop() Logger {
	return &NopLogger{}
}

// Log discards the event.
func (l *NopLogger) Log(_ context.Context, _ Level, _ string, _ ...Field) {}

// With returns the receiver unchanged.
//
//nolint:ireturn
func (l *NopLogger) With(_ ...Field) Logger { return l }

// Enabled always reports false.
func (l *NopLogger) Enabled(_ Level) bool { return false }

// Sync is a no-op.
func (l *NopLogger) Sync(_ context.Context) error { return nil }
