// Package logging defines the structured-logging interface shared by the
// relay server and the print client. The default implementation wraps slog.
package logging

import "context"

// Logger is a context-aware, structured logger. Args are key/value pairs:
//
//	log.Info(ctx, "client connected", "client_id", id, "remote", addr)
//
// Components take a Logger and derive their own with With("module", name).
type Logger interface {
	// Debug is for per-frame and per-poll diagnostics.
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	// Warn reports conditions the caller recovered from, such as a dropped
	// transfer or a degraded printer report.
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}
