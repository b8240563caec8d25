// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

import (
	"context"
	"log/slog"
)

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with the request_id field.
type LoggerKey struct{}

// Logger returns the enriched logger stored in ctx, or fallback when none is set.
func Logger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}
