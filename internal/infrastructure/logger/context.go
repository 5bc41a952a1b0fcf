package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	// runIDKey carries the identifier of the current sync round so that
	// database traces can be correlated with gateway logs
	runIDKey contextKey = "run_id"
	nodeKey  contextKey = "node"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, returning a no-op
// logger when none is attached
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRunID attaches a sync-round identifier to the context and returns
// an enriched logger
func WithRunID(ctx context.Context, logger *zap.Logger, runID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, runIDKey, runID)
	enriched := logger.With(zap.String("run_id", runID))
	return WithContext(ctx, enriched), enriched
}

// WithNode attaches a node name to the context and returns an enriched
// logger
func WithNode(ctx context.Context, logger *zap.Logger, node string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, nodeKey, node)
	enriched := logger.With(zap.String("node", node))
	return WithContext(ctx, enriched), enriched
}

// GetRunID retrieves the sync-round identifier from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// GetNode retrieves the node name from context
func GetNode(ctx context.Context) string {
	if node, ok := ctx.Value(nodeKey).(string); ok {
		return node
	}
	return ""
}
