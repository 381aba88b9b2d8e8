package logging

import (
	"context"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	jobIDKey  contextKey = "job_id"
	tableKey  contextKey = "table"
)

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or the global logger,
// enriched with the job fields stored in ctx.
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(loggerKey).(*Logger)
	if !ok {
		logger = Global()
	}
	return logger.WithContext(ctx)
}

// WithJobID tags a save or materialization with an id
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobID returns the job id stored in ctx, if any
func JobID(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey).(string)
	return id
}

// WithTable records the table path being worked on
func WithTable(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, tableKey, path)
}

func contextFields(ctx context.Context) []interface{} {
	var fields []interface{}
	if id, ok := ctx.Value(jobIDKey).(string); ok && id != "" {
		fields = append(fields, "job_id", id)
	}
	if table, ok := ctx.Value(tableKey).(string); ok && table != "" {
		fields = append(fields, "table", table)
	}
	return fields
}
