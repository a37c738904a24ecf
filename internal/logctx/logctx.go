// Package logctx carries a job-scoped logger through the context
package logctx

import (
	"context"

	"github.com/wb-go/wbf/helpers"
	"github.com/wb-go/wbf/zlog"
)

type loggerKey struct{}

// Init - стартуем консольный логгер с нужным уровнем
func Init(level string) error {
	zlog.InitConsole()
	if level == "" {
		level = "info"
	}
	return zlog.SetLevel(level)
}

// WithJob puts a logger tagged with the job id and owner into ctx. An empty jobID gets a fresh UUID.
func WithJob(ctx context.Context, jobID, owner string) (context.Context, string) {
	if jobID == "" {
		jobID = helpers.CreateUUID()
	}

	logger := zlog.Logger.With().
		Str("job_id", jobID).
		Str("owner", owner).
		Logger()

	return context.WithValue(ctx, loggerKey{}, logger), jobID
}

// WithPhoto adds photo_id to the logger already stored in ctx
func WithPhoto(ctx context.Context, photoID string) context.Context {
	parent := LoggerFromContext(ctx)
	logger := parent.With().Str("photo_id", photoID).Logger()
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext extracts logger from context - used in service and worker layers
func LoggerFromContext(ctx context.Context) zlog.Zerolog {
	if l, ok := ctx.Value(loggerKey{}).(zlog.Zerolog); ok {
		return l
	}
	return zlog.Logger
}
