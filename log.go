package whiskers

import (
	"context"

	"github.com/copycatdb/whiskers/wsdsn"
)

// Logger is an interface for the legacy flat log sink.
type Logger interface {
	Printf(format string, v ...interface{})
	Println(v ...interface{})
}

// ContextLogger is the logging interface the driver writes to. Which events
// reach it is controlled by the "log" connection-string bitmask.
type ContextLogger interface {
	Log(ctx context.Context, category wsdsn.Log, msg string)
}

// loggerAdapter converts a Logger to a ContextLogger.
type loggerAdapter struct {
	logger Logger
}

func (la loggerAdapter) Log(_ context.Context, _ wsdsn.Log, msg string) {
	la.logger.Println(msg)
}

// NewContextLogger wraps a flat Logger as a ContextLogger, discarding the
// context and category.
func NewContextLogger(logger Logger) ContextLogger {
	return loggerAdapter{logger: logger}
}

// nullLogger swallows everything. Sessions hold one when the caller did not
// configure logging so log calls never nil-check.
type nullLogger struct{}

func (nullLogger) Log(_ context.Context, _ wsdsn.Log, _ string) {}
