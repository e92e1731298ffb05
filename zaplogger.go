package whiskers

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/copycatdb/whiskers/wsdsn"
)

// logCategoryToZapLevel maps driver log categories to zap log levels.
var logCategoryToZapLevel = map[wsdsn.Log]zapcore.Level{
	wsdsn.LogDebug:    zapcore.DebugLevel,
	wsdsn.LogMessages: zapcore.InfoLevel,
	wsdsn.LogRows:     zapcore.DebugLevel,
	wsdsn.LogSQL:      zapcore.DebugLevel,
	wsdsn.LogErrors:   zapcore.ErrorLevel,
}

// zapContextLogger implements ContextLogger by wrapping a zap.Logger.
type zapContextLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps a zap.Logger as a ContextLogger.
func NewZapLogger(logger *zap.Logger) ContextLogger {
	return &zapContextLogger{logger: logger}
}

// Log emits a log at the zap level matching the driver category.
func (l *zapContextLogger) Log(_ context.Context, category wsdsn.Log, msg string) {
	level, ok := logCategoryToZapLevel[category]
	if !ok {
		level = zapcore.InfoLevel
	}
	l.logger.Log(level, msg)
}
