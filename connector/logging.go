package connector

import (
	"context"

	"go.uber.org/zap"
)

type zapLogger struct {
	base *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to the connector Logger interface.
func NewZapLogger(base *zap.Logger) Logger {
	return &zapLogger{base: base.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *zapLogger) Debug(_ context.Context, msg string, kv ...any) { l.base.Debugw(msg, kv...) }
func (l *zapLogger) Info(_ context.Context, msg string, kv ...any)  { l.base.Infow(msg, kv...) }
func (l *zapLogger) Warn(_ context.Context, msg string, kv ...any)  { l.base.Warnw(msg, kv...) }
func (l *zapLogger) Error(_ context.Context, msg string, kv ...any) { l.base.Errorw(msg, kv...) }
