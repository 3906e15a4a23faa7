package connector

import (
	"context"
	"time"
)

type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// Delivery is the payload handed to the sink: the message body plus the
// transport attributes the host requested.
type Delivery struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	PublishTime time.Time
	Attempt     int
}

// Sink receives each decoded payload. A non-nil error negatively
// acknowledges the message, making it eligible for broker redelivery;
// consumers must be idempotent or tolerate duplicates.
type Sink func(ctx context.Context, d Delivery) error

type Hooks struct {
	OnReceive       func(ctx context.Context, subscription string, d Delivery)
	OnAck           func(ctx context.Context, subscription string, d Delivery)
	OnNack          func(ctx context.Context, subscription string, d Delivery, err error)
	OnBuffered      func(ctx context.Context, subscription string, depth int)
	OnPause         func(ctx context.Context, subscription string)
	OnResume        func(ctx context.Context, subscription string)
	OnConnectionErr func(ctx context.Context, subscription string, err error)
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger { return nopLogger{} }
