// Package metrics exports connector delivery metrics over OTLP.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/streamhub-io/pubsub-source/connector"
)

type Exporter struct {
	meterProvider    *sdkmetric.MeterProvider
	meter            metric.Meter
	serviceName      string
	serviceVersion   string
	otlpEndpoint     string
	otlpGRPCEndpoint string
	environment      string

	received    metric.Int64Counter
	acked       metric.Int64Counter
	nacked      metric.Int64Counter
	bufferDepth metric.Int64Gauge
	connErrors  metric.Int64Counter
	pauses      metric.Int64Counter
}

type Option func(*Exporter)

func WithServiceName(name string) Option {
	return func(e *Exporter) {
		e.serviceName = name
	}
}

func WithServiceVersion(version string) Option {
	return func(e *Exporter) {
		e.serviceVersion = version
	}
}

func WithOTLPEndpoint(endpoint string) Option {
	return func(e *Exporter) {
		e.otlpEndpoint = endpoint
	}
}

func WithOTLPGRPCEndpoint(endpoint string) Option {
	return func(e *Exporter) {
		e.otlpGRPCEndpoint = endpoint
	}
}

func WithEnvironment(env string) Option {
	return func(e *Exporter) {
		e.environment = env
	}
}

func defaultExporter() *Exporter {
	return &Exporter{
		serviceName:    "pubsub-source",
		serviceVersion: "1.0.0",
		otlpEndpoint:   "localhost:4318",
		environment:    "development",
	}
}

// NewExporter builds an OTLP metric exporter and the connector instruments.
// The returned func flushes and shuts the provider down.
func NewExporter(ctx context.Context, opts ...Option) (*Exporter, func(), error) {
	e := defaultExporter()
	for _, opt := range opts {
		opt(e)
	}
	if e.otlpGRPCEndpoint == "" && e.otlpEndpoint == "" {
		return nil, nil, fmt.Errorf("metrics: an OTLP endpoint is required")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(e.serviceName),
			semconv.ServiceVersion(e.serviceVersion),
			semconv.DeploymentEnvironment(e.environment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: create resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	if e.otlpGRPCEndpoint != "" {
		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(e.otlpGRPCEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use TLS in production
		)
	} else {
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(e.otlpEndpoint),
			otlpmetrichttp.WithInsecure(), // Use TLS in production
		)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: create OTLP exporter: %w", err)
	}

	e.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(10*time.Second),
		)),
	)
	otel.SetMeterProvider(e.meterProvider)
	e.meter = e.meterProvider.Meter(e.serviceName)

	if err := e.buildInstruments(); err != nil {
		_ = e.meterProvider.Shutdown(ctx)
		return nil, nil, err
	}

	return e, func() {
		_ = e.meterProvider.Shutdown(context.Background())
	}, nil
}

func (e *Exporter) buildInstruments() error {
	var err error
	if e.received, err = e.meter.Int64Counter("connector.messages.received",
		metric.WithDescription("Messages handed to the connector by the broker"),
		metric.WithUnit("{message}")); err != nil {
		return fmt.Errorf("metrics: create counter: %w", err)
	}
	if e.acked, err = e.meter.Int64Counter("connector.messages.acked",
		metric.WithDescription("Messages acknowledged after the sink accepted them"),
		metric.WithUnit("{message}")); err != nil {
		return fmt.Errorf("metrics: create counter: %w", err)
	}
	if e.nacked, err = e.meter.Int64Counter("connector.messages.nacked",
		metric.WithDescription("Messages returned to the broker for redelivery"),
		metric.WithUnit("{message}")); err != nil {
		return fmt.Errorf("metrics: create counter: %w", err)
	}
	if e.bufferDepth, err = e.meter.Int64Gauge("connector.pause_buffer.depth",
		metric.WithDescription("Deliveries held locally while paused"),
		metric.WithUnit("{message}")); err != nil {
		return fmt.Errorf("metrics: create gauge: %w", err)
	}
	if e.connErrors, err = e.meter.Int64Counter("connector.connection.errors",
		metric.WithDescription("Transport failures during steady-state receiving"),
		metric.WithUnit("{error}")); err != nil {
		return fmt.Errorf("metrics: create counter: %w", err)
	}
	if e.pauses, err = e.meter.Int64Counter("connector.pauses",
		metric.WithDescription("Pause transitions"),
		metric.WithUnit("{transition}")); err != nil {
		return fmt.Errorf("metrics: create counter: %w", err)
	}
	return nil
}

func (e *Exporter) Close(ctx context.Context) error {
	return e.meterProvider.Shutdown(ctx)
}

// Hooks wires the instruments into the connector callback surface.
func (e *Exporter) Hooks() connector.Hooks {
	return connector.Hooks{
		OnReceive: func(ctx context.Context, sub string, _ connector.Delivery) {
			e.received.Add(ctx, 1, metric.WithAttributes(subAttr(sub)))
		},
		OnAck: func(ctx context.Context, sub string, _ connector.Delivery) {
			e.acked.Add(ctx, 1, metric.WithAttributes(subAttr(sub)))
		},
		OnNack: func(ctx context.Context, sub string, _ connector.Delivery, _ error) {
			e.nacked.Add(ctx, 1, metric.WithAttributes(subAttr(sub)))
		},
		OnBuffered: func(ctx context.Context, sub string, depth int) {
			e.bufferDepth.Record(ctx, int64(depth), metric.WithAttributes(subAttr(sub)))
		},
		OnPause: func(ctx context.Context, sub string) {
			e.pauses.Add(ctx, 1, metric.WithAttributes(subAttr(sub)))
		},
		OnConnectionErr: func(ctx context.Context, sub string, _ error) {
			e.connErrors.Add(ctx, 1, metric.WithAttributes(subAttr(sub)))
		},
	}
}

func subAttr(sub string) attribute.KeyValue {
	return attribute.String("subscription", sub)
}
