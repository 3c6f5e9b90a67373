// Package telemetry carries the tracing and profiling of gridauth
// processes. Sessions are traced as one root span each, with child spans
// for the handshake, the identity mapping and the response.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "github.com/marmos91/gridauth"

// exportTimeout bounds the final flush of buffered spans.
const exportTimeout = 5 * time.Second

var (
	tracer  trace.Tracer
	enabled bool
)

// Start sets up tracing and profiling from cfg. The returned shutdown flushes
// pending spans and stops the profiler; it is never nil and safe to call when
// both are disabled.
func Start(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	stopTracing, err := startTracing(ctx, cfg)
	if err != nil {
		return nil, err
	}
	stopProfiler, err := startProfiler(cfg)
	if err != nil {
		_ = stopTracing(ctx)
		return nil, err
	}

	return func(ctx context.Context) error {
		return errors.Join(stopTracing(ctx), stopProfiler())
	}, nil
}

func startTracing(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	enabled = cfg.Tracing.Enabled
	if !enabled {
		tracer = noop.NewTracerProvider().Tracer(instrumentationName)
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Tracing.Endpoint)}
	if cfg.Tracing.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(resourceAttributes(cfg)...),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.Tracing.sampler()),
	)
	otel.SetTracerProvider(provider)
	tracer = provider.Tracer(instrumentationName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, exportTimeout)
		defer cancel()
		return provider.Shutdown(ctx)
	}, nil
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.ServiceNamespace("gridauth"),
	}
	if cfg.Mechanism != "" {
		attrs = append(attrs, Mechanism(cfg.Mechanism))
	}
	return attrs
}

// Tracer returns the process tracer, a no-op one before Start.
func Tracer() trace.Tracer {
	if t := tracer; t != nil {
		return t
	}
	return noop.NewTracerProvider().Tracer(instrumentationName)
}

// IsEnabled reports whether spans are exported.
func IsEnabled() bool {
	return enabled
}

// StartSpan starts a span; the caller ends it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks the span in ctx as failed with err. A nil err is
// ignored.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
