// Package telemetry wraps the OpenTelemetry SDK's tracer setup: a stdout
// exporter in development, an OTLP gRPC exporter in production. It replaces
// the teacher's decorator-based stage timing with a small wrapper that
// records pipeline-stage start/stop into real tracing spans instead of an
// in-memory analytics struct.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/memcortex/fabric/internal/orchestrator"

// Provider owns the process-wide tracer provider and its exporter.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// New builds a Provider. environment selects the exporter: anything other
// than "production" gets a stdout exporter (pretty-printed spans, no
// collector required for local development); "production" requires
// otlpEndpoint and ships spans over OTLP/gRPC.
func New(ctx context.Context, serviceName, environment, otlpEndpoint string) (*Provider, error) {
	var exporter sdktrace.SpanExporter
	var err error
	if environment == "production" {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(otlpEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: building exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
		attribute.String("deployment.environment", environment),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer(tracerName)}, nil
}

// Tracer returns the tracer pipeline stages start spans from.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return nil
	}
	return p.tracer
}

// Shutdown flushes pending spans and closes the exporter. Safe to call on a
// nil Provider so callers can defer it unconditionally.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartStage starts a child span named for one pipeline stage and returns an
// end func that records the stage's outcome. A nil tracer (telemetry not
// configured) makes this a no-op so callers never need a feature check.
func StartStage(ctx context.Context, tracer trace.Tracer, stage string) (context.Context, func(err error)) {
	if tracer == nil {
		return ctx, func(error) {}
	}
	stageCtx, span := tracer.Start(ctx, stage)
	return stageCtx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
