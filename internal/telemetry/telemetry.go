// Package telemetry sets up OpenTelemetry tracing for the chat pipeline.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// TracerName is the instrumentation name used by the chat pipeline.
const TracerName = "finance-chat"

// Config controls the trace exporter.
type Config struct {
	Enabled     bool
	TraceFile   string
	ServiceName string
	Version     string
}

// Provider owns the tracer provider and its file sink.
type Provider struct {
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider
	sink   *lumberjack.Logger
	logger *slog.Logger
}

// Setup installs a global tracer provider that writes spans to a rotating
// file. When tracing is disabled it returns a provider with a no-op tracer.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telemetry")

	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(TracerName), logger: logger}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = TracerName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if dir := filepath.Dir(cfg.TraceFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create trace directory: %w", err)
		}
	}

	sink := &lumberjack.Logger{
		Filename:   cfg.TraceFile,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(sink))
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "file", cfg.TraceFile)

	return &Provider{
		tracer: tp.Tracer(TracerName),
		tp:     tp,
		sink:   sink,
		logger: logger,
	}, nil
}

// Tracer returns the pipeline tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes pending spans and closes the file sink.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	if err := p.sink.Close(); err != nil {
		p.logger.Warn("failed to close trace file", "error", err)
	}
	return nil
}
