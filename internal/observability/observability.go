// Package observability sets up OpenTelemetry tracing and metrics for rpcgate.
// Traces and metrics go to stdout exporters; Prometheus scraping is served
// separately by the HTTP adapter.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config selects which providers Setup installs.
type Config struct {
	ServiceName string

	TracingEnabled bool
	SampleRate     float64

	// MetricsStdout exports OTel metrics to Writer every MetricsInterval.
	MetricsStdout   bool
	MetricsInterval time.Duration

	// Writer receives exported data. Defaults to os.Stdout.
	Writer io.Writer
}

// Provider holds the OpenTelemetry providers for graceful shutdown.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	sink           *MeterSink
}

// TracingEnabled reports whether a tracer provider was installed.
func (p *Provider) TracingEnabled() bool {
	return p.tracerProvider != nil
}

// MeterSink returns the OTel metrics sink, or nil when OTel metrics are off.
func (p *Provider) MeterSink() *MeterSink {
	return p.sink
}

// Shutdown flushes and stops all providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error

	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Setup initializes the providers selected by cfg and registers them
// globally. The returned Provider must be shut down on exit.
func Setup(cfg Config, version string) (*Provider, error) {
	p := &Provider{}
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "rpcgate"
	}

	hostname, _ := os.Hostname()
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", version),
			attribute.String("host.name", hostname),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if cfg.TracingEnabled {
		tp, err := setupTracing(res, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
		p.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if cfg.MetricsStdout {
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
		interval := cfg.MetricsInterval
		if interval <= 0 {
			interval = time.Minute
		}

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		)
		p.meterProvider = mp
		otel.SetMeterProvider(mp)

		sink, err := NewMeterSink(mp.Meter("rpcgate"))
		if err != nil {
			return nil, err
		}
		p.sink = sink
	}

	return p, nil
}

func setupTracing(res *resource.Resource, cfg Config) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	), nil
}
