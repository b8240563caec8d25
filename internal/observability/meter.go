package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/gate"
)

// MeterSink records pipeline observations as OpenTelemetry instruments.
type MeterSink struct {
	requests     metric.Int64Counter
	duration     metric.Float64Histogram
	rateLimited  metric.Int64Counter
	authFailures metric.Int64Counter
}

// NewMeterSink creates the instruments on meter.
func NewMeterSink(meter metric.Meter) (*MeterSink, error) {
	requests, err := meter.Int64Counter("rpcgate.requests",
		metric.WithDescription("Requests handled, by method and status code"))
	if err != nil {
		return nil, fmt.Errorf("create requests counter: %w", err)
	}
	duration, err := meter.Float64Histogram("rpcgate.request.duration",
		metric.WithDescription("Request duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	rateLimited, err := meter.Int64Counter("rpcgate.rate_limited",
		metric.WithDescription("Requests rejected by the rate limiter"))
	if err != nil {
		return nil, fmt.Errorf("create rate limited counter: %w", err)
	}
	authFailures, err := meter.Int64Counter("rpcgate.auth_failures",
		metric.WithDescription("Authentication failures by code"))
	if err != nil {
		return nil, fmt.Errorf("create auth failures counter: %w", err)
	}

	return &MeterSink{
		requests:     requests,
		duration:     duration,
		rateLimited:  rateLimited,
		authFailures: authFailures,
	}, nil
}

// RecordRequest implements gate.MetricsSink.
func (s *MeterSink) RecordRequest(method string, status int, d time.Duration) {
	ctx := context.Background()
	s.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", strconv.Itoa(status)),
	))
	s.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("method", method)))
}

// RecordRateLimited implements gate.MetricsSink.
func (s *MeterSink) RecordRateLimited() {
	s.rateLimited.Add(context.Background(), 1)
}

// RecordAuthFailure implements gate.MetricsSink.
func (s *MeterSink) RecordAuthFailure(code string) {
	s.authFailures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("code", code)))
}

var _ gate.MetricsSink = (*MeterSink)(nil)
