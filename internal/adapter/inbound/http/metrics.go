package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/gate"
)

const metricsNamespace = "rpcgate"

// Metrics holds all Prometheus metrics for rpcgate.
// It implements gate.MetricsSink.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RateLimitedTotal  prometheus.Counter
	AuthFailuresTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total number of requests handled, by method and status code",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RateLimitedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
		AuthFailuresTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "auth_failures_total",
				Help:      "Authentication failures by code",
			},
			[]string{"code"},
		),
	}
}

// RecordRequest implements gate.MetricsSink.
func (m *Metrics) RecordRequest(method string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRateLimited implements gate.MetricsSink.
func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

// RecordAuthFailure implements gate.MetricsSink.
func (m *Metrics) RecordAuthFailure(code string) {
	m.AuthFailuresTotal.WithLabelValues(code).Inc()
}

// Sizer reports a current count, such as tracked rate limit keys.
type Sizer interface {
	Size() int
}

// RegisterGauges exposes the live throttle and rate store sizes as gauges
// sampled at scrape time. Either argument may be nil.
func RegisterGauges(reg prometheus.Registerer, throttle *gate.Throttle, rateKeys Sizer) {
	if throttle != nil {
		promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_streams",
				Help:      "Streaming connections currently open",
			},
			func() float64 { return float64(throttle.Active()) },
		)
	}
	if rateKeys != nil {
		promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limit_keys",
				Help:      "Number of tracked rate limit keys",
			},
			func() float64 { return float64(rateKeys.Size()) },
		)
	}
}

var _ gate.MetricsSink = (*Metrics)(nil)
