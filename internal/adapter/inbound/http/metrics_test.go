package http

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/gate"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal not initialized")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration not initialized")
	}
	if m.RateLimitedTotal == nil {
		t.Error("RateLimitedTotal not initialized")
	}
	if m.AuthFailuresTotal == nil {
		t.Error("AuthFailuresTotal not initialized")
	}
}

func TestMetrics_Sink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRequest("POST", 200, 100*time.Millisecond)
	m.RecordRequest("POST", 429, time.Millisecond)
	m.RecordRequest("POST", 429, time.Millisecond)
	m.RecordRateLimited()
	m.RecordAuthFailure("replay")
	m.RecordAuthFailure("replay")
	m.RecordAuthFailure("bad_signature")

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "429")); got != 2 {
		t.Errorf("requests_total{status=429} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RateLimitedTotal); got != 1 {
		t.Errorf("rate_limited_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AuthFailuresTotal.WithLabelValues("replay")); got != 2 {
		t.Errorf("auth_failures_total{code=replay} = %v, want 2", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() == "rpcgate_request_duration_seconds" {
			hist = mf.GetMetric()[0].GetHistogram()
		}
	}
	if hist == nil {
		t.Fatal("request_duration_seconds not gathered")
	}
	if hist.GetSampleCount() != 3 {
		t.Errorf("histogram samples = %d, want 3", hist.GetSampleCount())
	}
}

type fixedSize int

func (f fixedSize) Size() int { return int(f) }

func TestRegisterGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	throttle := gate.NewThrottle()
	slot, err := throttle.Acquire(0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer slot.Release()

	RegisterGauges(reg, throttle, fixedSize(7))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		got[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	if got["rpcgate_active_streams"] != 1 {
		t.Errorf("active_streams = %v, want 1", got["rpcgate_active_streams"])
	}
	if got["rpcgate_rate_limit_keys"] != 7 {
		t.Errorf("rate_limit_keys = %v, want 7", got["rpcgate_rate_limit_keys"])
	}
}

func TestRegisterGauges_NilComponents(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterGauges(reg, nil, nil)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 0 {
		t.Errorf("gathered %d families, want 0", len(families))
	}
}
