package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/gate"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthChecker_Healthy(t *testing.T) {
	t.Parallel()

	hc := NewHealthChecker("test-version",
		WithRateStoreCheck(fixedSize(3)),
		WithNonceCacheCheck(fixedSize(5)),
		WithRemoteStoreCheck(fakePinger{}),
	)

	health := hc.Check(context.Background())
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if health.Checks["rate_store"] != "ok: 3 keys" {
		t.Errorf("rate_store check = %q", health.Checks["rate_store"])
	}
	if health.Checks["nonce_cache"] != "ok: 5 nonces" {
		t.Errorf("nonce_cache check = %q", health.Checks["nonce_cache"])
	}
	if health.Checks["redis"] != "ok" {
		t.Errorf("redis check = %q", health.Checks["redis"])
	}
}

func TestHealthChecker_NilComponents(t *testing.T) {
	t.Parallel()

	health := NewHealthChecker("").Check(context.Background())
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Checks["rate_store"] != "not configured" {
		t.Errorf("rate_store check = %q, want not configured", health.Checks["rate_store"])
	}
	if _, ok := health.Checks["goroutines"]; !ok {
		t.Error("goroutines check missing")
	}
}

func TestHealthChecker_Streams(t *testing.T) {
	t.Parallel()

	throttle := gate.NewThrottle()
	settings := gate.DefaultSettings()
	settings.MaxStreamingConnections = 4
	slot, _ := throttle.Acquire(4)
	defer slot.Release()

	health := NewHealthChecker("", WithThrottleCheck(throttle, gate.StaticSettings{S: settings})).Check(context.Background())
	if health.Checks["streams"] != "1/4" {
		t.Errorf("streams check = %q, want 1/4", health.Checks["streams"])
	}
}

func TestHealthChecker_Handler_Unhealthy_503(t *testing.T) {
	t.Parallel()

	hc := NewHealthChecker("v1", WithRemoteStoreCheck(fakePinger{err: errors.New("connection refused")}))

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", resp.Status)
	}
	if resp.Checks["redis"] != "unreachable: connection refused" {
		t.Errorf("redis check = %q", resp.Checks["redis"])
	}
}

func TestHealthChecker_Handler_HTTP(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewHealthChecker("v1").Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}
