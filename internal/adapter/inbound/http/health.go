package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/gate"
)

// healthPingTimeout bounds each Pinger call made by /health.
const healthPingTimeout = 2 * time.Second

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// Pinger is a remote dependency that can be probed, such as Redis.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker verifies component health.
type HealthChecker struct {
	rateStore  Sizer
	nonceCache Sizer
	remote     Pinger
	throttle   *gate.Throttle
	settings   gate.SettingsSource
	version    string
}

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithRateStoreCheck reports the in-memory rate store size.
func WithRateStoreCheck(s Sizer) HealthOption {
	return func(h *HealthChecker) { h.rateStore = s }
}

// WithNonceCacheCheck reports the in-memory nonce cache size.
func WithNonceCacheCheck(s Sizer) HealthOption {
	return func(h *HealthChecker) { h.nonceCache = s }
}

// WithRemoteStoreCheck pings the shared store. A failed ping makes the
// instance unhealthy.
func WithRemoteStoreCheck(p Pinger) HealthOption {
	return func(h *HealthChecker) { h.remote = p }
}

// WithThrottleCheck reports streaming slot usage.
func WithThrottleCheck(t *gate.Throttle, settings gate.SettingsSource) HealthOption {
	return func(h *HealthChecker) {
		h.throttle = t
		h.settings = settings
	}
}

// NewHealthChecker creates a HealthChecker. Components that are not
// configured are reported as such.
func NewHealthChecker(version string, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{version: version}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.rateStore != nil {
		checks["rate_store"] = fmt.Sprintf("ok: %d keys", h.rateStore.Size())
	} else {
		checks["rate_store"] = "not configured"
	}

	if h.nonceCache != nil {
		checks["nonce_cache"] = fmt.Sprintf("ok: %d nonces", h.nonceCache.Size())
	}

	if h.remote != nil {
		pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
		err := h.remote.Ping(pingCtx)
		cancel()
		if err != nil {
			checks["redis"] = "unreachable: " + err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	if h.throttle != nil {
		max := 0
		if h.settings != nil {
			max = h.settings.Current().MaxStreamingConnections
		}
		checks["streams"] = fmt.Sprintf("%d/%d", h.throttle.Active(), max)
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		status := http.StatusOK
		if health.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	})
}
