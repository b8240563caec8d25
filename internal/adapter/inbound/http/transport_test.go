package http

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"
)

// markerHandler returns an http.Handler that writes a specific marker string.
// Used in routing tests to verify which handler received the request.
func markerHandler(marker string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Handler", marker)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, marker)
	})
}

func newTestTransport(opts ...Option) *HTTPTransport {
	opts = append([]Option{
		WithAddr("127.0.0.1:0"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRegistry(prometheus.NewRegistry()),
	}, opts...)
	return NewHTTPTransport(markerHandler("gate"), opts...)
}

func TestRouting(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordRateLimited()

	transport := newTestTransport(WithRegistry(reg))
	server := httptest.NewServer(transport.Routes())
	defer server.Close()

	t.Run("catch all", func(t *testing.T) {
		for _, path := range []string{"/", "/rpc", "/stream/events", "/v1/anything"} {
			resp, err := http.Get(server.URL + path)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if got := resp.Header.Get("X-Handler"); got != "gate" {
				t.Errorf("GET %s reached handler %q, want gate", path, got)
			}
		}
	})

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET /health status = %d, want 200", resp.StatusCode)
		}
		if resp.Header.Get("X-Handler") != "" {
			t.Error("/health reached the gated handler")
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), "rpcgate_rate_limited_total 1") {
			t.Errorf("metrics output missing rate_limited_total:\n%s", body)
		}
	})
}

func TestHTTPTransport_StartAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := newTestTransport(WithShutdownTimeout(2 * time.Second))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- transport.Start(ctx) }()

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := transport.Addr(); a != "127.0.0.1:0" {
			addr = a
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		cancel()
		t.Fatal("transport never started listening")
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr + "/rpc")
	if err != nil {
		cancel()
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Handler") != "gate" {
		t.Errorf("X-Handler = %q, want gate", resp.Header.Get("X-Handler"))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	client.CloseIdleConnections()
}

func TestHTTPTransport_ListenError(t *testing.T) {
	t.Parallel()

	transport := newTestTransport(WithAddr("256.0.0.1:bad"))
	if err := transport.Start(context.Background()); err == nil {
		t.Fatal("Start with an invalid address returned nil")
	}
}

func TestHTTPTransport_CloseBeforeStart(t *testing.T) {
	t.Parallel()

	if err := newTestTransport().Close(); err != nil {
		t.Errorf("Close before Start = %v, want nil", err)
	}
}
