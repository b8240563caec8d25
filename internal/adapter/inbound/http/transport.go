package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPTransport is the inbound adapter that serves the gated handler,
// /health and /metrics on one listener.
type HTTPTransport struct {
	handler           http.Handler
	server            *http.Server
	addr              string
	certFile          string
	keyFile           string
	logger            *slog.Logger
	registry          *prometheus.Registry
	healthChecker     *HealthChecker
	readHeaderTimeout time.Duration
	shutdownTimeout   time.Duration

	mu       sync.Mutex
	listener net.Listener
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithRegistry serves /metrics from reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithReadHeaderTimeout bounds how long a client may take to send headers.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		t.readHeaderTimeout = d
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		t.shutdownTimeout = d
	}
}

// NewHTTPTransport creates an HTTP transport serving handler on every path
// other than /health and /metrics.
func NewHTTPTransport(handler http.Handler, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		handler:           handler,
		addr:              "127.0.0.1:8080",
		logger:            slog.Default(),
		readHeaderTimeout: 10 * time.Second,
		shutdownTimeout:   10 * time.Second,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return t
}

// Routes builds the mux served by Start.
func (t *HTTPTransport) Routes() http.Handler {
	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	} else {
		mux.Handle("/health", NewHealthChecker("").Handler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))
	mux.Handle("/", t.handler)
	return mux
}

// Addr returns the bound address once Start is listening, or the configured
// address before that.
func (t *HTTPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           t.Routes(),
		ReadHeaderTimeout: t.readHeaderTimeout,
	}
	if t.certFile != "" && t.keyFile != "" {
		server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	t.mu.Lock()
	t.server = server
	t.listener = ln
	t.mu.Unlock()

	errCh := make(chan error, 1)

	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", ln.Addr().String())
			err = server.ServeTLS(ln, t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", ln.Addr().String())
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err, ok := <-errCh:
		if !ok {
			// Closed by Close from another goroutine.
			return nil
		}
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	t.mu.Lock()
	server := t.server
	t.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	return t.shutdown()
}
