// Package upstream forwards admitted requests to the protected service.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/Sentinel-Gate/rpcgate/internal/ctxkey"
)

// DefaultTimeout bounds the wait for upstream response headers.
const DefaultTimeout = 30 * time.Second

// Forwarder is a reverse proxy to a single upstream URL.
// Responses are flushed immediately so streamed bodies pass through
// unbuffered.
type Forwarder struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

// Option configures a Forwarder.
type Option func(*forwarderConfig)

type forwarderConfig struct {
	timeout   time.Duration
	logger    *slog.Logger
	transport http.RoundTripper
}

// WithTimeout sets how long to wait for upstream response headers.
// Streaming bodies are not cut off by it.
func WithTimeout(d time.Duration) Option {
	return func(c *forwarderConfig) {
		c.timeout = d
	}
}

// WithLogger sets the fallback logger for upstream errors.
func WithLogger(logger *slog.Logger) Option {
	return func(c *forwarderConfig) {
		c.logger = logger
	}
}

// WithTransport replaces the upstream round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *forwarderConfig) {
		c.transport = rt
	}
}

// New creates a Forwarder for rawURL, which must be an absolute http or
// https URL.
func New(rawURL string, opts ...Option) (*Forwarder, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q: scheme must be http or https", rawURL)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("upstream url %q: missing host", rawURL)
	}

	cfg := forwarderConfig{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.transport == nil {
		cfg.transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.timeout,
		}
	}

	f := &Forwarder{target: target, logger: cfg.logger}
	f.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
		},
		Transport:     cfg.transport,
		FlushInterval: -1,
		ErrorHandler:  f.handleError,
	}
	return f, nil
}

// Target returns the upstream URL.
func (f *Forwarder) Target() string {
	return f.target.String()
}

// ServeHTTP implements http.Handler.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.proxy.ServeHTTP(w, r)
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	logger := ctxkey.Logger(r.Context(), f.logger)

	status, code := http.StatusBadGateway, "upstream_unreachable"
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		status, code = http.StatusGatewayTimeout, "upstream_timeout"
	}
	if errors.Is(r.Context().Err(), context.Canceled) {
		// The client went away; nobody reads the response.
		logger.Debug("client disconnected before upstream responded", "error", err)
	} else {
		logger.Error("upstream request failed", "error", err, "upstream", f.target.Host)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": "upstream request failed",
	})
}
