// Package config provides configuration types for rpcgate.
//
// Configuration comes from rpcgate.yaml and RPCGATE_* environment variables.
// Listener, store and upstream settings are read once at startup. Everything
// that shapes a single request (limits, auth, CORS, guard) is published as a
// gate.Settings snapshot and may be reloaded while running.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/gate"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/validation"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the top-level configuration for rpcgate.
type Config struct {
	// Server configures the HTTP listener and logging.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Upstream is the protected service admitted requests are forwarded to.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// RateLimit configures the per-client fixed-window limiter.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Body bounds the request body.
	Body BodyConfig `yaml:"body" mapstructure:"body"`

	// StaticAuth configures the optional bearer token gate.
	StaticAuth StaticAuthConfig `yaml:"static_auth" mapstructure:"static_auth"`

	// Signature configures HMAC request signing and replay protection.
	Signature SignatureConfig `yaml:"signature" mapstructure:"signature"`

	// Guard bounds the shape of JSON payloads.
	Guard GuardConfig `yaml:"guard" mapstructure:"guard"`

	// CORS configures cross-origin access.
	CORS CORSConfig `yaml:"cors" mapstructure:"cors"`

	// Streaming configures the connection throttle for long-lived routes.
	Streaming StreamingConfig `yaml:"streaming" mapstructure:"streaming"`

	// Logging configures what identifies a client in logs.
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Redis is the shared store used when a store is set to "redis".
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// Observability configures OpenTelemetry exporters.
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat selects the slog handler: "text" or "json". Defaults to "text".
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`

	// TrustProxyHeaders makes X-Forwarded-For and X-Real-IP identify the
	// client. Defaults to true; disable when not behind a trusted proxy.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" mapstructure:"trust_proxy_headers"`

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	// Defaults to "10s".
	ReadHeaderTimeout string `yaml:"read_header_timeout" mapstructure:"read_header_timeout" validate:"omitempty,duration"`

	// ShutdownTimeout bounds graceful shutdown. Defaults to "10s".
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`
}

// UpstreamConfig configures the protected service.
type UpstreamConfig struct {
	// URL is the base URL admitted requests are forwarded to.
	URL string `yaml:"url" mapstructure:"url" validate:"required,url"`

	// Timeout bounds the wait for upstream response headers (e.g., "30s").
	// Streaming bodies are not cut off by it. Defaults to "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// RateLimitConfig configures rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// RequestsPerWindow is how many requests one client may send per window.
	// Defaults to 60.
	RequestsPerWindow int `yaml:"requests_per_window" mapstructure:"requests_per_window" validate:"omitempty,min=1"`

	// Window is the length of one counting window (e.g., "1m"). Defaults to "1m".
	Window string `yaml:"window" mapstructure:"window" validate:"omitempty,duration"`

	// Store selects where counters live: "memory" or "redis".
	// Defaults to "memory".
	Store string `yaml:"store" mapstructure:"store" validate:"omitempty,oneof=memory redis"`

	// FailOpen admits requests when the store errors. Defaults to true.
	FailOpen bool `yaml:"fail_open" mapstructure:"fail_open"`

	// Shards is the number of lock shards in the memory store. Defaults to 16.
	Shards int `yaml:"shards" mapstructure:"shards" validate:"omitempty,min=1,max=4096"`

	// CleanupInterval sweeps expired memory counters (e.g., "5m").
	// Empty or "0" leaves expiry lazy.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`
}

// BodyConfig bounds request bodies.
type BodyConfig struct {
	// MaxBytes is the largest accepted body. Defaults to 1 MiB.
	MaxBytes int64 `yaml:"max_bytes" mapstructure:"max_bytes" validate:"omitempty,min=1"`
}

// StaticAuthConfig configures the bearer token gate.
type StaticAuthConfig struct {
	// Required rejects requests without a matching bearer token.
	Required bool `yaml:"required" mapstructure:"required"`

	// TokenHash is the stored token hash: "sha256:<hex>", bare hex, or an
	// Argon2id PHC string. Generate with "rpcgate hash-token".
	TokenHash string `yaml:"token_hash" mapstructure:"token_hash" validate:"required_if=Required true,omitempty,token_hash"`
}

// SignatureConfig configures HMAC request signatures.
type SignatureConfig struct {
	// Secret is the shared signing secret. Empty disables verification.
	// Secrets shorter than 32 bytes are refused at request time.
	Secret string `yaml:"secret" mapstructure:"secret"`

	// MaxSkewSeconds is the tolerated clock difference, and how long nonces
	// are remembered. Defaults to 300.
	MaxSkewSeconds int `yaml:"max_skew_seconds" mapstructure:"max_skew_seconds" validate:"omitempty,min=1"`

	// NonceCapacity bounds the in-memory nonce cache. Defaults to 10000.
	NonceCapacity int `yaml:"nonce_capacity" mapstructure:"nonce_capacity" validate:"omitempty,min=1"`

	// NonceStore selects where nonces live: "memory" or "redis".
	NonceStore string `yaml:"nonce_store" mapstructure:"nonce_store" validate:"omitempty,oneof=memory redis"`

	// NonceFailOpen skips replay protection when the nonce store errors.
	// Defaults to false.
	NonceFailOpen bool `yaml:"nonce_fail_open" mapstructure:"nonce_fail_open"`
}

// GuardConfig bounds JSON payload shape. Zero disables a check.
type GuardConfig struct {
	MaxArrayItems    int `yaml:"max_array_items" mapstructure:"max_array_items" validate:"min=0"`
	MaxStringLength  int `yaml:"max_string_length" mapstructure:"max_string_length" validate:"min=0"`
	MaxNestingDepth  int `yaml:"max_nesting_depth" mapstructure:"max_nesting_depth" validate:"min=0"`
	MaxFilterClauses int `yaml:"max_filter_clauses" mapstructure:"max_filter_clauses" validate:"min=0"`
}

// CORSConfig configures cross-origin access.
type CORSConfig struct {
	// AllowedOrigins lists exact origins (e.g., "https://app.example.com").
	// Empty denies all cross-origin requests. "*" is not accepted.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,origin"`

	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`

	// MaxAgeSeconds is how long browsers may cache a preflight. Defaults to 600.
	MaxAgeSeconds int `yaml:"max_age_seconds" mapstructure:"max_age_seconds" validate:"min=0"`
}

// StreamingConfig configures the connection throttle.
type StreamingConfig struct {
	// PathPrefixes marks routes as streaming. Defaults to ["/stream"].
	PathPrefixes []string `yaml:"path_prefixes" mapstructure:"path_prefixes" validate:"omitempty,dive,startswith=/"`

	// MaxConnections caps concurrent streaming connections. Defaults to 100.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections" validate:"omitempty,min=1"`
}

// LoggingConfig configures client identification.
type LoggingConfig struct {
	// ClientIDSalt is mixed into the client address hash so ids cannot be
	// reversed by enumerating addresses.
	ClientIDSalt string `yaml:"client_id_salt" mapstructure:"client_id_salt"`
}

// RedisConfig configures the shared store.
type RedisConfig struct {
	Addr        string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password    string `yaml:"password" mapstructure:"password"`
	DB          int    `yaml:"db" mapstructure:"db" validate:"min=0"`
	KeyPrefix   string `yaml:"key_prefix" mapstructure:"key_prefix"`
	DialTimeout string `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"omitempty,duration"`
}

// ObservabilityConfig configures OpenTelemetry.
type ObservabilityConfig struct {
	Tracing TracingConfig     `yaml:"tracing" mapstructure:"tracing"`
	Metrics OTelMetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// TracingConfig configures pipeline spans.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// SampleRate is the fraction of requests traced, 0 to 1. Defaults to 1.
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// OTelMetricsConfig configures the OpenTelemetry metrics exporter.
type OTelMetricsConfig struct {
	// OTelStdout exports OTel metrics to stdout alongside /metrics.
	OTelStdout bool `yaml:"otel_stdout" mapstructure:"otel_stdout"`

	// Interval is the export period. Defaults to "1m".
	Interval string `yaml:"interval" mapstructure:"interval" validate:"omitempty,duration"`
}

// SetDevDefaults applies permissive defaults for development mode.
// This allows running rpcgate with no config file at all.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"
	if c.Upstream.URL == "" {
		c.Upstream.URL = "http://127.0.0.1:3000"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults — bind to localhost only.
	// Users who need network access must explicitly set http_addr: ":8080" or "0.0.0.0:8080".
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("server.trust_proxy_headers") {
		c.Server.TrustProxyHeaders = true
	}
	if c.Server.ReadHeaderTimeout == "" {
		c.Server.ReadHeaderTimeout = "10s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = "30s"
	}

	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.RequestsPerWindow == 0 {
		c.RateLimit.RequestsPerWindow = 60
	}
	if c.RateLimit.Window == "" {
		c.RateLimit.Window = "1m"
	}
	if c.RateLimit.Store == "" {
		c.RateLimit.Store = StoreMemory
	}
	if !viper.IsSet("rate_limit.fail_open") {
		c.RateLimit.FailOpen = true
	}
	if c.RateLimit.Shards == 0 {
		c.RateLimit.Shards = 16
	}

	if c.Body.MaxBytes == 0 {
		c.Body.MaxBytes = 1 << 20
	}

	if c.Signature.MaxSkewSeconds == 0 {
		c.Signature.MaxSkewSeconds = 300
	}
	if c.Signature.NonceCapacity == 0 {
		c.Signature.NonceCapacity = 10000
	}
	if c.Signature.NonceStore == "" {
		c.Signature.NonceStore = StoreMemory
	}

	// Guard limits default only when the whole block is absent, so an
	// explicit 0 can still disable a single check.
	if !viper.IsSet("guard") && c.Guard == (GuardConfig{}) {
		d := validation.DefaultLimits()
		c.Guard = GuardConfig{
			MaxArrayItems:    d.MaxArrayItems,
			MaxStringLength:  d.MaxStringLength,
			MaxNestingDepth:  d.MaxDepth,
			MaxFilterClauses: d.MaxFilterClauses,
		}
	}

	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{
			"Content-Type", "Authorization", "X-Request-ID",
			"X-Signature", "X-Signature-Timestamp", "X-Signature-Nonce",
		}
	}
	if !viper.IsSet("cors.max_age_seconds") && c.CORS.MaxAgeSeconds == 0 {
		c.CORS.MaxAgeSeconds = 600
	}

	if !viper.IsSet("streaming.path_prefixes") && len(c.Streaming.PathPrefixes) == 0 {
		c.Streaming.PathPrefixes = []string{"/stream"}
	}
	if c.Streaming.MaxConnections == 0 {
		c.Streaming.MaxConnections = 100
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "rpcgate:"
	}
	if c.Redis.DialTimeout == "" {
		c.Redis.DialTimeout = "5s"
	}

	if !viper.IsSet("observability.tracing.sample_rate") && c.Observability.Tracing.SampleRate == 0 {
		c.Observability.Tracing.SampleRate = 1
	}
	if c.Observability.Metrics.Interval == "" {
		c.Observability.Metrics.Interval = "1m"
	}
}

// UsesRedis reports whether any store is backed by Redis.
func (c *Config) UsesRedis() bool {
	return c.RateLimit.Store == StoreRedis || c.Signature.NonceStore == StoreRedis
}

// ToSettings builds the per-request settings snapshot.
func (c *Config) ToSettings() (*gate.Settings, error) {
	window, err := parseDuration("rate_limit.window", c.RateLimit.Window)
	if err != nil {
		return nil, err
	}

	return &gate.Settings{
		RateLimitEnabled: c.RateLimit.Enabled,
		RatePolicy: ratelimit.Policy{
			Limit:  c.RateLimit.RequestsPerWindow,
			Window: window,
		},
		RateFailOpen:       c.RateLimit.FailOpen,
		MaxBodyBytes:       c.Body.MaxBytes,
		StaticAuthRequired: c.StaticAuth.Required,
		StaticTokenHash:    c.StaticAuth.TokenHash,
		Signature: auth.SignatureConfig{
			Secret:        c.Signature.Secret,
			MaxSkew:       time.Duration(c.Signature.MaxSkewSeconds) * time.Second,
			NonceCapacity: c.Signature.NonceCapacity,
			NonceFailOpen: c.Signature.NonceFailOpen,
		},
		Guard: validation.Limits{
			MaxArrayItems:    c.Guard.MaxArrayItems,
			MaxStringLength:  c.Guard.MaxStringLength,
			MaxDepth:         c.Guard.MaxNestingDepth,
			MaxFilterClauses: c.Guard.MaxFilterClauses,
		},
		ClientIDSalt:      c.Logging.ClientIDSalt,
		TrustProxyHeaders: c.Server.TrustProxyHeaders,
		CORS: gate.CORSSettings{
			AllowedOrigins: append([]string(nil), c.CORS.AllowedOrigins...),
			AllowedMethods: append([]string(nil), c.CORS.AllowedMethods...),
			AllowedHeaders: append([]string(nil), c.CORS.AllowedHeaders...),
			MaxAge:         time.Duration(c.CORS.MaxAgeSeconds) * time.Second,
		},
		StreamingPrefixes:       append([]string(nil), c.Streaming.PathPrefixes...),
		MaxStreamingConnections: c.Streaming.MaxConnections,
	}, nil
}

// Duration parses a validated duration field, returning 0 for "" or "0".
func Duration(s string) time.Duration {
	d, _ := parseDuration("", s)
	return d
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
