package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/gate"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/validation"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if !cfg.Server.TrustProxyHeaders {
		t.Error("TrustProxyHeaders should default to true")
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should default to true")
	}
	if !cfg.RateLimit.FailOpen {
		t.Error("RateLimit.FailOpen should default to true")
	}
	if cfg.Signature.NonceFailOpen {
		t.Error("Signature.NonceFailOpen should default to false")
	}
	if cfg.RateLimit.RequestsPerWindow != 60 || cfg.RateLimit.Window != "1m" {
		t.Errorf("rate = %d per %s, want 60 per 1m", cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window)
	}
	if cfg.RateLimit.CleanupInterval != "" {
		t.Errorf("CleanupInterval = %q, want empty (lazy expiry)", cfg.RateLimit.CleanupInterval)
	}
	if cfg.Body.MaxBytes != 1<<20 {
		t.Errorf("MaxBytes = %d, want 1MiB", cfg.Body.MaxBytes)
	}
	if cfg.Guard.MaxNestingDepth != validation.DefaultLimits().MaxDepth {
		t.Errorf("MaxNestingDepth = %d", cfg.Guard.MaxNestingDepth)
	}
	if len(cfg.CORS.AllowedOrigins) != 0 {
		t.Errorf("AllowedOrigins = %v, want empty (deny all)", cfg.CORS.AllowedOrigins)
	}
	if cfg.CORS.MaxAgeSeconds != 600 {
		t.Errorf("MaxAgeSeconds = %d, want 600", cfg.CORS.MaxAgeSeconds)
	}
	if len(cfg.Streaming.PathPrefixes) != 1 || cfg.Streaming.PathPrefixes[0] != "/stream" {
		t.Errorf("PathPrefixes = %v", cfg.Streaming.PathPrefixes)
	}
	if cfg.Redis.KeyPrefix != "rpcgate:" {
		t.Errorf("KeyPrefix = %q", cfg.Redis.KeyPrefix)
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:    ServerConfig{HTTPAddr: ":9090", LogFormat: "json"},
		RateLimit: RateLimitConfig{RequestsPerWindow: 5, Window: "10s", Store: StoreRedis},
		Guard:     GuardConfig{MaxNestingDepth: 3},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" || cfg.Server.LogFormat != "json" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.RateLimit.RequestsPerWindow != 5 || cfg.RateLimit.Window != "10s" || cfg.RateLimit.Store != StoreRedis {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	// A partially configured guard block keeps its zeros.
	if cfg.Guard.MaxArrayItems != 0 || cfg.Guard.MaxNestingDepth != 3 {
		t.Errorf("guard = %+v", cfg.Guard)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Upstream.URL == "" {
		t.Error("dev mode should provide an upstream")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("dev config should validate: %v", err)
	}

	prod := Config{}
	prod.SetDevDefaults()
	if prod.Upstream.URL != "" {
		t.Error("SetDevDefaults changed a non-dev config")
	}
}

func TestConfig_ToSettings(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.RateLimit.RequestsPerWindow = 3
	cfg.RateLimit.Window = "30s"
	cfg.Signature.Secret = strings.Repeat("k", 32)
	cfg.Signature.MaxSkewSeconds = 60
	cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
	cfg.Logging.ClientIDSalt = "salt"

	s, err := cfg.ToSettings()
	if err != nil {
		t.Fatalf("ToSettings: %v", err)
	}
	if s.RatePolicy.Limit != 3 || s.RatePolicy.Window != 30*time.Second {
		t.Errorf("RatePolicy = %+v", s.RatePolicy)
	}
	if s.Signature.MaxSkew != time.Minute || s.Signature.Secret != cfg.Signature.Secret {
		t.Errorf("Signature = %+v", s.Signature)
	}
	if s.CORS.MaxAge != 10*time.Minute {
		t.Errorf("CORS.MaxAge = %v", s.CORS.MaxAge)
	}
	if s.ClientIDSalt != "salt" || !s.TrustProxyHeaders {
		t.Errorf("client id settings = %q %v", s.ClientIDSalt, s.TrustProxyHeaders)
	}

	// The snapshot does not alias the config.
	cfg.CORS.AllowedOrigins[0] = "https://changed.example.com"
	if s.CORS.AllowedOrigins[0] != "https://app.example.com" {
		t.Error("settings snapshot aliases config slices")
	}
}

func TestConfig_UsesRedis(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	if cfg.UsesRedis() {
		t.Error("empty config uses redis")
	}
	cfg.Signature.NonceStore = StoreRedis
	if !cfg.UsesRedis() {
		t.Error("redis nonce store not detected")
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]time.Duration{"": 0, "0": 0, "5m": 5 * time.Minute, "bad": 0} {
		if got := Duration(in); got != want {
			t.Errorf("Duration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSource_Reload(t *testing.T) {
	t.Parallel()

	initial := gate.DefaultSettings()
	src := NewSource(initial, nil)
	if src.Current() != initial {
		t.Fatal("Current did not return the initial snapshot")
	}

	err := src.Reload(func() (*Config, error) { return nil, errors.New("broken yaml") })
	if err == nil {
		t.Fatal("Reload with failing loader returned nil")
	}
	if src.Current() != initial {
		t.Error("failed reload replaced the snapshot")
	}

	err = src.Reload(func() (*Config, error) {
		cfg := minimalValidConfig()
		cfg.RateLimit.RequestsPerWindow = 7
		return cfg, nil
	})
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := src.Current().RatePolicy.Limit; got != 7 {
		t.Errorf("limit after reload = %d, want 7", got)
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "rpcgate.yaml")
	yaml := `
upstream:
  url: http://127.0.0.1:9000
rate_limit:
  enabled: false
  requests_per_window: 10
cors:
  allowed_origins:
    - https://app.example.com
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RPCGATE_SIGNATURE_NONCE_CAPACITY", "42")
	t.Setenv("RPCGATE_SERVER_TRUST_PROXY_HEADERS", "false")

	InitViper(path)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Upstream.URL != "http://127.0.0.1:9000" {
		t.Errorf("Upstream.URL = %q", cfg.Upstream.URL)
	}
	if cfg.RateLimit.Enabled {
		t.Error("explicit rate_limit.enabled=false was overridden by the default")
	}
	if cfg.RateLimit.RequestsPerWindow != 10 {
		t.Errorf("RequestsPerWindow = %d, want 10", cfg.RateLimit.RequestsPerWindow)
	}
	if cfg.Signature.NonceCapacity != 42 {
		t.Errorf("NonceCapacity = %d, want 42 from env", cfg.Signature.NonceCapacity)
	}
	if cfg.Server.TrustProxyHeaders {
		t.Error("env trust_proxy_headers=false was overridden by the default")
	}
	if ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed = %q, want %q", ConfigFileUsed(), path)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "rpcgate.yaml")
	if err := os.WriteFile(path, []byte("upstream:\n  url: not a url\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	InitViper(path)
	_, err := LoadConfig()
	if err == nil {
		t.Fatal("LoadConfig accepted an invalid upstream url")
	}
	if !strings.Contains(err.Error(), "Upstream.URL") {
		t.Errorf("error = %v, want mention of Upstream.URL", err)
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "rpcgate.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0o644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "rpcgate" with no extension
	_ = os.WriteFile(filepath.Join(dir, "rpcgate"), []byte("\x7fELF binary"), 0o755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "rpcgate.yaml")
	ymlPath := filepath.Join(dir, "rpcgate.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0o644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0o644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
