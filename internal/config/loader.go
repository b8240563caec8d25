package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for rpcgate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("rpcgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: RPCGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("RPCGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an rpcgate config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".rpcgate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "rpcgate"))
		}
	} else {
		paths = append(paths, "/etc/rpcgate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for rpcgate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "rpcgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys are the scalar keys bound to RPCGATE_* variables.
// Lists (cors.allowed_origins, streaming.path_prefixes) are read from
// the environment as space-separated values by AutomaticEnv.
var envKeys = []string{
	"server.http_addr",
	"server.log_level",
	"server.log_format",
	"server.trust_proxy_headers",
	"server.read_header_timeout",
	"server.shutdown_timeout",
	"server.tls_cert_file",
	"server.tls_key_file",

	"upstream.url",
	"upstream.timeout",

	"rate_limit.enabled",
	"rate_limit.requests_per_window",
	"rate_limit.window",
	"rate_limit.store",
	"rate_limit.fail_open",
	"rate_limit.shards",
	"rate_limit.cleanup_interval",

	"body.max_bytes",

	"static_auth.required",
	"static_auth.token_hash",

	"signature.secret",
	"signature.max_skew_seconds",
	"signature.nonce_capacity",
	"signature.nonce_store",
	"signature.nonce_fail_open",

	"guard.max_array_items",
	"guard.max_string_length",
	"guard.max_nesting_depth",
	"guard.max_filter_clauses",

	"cors.allowed_origins",
	"cors.max_age_seconds",

	"streaming.path_prefixes",
	"streaming.max_connections",

	"logging.client_id_salt",

	"redis.addr",
	"redis.password",
	"redis.db",
	"redis.key_prefix",
	"redis.dial_timeout",

	"observability.tracing.enabled",
	"observability.tracing.sample_rate",
	"observability.metrics.otel_stdout",
	"observability.metrics.interval",

	"dev_mode",
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Example: RPCGATE_SIGNATURE_SECRET overrides signature.secret
func bindNestedEnvKeys() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
