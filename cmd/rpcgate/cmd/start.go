package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/rpcgate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/rpcgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/rpcgate/internal/adapter/outbound/redis"
	"github.com/Sentinel-Gate/rpcgate/internal/adapter/outbound/upstream"
	"github.com/Sentinel-Gate/rpcgate/internal/config"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/gate"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/rpcgate/internal/observability"
	"github.com/Sentinel-Gate/rpcgate/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the rpcgate server in front of upstream.url.

Examples:
  # Start with config file settings
  rpcgate start

  # Start with no config file, forwarding to http://127.0.0.1:3000
  rpcgate start --dev

  # Start with a specific config file
  rpcgate --config /path/to/rpcgate.yaml start`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, local upstream and origin)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so the --dev flag can fill required fields first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C kills hard.
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(os.Stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(logger)

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	for _, w := range startupWarnings(cfg) {
		logger.Warn(w)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer func() { _ = os.Remove(pidPath) }()
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("rpcgate stopped")
	return nil
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	settings, err := cfg.ToSettings()
	if err != nil {
		return fmt.Errorf("build settings: %w", err)
	}
	source := config.NewSource(settings, logger)
	if config.ConfigFileUsed() != "" {
		source.WatchConfig(cfg.DevMode)
	}

	otelProvider, err := observability.Setup(observability.Config{
		ServiceName:     "rpcgate",
		TracingEnabled:  cfg.Observability.Tracing.Enabled,
		SampleRate:      cfg.Observability.Tracing.SampleRate,
		MetricsStdout:   cfg.Observability.Metrics.OTelStdout,
		MetricsInterval: config.Duration(cfg.Observability.Metrics.Interval),
	}, Version)
	if err != nil {
		return fmt.Errorf("observability setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown", "error", err)
		}
	}()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promMetrics := http.NewMetrics(registry)
	var sink gate.MetricsSink = promMetrics
	if ms := otelProvider.MeterSink(); ms != nil {
		sink = gate.MultiSink{promMetrics, ms}
	}

	limiter := ratelimit.NewFixedWindowLimiter(st.rate, ratelimit.WithLogger(logger))
	signatures := auth.NewSignatureVerifier(st.nonces, auth.WithVerifierLogger(logger))
	pipeline := service.NewPipeline(limiter, auth.NewTokenVerifier(), signatures,
		service.WithMetrics(sink),
		service.WithPipelineLogger(logger),
	)

	forwarder, err := upstream.New(cfg.Upstream.URL,
		upstream.WithTimeout(config.Duration(cfg.Upstream.Timeout)),
		upstream.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}

	throttle := gate.NewThrottle()
	handler := http.NewHandler(pipeline, forwarder,
		http.WithSettings(source),
		http.WithThrottle(throttle),
		http.WithMetricsSink(sink),
		http.WithHandlerLogger(logger),
	)

	healthOpts := []http.HealthOption{http.WithThrottleCheck(throttle, source)}
	var rateKeys http.Sizer
	if st.memRate != nil {
		rateKeys = st.memRate
		healthOpts = append(healthOpts, http.WithRateStoreCheck(st.memRate))
	}
	if st.memNonces != nil {
		healthOpts = append(healthOpts, http.WithNonceCacheCheck(st.memNonces))
	}
	if st.redis != nil {
		healthOpts = append(healthOpts, http.WithRemoteStoreCheck(st.redis))
	}
	http.RegisterGauges(registry, throttle, rateKeys)

	transportOpts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithRegistry(registry),
		http.WithHealthChecker(http.NewHealthChecker(Version, healthOpts...)),
		http.WithReadHeaderTimeout(config.Duration(cfg.Server.ReadHeaderTimeout)),
		http.WithShutdownTimeout(config.Duration(cfg.Server.ShutdownTimeout)),
	}
	if cfg.Server.TLSCertFile != "" {
		transportOpts = append(transportOpts, http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	transport := http.NewHTTPTransport(handler, transportOpts...)

	logger.Info("rpcgate starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"upstream", forwarder.Target(),
		"rate_limit", cfg.RateLimit.Enabled,
		"rate_store", cfg.RateLimit.Store,
		"nonce_store", cfg.Signature.NonceStore,
		"static_auth", cfg.StaticAuth.Required,
		"signatures", cfg.Signature.Secret != "",
		"tracing", otelProvider.TracingEnabled(),
	)

	return transport.Start(ctx)
}

// stores holds the shared state components. Exactly one of memRate or a
// Redis-backed rate store is in use, likewise for nonces.
type stores struct {
	rate   ratelimit.Store
	nonces auth.NonceStore

	memRate   *memory.RateStore
	memNonces *memory.NonceCache
	redis     *redis.Client
}

// openStores builds the rate and nonce stores selected by cfg.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{}

	if cfg.UsesRedis() {
		client, err := redis.New(ctx, redis.Config{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			DialTimeout: config.Duration(cfg.Redis.DialTimeout),
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		st.redis = client
		logger.Info("connected to redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
	}

	if cfg.RateLimit.Store == config.StoreRedis {
		st.rate = redis.NewRateStore(st.redis)
	} else {
		st.memRate = memory.NewRateStore(
			memory.WithShards(cfg.RateLimit.Shards),
			memory.WithCleanupInterval(config.Duration(cfg.RateLimit.CleanupInterval)),
			memory.WithRateStoreLogger(logger),
		)
		st.memRate.StartCleanup(ctx)
		st.rate = st.memRate
	}

	if cfg.Signature.NonceStore == config.StoreRedis {
		st.nonces = redis.NewNonceStore(st.redis)
	} else {
		st.memNonces = memory.NewNonceCache()
		st.nonces = st.memNonces
	}

	return st, nil
}

// Close stops background work and releases connections.
func (s *stores) Close() {
	if s.memRate != nil {
		s.memRate.Stop()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// startupWarnings lists configuration that works but is probably a mistake.
func startupWarnings(cfg *config.Config) []string {
	var warnings []string
	if cfg.DevMode {
		warnings = append(warnings, "development mode is enabled; do not use in production")
	}
	if s := cfg.Signature.Secret; s != "" && len(s) < auth.MinSecretLength {
		warnings = append(warnings, fmt.Sprintf(
			"signature.secret is shorter than %d bytes; every signed request will be refused", auth.MinSecretLength))
	}
	if cfg.Server.TrustProxyHeaders && !strings.HasPrefix(cfg.Server.HTTPAddr, "127.0.0.1:") && !strings.HasPrefix(cfg.Server.HTTPAddr, "localhost:") {
		warnings = append(warnings, "server.trust_proxy_headers is on while listening beyond localhost; clients can choose their own rate limit key unless a proxy strips X-Forwarded-For")
	}
	if cfg.Logging.ClientIDSalt == "" {
		warnings = append(warnings, "logging.client_id_salt is empty; client ids in logs can be reversed by hashing candidate addresses")
	}
	if !cfg.RateLimit.Enabled {
		warnings = append(warnings, "rate limiting is disabled")
	}
	return warnings
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
