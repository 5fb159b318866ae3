// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, payment
// rails, webhook delivery, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-payments-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ChainConfig defines the on-chain settlement rail.
type ChainConfig struct {
	Network        string            // network name, e.g. "base"
	ChainID        int64             // EVM chain id
	RPCEndpoint    string            // JSON-RPC endpoint
	AssetContracts map[string]string // asset code -> token contract address
	PayTo          string            // service settlement wallet address
	WalletKey      string            // hex private key of the settlement wallet (refunds)
	MinConfs       uint64            // confirmation depth required to settle
	WalletLow      int64             // low-balance tier threshold, atomic units
	WalletCritical int64             // critical-balance tier threshold, atomic units
	MonitorEvery   time.Duration     // wallet sampling interval
}

// ProcessorConfig defines the card rail.
type ProcessorConfig struct {
	Secret  string // shared HMAC secret for inbound webhooks and outbound calls
	BaseURL string // processor API root for refund execution
}

// WebhookConfig defines outbound event delivery.
type WebhookConfig struct {
	Destinations map[string]string // tenant id -> delivery URL
	Secrets      map[string]string // tenant id -> signing secret
	MaxAttempts  int               // delivery budget before dead-lettering
	PollInterval time.Duration     // dispatcher cycle interval
	Backoff      time.Duration     // initial retry delay
	MaxBackoff   time.Duration     // retry delay cap
}

// PaymentsConfig defines quoting and settlement behavior.
type PaymentsConfig struct {
	QuoteTTL      time.Duration // payment quote lifetime
	CartTTL       time.Duration // cart quote lifetime
	RefundTTL     time.Duration // refund quote lifetime
	StackPolicy   string        // coupon stacking: all|best
	Retention     time.Duration // settlement archive window
	SweepInterval time.Duration // expiry/purge sweep cadence
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Domain
	Payments  PaymentsConfig
	Chain     ChainConfig
	Processor ProcessorConfig
	Webhook   WebhookConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "payments.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Payments
		Payments: PaymentsConfig{
			QuoteTTL:      getdur("QUOTE_TTL", 15*time.Minute),
			CartTTL:       getdur("CART_TTL", 30*time.Minute),
			RefundTTL:     getdur("REFUND_TTL", 24*time.Hour),
			StackPolicy:   strings.ToLower(getenv("COUPON_STACK_POLICY", "best")),
			Retention:     getdur("SETTLEMENT_RETENTION", 90*24*time.Hour),
			SweepInterval: getdur("SWEEP_INTERVAL", 5*time.Minute),
		},

		// On-chain rail
		Chain: ChainConfig{
			Network:        getenv("CHAIN_NETWORK", "base"),
			ChainID:        int64(getint("CHAIN_ID", 8453)),
			RPCEndpoint:    getenv("CHAIN_RPC_ENDPOINT", ""),
			AssetContracts: splitKV(getenv("CHAIN_ASSET_CONTRACTS", "")),
			PayTo:          getenv("CHAIN_PAY_TO", ""),
			WalletKey:      getenv("CHAIN_WALLET_KEY", ""),
			MinConfs:       uint64(getint("CHAIN_MIN_CONFIRMATIONS", 1)),
			WalletLow:      int64(getint("WALLET_LOW_ATOMIC", 100_000_000)),
			WalletCritical: int64(getint("WALLET_CRITICAL_ATOMIC", 10_000_000)),
			MonitorEvery:   getdur("WALLET_MONITOR_INTERVAL", time.Minute),
		},

		// Card rail
		Processor: ProcessorConfig{
			Secret:  getenv("PROCESSOR_SECRET", ""),
			BaseURL: getenv("PROCESSOR_BASE_URL", ""),
		},

		// Outbound webhooks
		Webhook: WebhookConfig{
			Destinations: splitKV(getenv("WEBHOOK_DESTINATIONS", "")),
			Secrets:      splitKV(getenv("WEBHOOK_SECRETS", "")),
			MaxAttempts:  getint("WEBHOOK_MAX_ATTEMPTS", 5),
			PollInterval: getdur("WEBHOOK_POLL_INTERVAL", 2*time.Second),
			Backoff:      getdur("WEBHOOK_BACKOFF", 30*time.Second),
			MaxBackoff:   getdur("WEBHOOK_MAX_BACKOFF", time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-payments-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Payments.QuoteTTL <= 0 || cfg.Payments.CartTTL <= 0 || cfg.Payments.RefundTTL <= 0 {
		return cfg, errors.New("quote TTLs must be > 0")
	}
	switch cfg.Payments.StackPolicy {
	case "all", "best":
	default:
		return cfg, errors.New("COUPON_STACK_POLICY must be one of: all, best")
	}
	if cfg.Webhook.MaxAttempts < 1 {
		return cfg, errors.New("WEBHOOK_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Webhook.Backoff <= 0 || cfg.Webhook.MaxBackoff < cfg.Webhook.Backoff {
		return cfg, errors.New("webhook backoff must be positive and capped above the initial delay")
	}
	if cfg.Chain.MinConfs < 1 {
		return cfg, errors.New("CHAIN_MIN_CONFIRMATIONS must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// splitKV parses "key=value,key2=value2" into a map. Entries without '='
// are skipped.
func splitKV(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
