// Package config provides application configuration loaded from environment
// variables with defaults and validation. An optional YAML file named by
// CONFIG_FILE supplies values below the environment: a key set in both
// places takes the environment's value.
//
// The YAML file is a flat mapping of the same variable names:
//
//	PORT: 8080
//	DB_DRIVER: postgres
//	DATABASE_URL: postgres://chat:chat@db:5432/chat
//	GATEWAY_EVENT_RATE: 5
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CORSConfig defines Cross-Origin Resource Sharing settings. The allowlist
// also gates browser websocket handshakes.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "jobboard-chat")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	URL    string // DATABASE_URL (postgres)
	Path   string // DB_PATH (sqlite file)
}

// DSN returns the connection string for the selected driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return d.URL
	}
	return d.Path
}

// RedisConfig enables the conversation cache and the cross-node relay.
// An empty URL disables both.
type RedisConfig struct {
	URL          string        // REDIS_URL
	CachePrefix  string        // REDIS_CACHE_PREFIX
	CacheTTL     time.Duration // CONVERSATION_CACHE_TTL
	RelayChannel string        // GATEWAY_RELAY_CHANNEL
}

// AuthConfig configures principal resolution.
type AuthConfig struct {
	JWTSecret  string // JWT_SECRET (HS256)
	DevHeaders bool   // AUTH_DEV_HEADERS: accept raw {id,type}; never in production
}

// GatewayConfig tunes the live delivery gateway.
type GatewayConfig struct {
	SendTimeout time.Duration // GATEWAY_SEND_TIMEOUT
	EventRate   float64       // GATEWAY_EVENT_RATE, events/s per connection (0 = unlimited)
	EventBurst  int           // GATEWAY_EVENT_BURST
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
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Stores
	Database DatabaseConfig
	Redis    RedisConfig

	// Messaging
	DefaultPageSize int // DEFAULT_PAGE_SIZE
	MaxPageSize     int // MAX_PAGE_SIZE
	MaxContentRunes int // MAX_CONTENT_RUNES (0 = unbounded)

	Auth    AuthConfig
	Gateway GatewayConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig

	// File is the YAML file that was read, if any.
	File string
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from CONFIG_FILE (if set) and environment
// variables, applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	file := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	src, err := readFile(file)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		// Server
		Port:              src.getenv("PORT", "8080"),
		ReadTimeout:       src.getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: src.getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      src.getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       src.getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    src.getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(src.getint("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(src.getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(src.getenv("LOG_LEVEL", "info")),
		LogPretty:      src.getbool("LOG_PRETTY", false),
		SwaggerEnabled: src.getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(src.getenv("API_BASE_PATH", "/api/v1")),

		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(src.getenv("DB_DRIVER", "sqlite"))),
			URL:    src.getenv("DATABASE_URL", ""),
			Path:   src.getenv("DB_PATH", "chat.db"),
		},
		Redis: RedisConfig{
			URL:          src.getenv("REDIS_URL", ""),
			CachePrefix:  src.getenv("REDIS_CACHE_PREFIX", "jobboard:"),
			CacheTTL:     src.getdur("CONVERSATION_CACHE_TTL", 30*time.Second),
			RelayChannel: src.getenv("GATEWAY_RELAY_CHANNEL", "jobboard:gateway:rooms"),
		},

		DefaultPageSize: src.getint("DEFAULT_PAGE_SIZE", 15),
		MaxPageSize:     src.getint("MAX_PAGE_SIZE", 100),
		MaxContentRunes: src.getint("MAX_CONTENT_RUNES", 4000),

		Auth: AuthConfig{
			JWTSecret:  src.getenv("JWT_SECRET", ""),
			DevHeaders: src.getbool("AUTH_DEV_HEADERS", false),
		},
		Gateway: GatewayConfig{
			SendTimeout: src.getdur("GATEWAY_SEND_TIMEOUT", 5*time.Second),
			EventRate:   src.getfloat("GATEWAY_EVENT_RATE", 5.0),
			EventBurst:  src.getint("GATEWAY_EVENT_BURST", 10),
		},

		// Rate limiting
		RateRPS:   src.getfloat("RATE_RPS", 5.0),
		RateBurst: src.getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(src.getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: src.getbool("ENABLE_HSTS", false),
			HSTSMaxAge: src.getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: src.getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     src.getbool("OTEL_ENABLED", false),
			Endpoint:    src.getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    src.getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: src.getenv("OTEL_SERVICE_NAME", "jobboard-chat"),
			SampleRatio: src.getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},

		File: file,
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
	if cfg.Database.Driver == "postgresql" {
		cfg.Database.Driver = "postgres"
	}

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be > 0")
	}
	switch cfg.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Database.Path) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Database.URL) == "" {
			return errors.New("DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.Redis.CacheTTL < 0 {
		return errors.New("CONVERSATION_CACHE_TTL must be >= 0")
	}
	if cfg.DefaultPageSize < 1 || cfg.MaxPageSize < cfg.DefaultPageSize {
		return errors.New("DEFAULT_PAGE_SIZE must be >= 1 and <= MAX_PAGE_SIZE")
	}
	if cfg.MaxContentRunes < 0 {
		return errors.New("MAX_CONTENT_RUNES must be >= 0")
	}
	if cfg.Gateway.SendTimeout <= 0 {
		return errors.New("GATEWAY_SEND_TIMEOUT must be > 0")
	}
	if cfg.Gateway.EventRate < 0 || cfg.Gateway.EventBurst < 1 {
		return errors.New("GATEWAY_EVENT_RATE must be >= 0 and GATEWAY_EVENT_BURST >= 1")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// ---- helpers ----

// source holds the values read from the YAML file. Lookups consult the
// environment first.
type source map[string]string

// readFile parses path into a source; an empty path yields an empty source.
func readFile(path string) (source, error) {
	if path == "" {
		return source{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
	}
	out := make(source, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				parts = append(parts, fmt.Sprint(p))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(t)
		}
	}
	return out, nil
}

func (s source) lookup(k string) (string, bool) {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v, true
	}
	v, ok := s[k]
	return v, ok && v != ""
}

func (s source) getenv(k, def string) string {
	if v, ok := s.lookup(k); ok {
		return v
	}
	return def
}

func (s source) getfloat(k string, def float64) float64 {
	if v, ok := s.lookup(k); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func (s source) getint(k string, def int) int {
	if v, ok := s.lookup(k); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func (s source) getbool(k string, def bool) bool {
	if v, ok := s.lookup(k); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func (s source) getdur(k string, def time.Duration) time.Duration {
	if v, ok := s.lookup(k); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
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
