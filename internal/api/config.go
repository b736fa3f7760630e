// Package api wires the HTTP surface: routing, middleware composition,
// request/response shapes, and graceful lifecycle.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/errly-io/errly/internal/config"
)

const (
	DefaultPort            = 8080
	MaxPort                = 65535
	DefaultHost            = "0.0.0.0"
	DefaultTimeout         = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultCORSMaxAge      = 86400

	DefaultAPIRPMPerKey = 300
	DefaultIngestRPM    = 600
	DefaultBurstSize    = 50
	ipBucketLimit       = 60

	// DefaultGlobalRPS is the process-wide throttle applied ahead of the
	// per-key limiter. 0 disables it.
	DefaultGlobalRPS   = 0
	DefaultGlobalBurst = 200
)

var (
	ErrInvalidPort            = errors.New("invalid port")
	ErrEmptyHost              = errors.New("host cannot be empty")
	ErrInvalidReadTimeout     = errors.New("read timeout must be positive")
	ErrInvalidWriteTimeout    = errors.New("write timeout must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// ServerConfig holds HTTP server, CORS, and rate-limit policy
// configuration, loaded from the environment.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
	Environment     string

	PostgresURL string
	RedisURL    string

	APIRPMPerKey int
	IngestRPM    int
	BurstSize    int
	IPBucketRPM  int
	GlobalRPS    int
	GlobalBurst  int

	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int
}

// LoadServerConfig reads ServerConfig from the environment, falling back
// to development-friendly defaults. An optional local YAML file (see
// DefaultConfigFilePath) can additionally supply defaults for a handful of
// policy fields; any variable actually set in the environment overrides it.
func LoadServerConfig() ServerConfig {
	cfg := loadServerConfigFromEnv()

	path := config.GetEnvStr(ConfigFilePathEnvVar, DefaultConfigFilePath)
	overrides := loadFileOverrides(path)
	overrides.applyTo(&cfg, func(key string) bool {
		_, set := os.LookupEnv(key)

		return set
	})

	return cfg
}

func loadServerConfigFromEnv() ServerConfig {
	return ServerConfig{
		Host:            config.GetEnvStr("SERVER_HOST", DefaultHost),
		Port:            config.GetEnvInt("SERVER_PORT", DefaultPort),
		ReadTimeout:     config.GetEnvDuration("READ_TIMEOUT", DefaultTimeout),
		WriteTimeout:    config.GetEnvDuration("WRITE_TIMEOUT", DefaultTimeout),
		IdleTimeout:     config.GetEnvDuration("IDLE_TIMEOUT", DefaultTimeout),
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		Environment:     config.GetEnvStr("ENVIRONMENT", "development"),

		PostgresURL: config.GetEnvStr("POSTGRES_URL", ""),
		RedisURL:    config.GetEnvStr("REDIS_URL", ""),

		APIRPMPerKey: config.GetEnvInt("API_RPM_PER_KEY", DefaultAPIRPMPerKey),
		IngestRPM:    config.GetEnvInt("INGEST_RPM", DefaultIngestRPM),
		BurstSize:    config.GetEnvInt("BURST_SIZE", DefaultBurstSize),
		IPBucketRPM:  ipBucketLimit,
		GlobalRPS:    config.GetEnvInt("GLOBAL_RPS", DefaultGlobalRPS),
		GlobalBurst:  config.GetEnvInt("GLOBAL_BURST", DefaultGlobalBurst),

		CORSAllowedOrigins: config.ParseCommaSeparatedList(config.GetEnvStr("CORS_ALLOWED_ORIGINS", "*")),
		CORSAllowedMethods: config.ParseCommaSeparatedList(
			config.GetEnvStr("CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS"),
		),
		CORSAllowedHeaders: config.ParseCommaSeparatedList(
			config.GetEnvStr("CORS_ALLOWED_HEADERS", "Content-Type,Authorization,X-Correlation-ID"),
		),
		CORSMaxAge: config.GetEnvInt("CORS_MAX_AGE", DefaultCORSMaxAge),
	}
}

// Address returns the host:port the server should listen on.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the fields the HTTP server itself depends on.
func (c ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > MaxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, MaxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	return nil
}

// corsConfig adapts ServerConfig's CORS fields to middleware.CORSConfig.
type corsConfig struct {
	origins []string
	methods []string
	headers []string
	maxAge  int
}

func (c ServerConfig) toCORSConfig() corsConfig {
	return corsConfig{
		origins: c.CORSAllowedOrigins,
		methods: c.CORSAllowedMethods,
		headers: c.CORSAllowedHeaders,
		maxAge:  c.CORSMaxAge,
	}
}

func (c corsConfig) GetAllowedOrigins() []string { return c.origins }
func (c corsConfig) GetAllowedMethods() []string { return c.methods }
func (c corsConfig) GetAllowedHeaders() []string { return c.headers }
func (c corsConfig) GetMaxAge() int              { return c.maxAge }
