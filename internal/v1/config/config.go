package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Network
	ListenAddress string

	// Room / floor limits
	MaxConnectionsPerRoom int
	FloorMaxDuration      time.Duration
	AuthTimeout           time.Duration
	IdleTimeout           time.Duration

	// Authentication
	AllowDevAuth bool
	AuthDomain   string
	AuthAudience string

	// Directory store
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Push gateway
	PushGatewayURL string
	PushGatewayKey string

	// Misc
	GoEnv             string
	LogLevel          string
	AllowedOrigins    string
	OtelCollectorAddr string

	// Rate limits (ulule/limiter formatted rates)
	RateLimitWsIP   string
	RateLimitWsUser string
}

// Defaults for the timing and capacity knobs.
const (
	DefaultListenAddress         = ":8080"
	DefaultMaxConnectionsPerRoom = 50
	DefaultFloorMaxDurationMs    = 120000
	DefaultAuthTimeoutMs         = 10000
	DefaultIdleTimeoutMs         = 45000
)

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error if any variable is missing or invalid; the caller exits
// non-zero before binding the port.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.ListenAddress = getEnvOrDefault("LISTEN_ADDRESS", DefaultListenAddress)
	if !isValidListenAddress(cfg.ListenAddress) {
		errs = append(errs, fmt.Sprintf("LISTEN_ADDRESS must be in format 'host:port' (got '%s')", cfg.ListenAddress))
	}

	cfg.MaxConnectionsPerRoom = getEnvInt(&errs, "MAX_CONNECTIONS_PER_ROOM", DefaultMaxConnectionsPerRoom, 1)
	cfg.FloorMaxDuration = time.Duration(getEnvInt(&errs, "FLOOR_MAX_DURATION_MS", DefaultFloorMaxDurationMs, 1)) * time.Millisecond
	cfg.AuthTimeout = time.Duration(getEnvInt(&errs, "AUTH_TIMEOUT_MS", DefaultAuthTimeoutMs, 1)) * time.Millisecond
	cfg.IdleTimeout = time.Duration(getEnvInt(&errs, "IDLE_TIMEOUT_MS", DefaultIdleTimeoutMs, 1)) * time.Millisecond

	cfg.AllowDevAuth = os.Getenv("ALLOW_DEV_AUTH") == "true"
	cfg.AuthDomain = os.Getenv("AUTH_DOMAIN")
	cfg.AuthAudience = os.Getenv("AUTH_AUDIENCE")
	if !cfg.AllowDevAuth {
		if cfg.AuthDomain == "" {
			errs = append(errs, "AUTH_DOMAIN is required when ALLOW_DEV_AUTH is not enabled")
		}
		if cfg.AuthAudience == "" {
			errs = append(errs, "AUTH_AUDIENCE is required when ALLOW_DEV_AUTH is not enabled")
		}
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
		if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.PushGatewayURL = os.Getenv("PUSH_GATEWAY_URL")
	cfg.PushGatewayKey = os.Getenv("PUSH_GATEWAY_KEY")

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

// IsDevelopment reports whether the process runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.GoEnv != "production"
}

// isValidListenAddress accepts "host:port" with an optionally empty host.
func isValidListenAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	_ = host // empty host means all interfaces
	p, err := strconv.Atoi(port)
	return err == nil && p >= 1 && p <= 65535
}

// isValidHostPort checks "host:port" with a non-empty host.
func isValidHostPort(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	p, err := strconv.Atoi(port)
	return err == nil && p >= 1 && p <= 65535
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(errs *[]string, key string, defaultValue, minimum int) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < minimum {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer >= %d (got '%s')", key, minimum, raw))
		return defaultValue
	}
	return v
}
