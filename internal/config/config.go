package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the server configuration.
type Config struct {
	DatabaseURL       string
	RedisURL          string
	JWTSecret         string
	ServerAddr        string
	LogLevel          slog.Level
	ReadCountCacheTTL time.Duration
	ReceiptsRateLimit int
}

// Load reads the server configuration from the environment. It panics when a
// required variable is missing.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          envOrDefault("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		ServerAddr:        envOrDefault("SERVER_ADDR", ":8080"),
		LogLevel:          parseLogLevel(os.Getenv("LOG_LEVEL")),
		ReadCountCacheTTL: envDuration("READ_COUNT_CACHE_TTL", 30*time.Second),
		ReceiptsRateLimit: envInt("RECEIPTS_RATE_LIMIT", 600),
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		panic(fmt.Sprintf("required environment variables not set: %s", strings.Join(missing, ", ")))
	}

	return cfg
}

// ClientConfig is the configuration of the CLI client stack.
type ClientConfig struct {
	ServerURL           string
	GatewayURL          string
	AuthToken           string
	LogLevel            slog.Level
	ReadCountRPS        float64
	IndicatorMinVisible time.Duration
}

// LoadClient reads the client configuration from the environment. GATEWAY_URL
// defaults to the /gateway endpoint of SERVER_URL.
func LoadClient() *ClientConfig {
	cfg := &ClientConfig{
		ServerURL:           strings.TrimRight(envOrDefault("SERVER_URL", "http://localhost:8080"), "/"),
		GatewayURL:          os.Getenv("GATEWAY_URL"),
		AuthToken:           os.Getenv("AUTH_TOKEN"),
		LogLevel:            parseLogLevel(os.Getenv("LOG_LEVEL")),
		ReadCountRPS:        envFloat("READ_COUNT_RPS", 10),
		IndicatorMinVisible: envDuration("INDICATOR_MIN_VISIBLE", 500*time.Millisecond),
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = gatewayURLFor(cfg.ServerURL)
	}
	return cfg
}

func gatewayURLFor(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "ws://localhost:8080/gateway"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/gateway"
	return u.String()
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("ignoring invalid duration", "key", key, "value", v)
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("ignoring invalid integer", "key", key, "value", v)
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		slog.Warn("ignoring invalid number", "key", key, "value", v)
		return fallback
	}
	return f
}
