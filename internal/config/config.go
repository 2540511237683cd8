// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment      string
	HTTPAddr         string
	GRPCAddr         string
	DatabaseDSN      string
	AuthSecret       string
	Issuer           string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	LockoutThreshold int
	RateLimitRPS     int
	RateLimitBurst   int
	MaxBodyBytes     int64
	ShutdownTimeout  time.Duration
	PruneInterval    time.Duration
	PruneGrace       time.Duration
}

// Load reads configuration from environment variables with sane defaults.
// A local .env file is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:      getEnv("COREBANK_ENV", "production"),
		HTTPAddr:         getEnv("COREBANK_HTTP_ADDR", ":8080"),
		GRPCAddr:         os.Getenv("COREBANK_GRPC_ADDR"),
		DatabaseDSN:      os.Getenv("COREBANK_PG_DSN"),
		AuthSecret:       strings.TrimSpace(os.Getenv("COREBANK_AUTH_SECRET")),
		Issuer:           getEnv("COREBANK_ISSUER", "corebank"),
		AccessTTL:        getDuration("COREBANK_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:       getDuration("COREBANK_REFRESH_TTL", 7*24*time.Hour),
		LockoutThreshold: getInt("COREBANK_LOCKOUT_THRESHOLD", 5),
		RateLimitRPS:     getInt("COREBANK_RATE_LIMIT_RPS", 20),
		RateLimitBurst:   getInt("COREBANK_RATE_LIMIT_BURST", 40),
		MaxBodyBytes:     int64(getInt("COREBANK_MAX_BODY_BYTES", 1<<20)),
		ShutdownTimeout:  getDuration("COREBANK_SHUTDOWN_TIMEOUT", 10*time.Second),
		PruneInterval:    getDuration("COREBANK_SESSION_PRUNE_INTERVAL", time.Hour),
		PruneGrace:       getDuration("COREBANK_SESSION_PRUNE_GRACE", 24*time.Hour),
	}

	if cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("COREBANK_AUTH_SECRET is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return Config{}, fmt.Errorf("token lifetimes must be positive")
	}
	if cfg.LockoutThreshold < 1 {
		return Config{}, fmt.Errorf("COREBANK_LOCKOUT_THRESHOLD must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
