package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures server and sync pipeline configuration.
type Config struct {
	Addr        string
	DatabaseURL string // empty means in-memory stores
	RedisURL    string // empty disables the registration content cache

	PushURL      string // empty disables outbound delivery (null destination)
	PushTimeout  time.Duration
	SyncInterval time.Duration
	SyncWidth    int
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:         getenv("ADDRREG_ADDR", ":8080"),
		DatabaseURL:  os.Getenv("ADDRREG_DATABASE_URL"),
		RedisURL:     os.Getenv("ADDRREG_REDIS_URL"),
		PushURL:      os.Getenv("ADDRREG_PUSH_URL"),
		PushTimeout:  getduration("ADDRREG_PUSH_TIMEOUT", 10*time.Second),
		SyncInterval: getduration("ADDRREG_SYNC_INTERVAL", time.Minute),
		SyncWidth:    getint("ADDRREG_SYNC_WIDTH", 4),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
