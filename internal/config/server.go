package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Server holds process settings for cmd/server, read from the environment.
type Server struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	SQLitePath  string
	Workers     int
	CacheTTL    time.Duration
}

// LoadServer reads PORT, DATABASE_URL, REDIS_URL, SQLITE_PATH, SIM_WORKERS
// and CACHE_TTL, falling back to defaults for anything unset.
func LoadServer() (*Server, error) {
	cfg := &Server{
		Port:        os.Getenv("PORT"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
	}

	if v := os.Getenv("SIM_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("SIM_WORKERS must be a positive integer, got %q", v)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("CACHE_TTL: %w", err)
		}
		cfg.CacheTTL = ttl
	}

	// Defaults
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return cfg, nil
}
