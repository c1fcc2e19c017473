// Package config loads run settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	Cache       CacheConfig
	Threads     int
	Log         LogConfig
}

type CacheConfig struct {
	// Enabled turns the relation cache on; when off every lookup goes to the warehouse
	Enabled bool
	// Strict makes renames of relations the cache does not know an error
	Strict bool
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

// Load reads the configuration. Variables already in the environment win
// over values from envFiles; a missing env file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		DatabaseURL: getEnv("RELCACHE_DATABASE_URL", ""),
		Cache: CacheConfig{
			Enabled: getEnvBool("RELCACHE_USE_CACHE", true),
			Strict:  getEnvBool("RELCACHE_STRICT_CACHE", false),
		},
		Threads: getEnvInt("RELCACHE_THREADS", 4),
		Log: LogConfig{
			Level:  getEnv("RELCACHE_LOG_LEVEL", "info"),
			Format: getEnv("RELCACHE_LOG_FORMAT", "text"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate checks values that have a fixed set of options
func (c *Config) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1, got %d", c.Threads)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (use text or json)", c.Log.Format)
	}
	return nil
}

// SlogLevel parses the configured level
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", l.Level)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
