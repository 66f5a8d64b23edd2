// Package config provides configuration management for fundtrack.
//
// Precedence, lowest first: built-in defaults, the YAML file at CONFIG_PATH
// (default config.yaml, optional), then environment variables. A .env file
// in the working directory is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fundnet/fundtrack/internal/freshness"
)

// ErrInvalid is returned when a configuration value is unusable.
var ErrInvalid = errors.New("config: invalid value")

// Config holds application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	App      AppConfig      `yaml:"app"`
	Feed     FeedConfig     `yaml:"feed"`
	CORS     CORSConfig     `yaml:"cors"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig selects the store: Postgres when URL is set, else SQLite
// when SQLitePath is set, else in-memory.
type DatabaseConfig struct {
	URL        string `yaml:"url"`
	SQLitePath string `yaml:"sqlite_path"`
}

// RedisConfig enables the read-through cache when URL is set.
type RedisConfig struct {
	URL        string `yaml:"url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// AppConfig holds the initial runtime settings. Values stored through the
// settings API take precedence on later starts.
type AppConfig struct {
	RefreshInterval int    `yaml:"refresh_interval"` // seconds
	LogLevel        string `yaml:"log_level"`
}

// FeedConfig tunes the price feed client.
type FeedConfig struct {
	BaseURL           string `yaml:"base_url"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
	Concurrency       int    `yaml:"concurrency"`
}

// CORSConfig lists the origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 3800},
		Database: DatabaseConfig{SQLitePath: "fundtrack.db"},
		Redis:    RedisConfig{TTLSeconds: 30},
		App: AppConfig{
			RefreshInterval: freshness.DefaultInterval,
			LogLevel:        "info",
		},
		Feed: FeedConfig{
			BaseURL:           "https://fundgz.1234567.com.cn",
			TimeoutSeconds:    10,
			RequestsPerSecond: 5,
			Concurrency:       4,
		},
		CORS: CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

// Load reads .env, the YAML file and environment overrides, then validates.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Default()
	path := getEnv("CONFIG_PATH", "config.yaml")
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path. A missing file is not an error.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	if c.Server.Port, err = getEnvAsInt("PORT", c.Server.Port); err != nil {
		return err
	}
	if c.App.RefreshInterval, err = getEnvAsInt("REFRESH_INTERVAL", c.App.RefreshInterval); err != nil {
		return err
	}
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.SQLitePath = getEnv("SQLITE_PATH", c.Database.SQLitePath)
	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.Feed.BaseURL = getEnv("FEED_BASE_URL", c.Feed.BaseURL)
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", ErrInvalid, c.Server.Port)
	}
	if err := freshness.ValidateInterval(c.App.RefreshInterval); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.App.LogLevel); err != nil {
		return err
	}
	if c.Feed.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: feed.timeout_seconds %d", ErrInvalid, c.Feed.TimeoutSeconds)
	}
	if c.Feed.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: feed.requests_per_second %d", ErrInvalid, c.Feed.RequestsPerSecond)
	}
	if c.Feed.Concurrency <= 0 {
		return fmt.Errorf("%w: feed.concurrency %d", ErrInvalid, c.Feed.Concurrency)
	}
	if c.Redis.TTLSeconds <= 0 {
		return fmt.Errorf("%w: redis.ttl_seconds %d", ErrInvalid, c.Redis.TTLSeconds)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

// FeedTimeout is the feed request timeout.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSeconds) * time.Second
}

// RedisTTL is the cache entry lifetime.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: log level %q (want debug, info, warn or error)", ErrInvalid, s)
}

// LevelName is the inverse of ParseLogLevel.
func LevelName(l slog.Level) string {
	switch {
	case l <= slog.LevelDebug:
		return "debug"
	case l <= slog.LevelInfo:
		return "info"
	case l <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, value)
	}
	return n, nil
}
