package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Remote drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Cache backends
const (
	CacheBolt  = "bolt"
	CacheRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	// Identity
	UserID string

	// Remote store
	RemoteDriver string
	DatabaseURL  string
	SQLiteFile   string // $CONFIG_DIR/remote.db

	// Local cache
	CacheBackend  string
	CacheFile     string // $CONFIG_DIR/cache.db
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Sync
	SyncInterval       time.Duration
	LockTimeout        time.Duration
	ResponseCacheTTL   time.Duration // 0 disables the network-first fallback
	TriggerMinInterval time.Duration

	// Server
	ServerPort string

	// Logging
	LogLevel string
	LogFile  string // empty logs to stdout only
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Setup viper to load .env file
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// Load .env file if it exists (ignore if not found)
	_ = v.ReadInConfig()

	// Set defaults
	v.SetDefault("REMOTE_DRIVER", DriverSQLite)
	v.SetDefault("CACHE_BACKEND", CacheBolt)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SYNC_INTERVAL_SECONDS", 15)
	v.SetDefault("LOCK_TIMEOUT_SECONDS", 5)
	v.SetDefault("RESPONSE_CACHE_TTL_MINUTES", 60)
	v.SetDefault("TRIGGER_MIN_INTERVAL_MS", 1000)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")

	configDir := v.GetString("CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config", "shelfsync")
	} else {
		// Convert relative path to absolute path
		absPath, err := filepath.Abs(configDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
		}
		configDir = absPath
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	config := &Config{
		UserID: v.GetString("USER_ID"),

		RemoteDriver: v.GetString("REMOTE_DRIVER"),
		DatabaseURL:  v.GetString("DATABASE_URL"),
		SQLiteFile:   pathOr(v.GetString("SQLITE_FILE"), filepath.Join(configDir, "remote.db")),

		CacheBackend:  v.GetString("CACHE_BACKEND"),
		CacheFile:     pathOr(v.GetString("CACHE_FILE"), filepath.Join(configDir, "cache.db")),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		SyncInterval:       time.Duration(v.GetInt("SYNC_INTERVAL_SECONDS")) * time.Second,
		LockTimeout:        time.Duration(v.GetInt("LOCK_TIMEOUT_SECONDS")) * time.Second,
		ResponseCacheTTL:   time.Duration(v.GetInt("RESPONSE_CACHE_TTL_MINUTES")) * time.Minute,
		TriggerMinInterval: time.Duration(v.GetInt("TRIGGER_MIN_INTERVAL_MS")) * time.Millisecond,

		ServerPort: v.GetString("SERVER_PORT"),

		LogLevel: v.GetString("LOG_LEVEL"),
		LogFile:  v.GetString("LOG_FILE"),
	}

	// Validate required fields
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.UserID == "" {
		return fmt.Errorf("USER_ID is required")
	}

	switch c.RemoteDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown REMOTE_DRIVER %q", c.RemoteDriver)
	}

	switch c.CacheBackend {
	case CacheBolt, CacheRedis:
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}

	if c.SyncInterval < time.Second {
		return fmt.Errorf("SYNC_INTERVAL_SECONDS must be at least 1")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT_SECONDS must be positive")
	}
	if c.ResponseCacheTTL < 0 || c.TriggerMinInterval < 0 {
		return fmt.Errorf("RESPONSE_CACHE_TTL_MINUTES and TRIGGER_MIN_INTERVAL_MS must not be negative")
	}
	return nil
}

func pathOr(path, fallback string) string {
	if path == "" {
		return fallback
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
