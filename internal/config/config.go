package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the AppBuilder gateway and CLI.
type Config struct {
	AppBuilder AppBuilderConfig
	Poll       PollConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Archive    ArchiveConfig
	Log        LogConfig
}

type AppBuilderConfig struct {
	Token      string
	GatewayURL string
	Timeout    time.Duration
}

type PollConfig struct {
	MaxAttempts int
	Interval    time.Duration
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// ArchiveConfig enables S3 archiving of generated artifacts when Bucket is set.
type ArchiveConfig struct {
	Bucket string
	Prefix string
}

func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var validLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadDotEnv loads a .env file into the environment if one exists. Variables
// already set are not overridden.
func LoadDotEnv(filenames ...string) error {
	err := godotenv.Load(filenames...)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		AppBuilder: AppBuilderConfig{
			Token:      os.Getenv("APPBUILDER_TOKEN"),
			GatewayURL: envString("GATEWAY_URL", "https://appbuilder.baidu.com"),
			Timeout:    envDuration("APPBUILDER_TIMEOUT", 30*time.Second),
		},
		Poll: PollConfig{
			MaxAttempts: envInt("POLL_MAX_ATTEMPTS", 60),
			Interval:    envDurationSecs("POLL_INTERVAL_SECS", 5*time.Second),
		},
		Server: ServerConfig{
			Port:            envInt("APPBUILDER_PORT", 8080),
			Env:             envString("APPBUILDER_ENV", "development"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Database: databaseFromEnv(),
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Archive: ArchiveConfig{
			Bucket: os.Getenv("ARCHIVE_S3_BUCKET"),
			Prefix: envString("ARCHIVE_S3_PREFIX", "ppt"),
		},
		Log: LogConfig{
			Level:      strings.ToLower(envString("LOG_LEVEL", "info")),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: envInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: envInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AppBuilder.Token == "" {
		return fmt.Errorf("APPBUILDER_TOKEN is required")
	}

	u := c.AppBuilder.GatewayURL
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("GATEWAY_URL must start with http:// or https://, got %q", u)
	}

	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive, got %d", c.Poll.MaxAttempts)
	}
	if c.Poll.Interval < 0 {
		return fmt.Errorf("POLL_INTERVAL_SECS must not be negative, got %s", c.Poll.Interval)
	}

	if !validLevels[c.Log.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Log.Level)
	}

	return nil
}

// ValidateServer checks the settings only the gateway server needs.
func (c *Config) ValidateServer() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Server.RateLimitPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must be positive, got %d", c.Server.RateLimitPerMin)
	}

	return nil
}

// LoadDatabase reads only the database settings. Key management commands use
// it so they run without AppBuilder credentials.
func LoadDatabase() (DatabaseConfig, error) {
	db := databaseFromEnv()
	if db.URL == "" {
		return db, fmt.Errorf("DATABASE_URL is required")
	}
	return db, nil
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		URL:             os.Getenv("DATABASE_URL"),
		MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
