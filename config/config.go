// Package config provides configuration management for the application.
// Values come from three layers, later layers winning: built-in defaults,
// an optional YAML file named by CHATPROXY_CONFIG_FILE, and environment
// variables (a .env file is loaded first if present).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Storage StorageConfig `yaml:"storage"`
	Audit   AuditConfig   `yaml:"audit"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
}

// OpenAIConfig holds the upstream provider credentials and endpoint
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ProxyConfig holds the metering parameters
type ProxyConfig struct {
	// Model is the upstream model identifier used for every call
	Model string `yaml:"model"`

	// KeySalt is mixed into every derived access key
	KeySalt string `yaml:"key_salt"`

	// DefaultQuota is the token ceiling granted to new keys
	DefaultQuota int64 `yaml:"default_quota"`

	// Digest is the key derivation algorithm identifier
	Digest string `yaml:"digest"`
}

// StorageConfig selects and parameterizes the persistence backend
type StorageConfig struct {
	Type       string           `yaml:"type"` // sqlite, postgresql, mongodb or memory
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL settings
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB settings
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// AuditConfig holds audit ledger settings
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetentionDays int           `yaml:"retention_days"`
}

// MetricsConfig holds Prometheus exposure settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig holds slog settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or pretty
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		OpenAI: OpenAIConfig{BaseURL: "https://api.openai.com/v1"},
		Proxy: ProxyConfig{
			Model:        "gpt-3.5-turbo",
			KeySalt:      "ChatAI",
			DefaultQuota: 500,
			Digest:       "sha256",
		},
		Storage: StorageConfig{
			Type:    "sqlite",
			SQLite:  SQLiteConfig{Path: "data/chatproxy.db"},
			MongoDB: MongoDBConfig{Database: "chatproxy"},
		},
		Audit: AuditConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in that order of precedence.
func Load() (*Config, error) {
	// Load .env into the process environment (optional, won't fail if absent)
	_ = godotenv.Load()

	cfg := Default()

	if file := os.Getenv("CHATPROXY_CONFIG_FILE"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", file, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration.
func (c *Config) applyEnv() {
	c.Server.Port = getEnv("CHATPROXY_PORT", c.Server.Port)

	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.OpenAI.BaseURL)

	c.Proxy.Model = getEnv("CHATPROXY_MODEL", c.Proxy.Model)
	c.Proxy.KeySalt = getEnv("CHATPROXY_KEY_SALT", c.Proxy.KeySalt)
	c.Proxy.DefaultQuota = getEnvInt64("CHATPROXY_DEFAULT_QUOTA", c.Proxy.DefaultQuota)
	c.Proxy.Digest = getEnv("CHATPROXY_DIGEST", c.Proxy.Digest)

	c.Storage.Type = getEnv("STORAGE_TYPE", c.Storage.Type)
	c.Storage.SQLite.Path = getEnv("STORAGE_SQLITE_PATH", c.Storage.SQLite.Path)
	c.Storage.PostgreSQL.URL = getEnv("STORAGE_POSTGRES_URL", c.Storage.PostgreSQL.URL)
	c.Storage.PostgreSQL.MaxConns = int32(getEnvInt64("STORAGE_POSTGRES_MAX_CONNS", int64(c.Storage.PostgreSQL.MaxConns)))
	c.Storage.MongoDB.URL = getEnv("STORAGE_MONGODB_URL", c.Storage.MongoDB.URL)
	c.Storage.MongoDB.Database = getEnv("STORAGE_MONGODB_DATABASE", c.Storage.MongoDB.Database)

	c.Audit.Enabled = getEnvBool("AUDIT_ENABLED", c.Audit.Enabled)
	c.Audit.BufferSize = int(getEnvInt64("AUDIT_BUFFER_SIZE", int64(c.Audit.BufferSize)))
	c.Audit.FlushInterval = getEnvDuration("AUDIT_FLUSH_INTERVAL", c.Audit.FlushInterval)
	c.Audit.RetentionDays = int(getEnvInt64("AUDIT_RETENTION_DAYS", int64(c.Audit.RetentionDays)))

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Endpoint = getEnv("METRICS_ENDPOINT", c.Metrics.Endpoint)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// getEnv reads a string from an environment variable, returning the default if not set.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt64 reads an integer from an environment variable, returning the default if not set or invalid.
func getEnvInt64(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvBool reads a boolean from an environment variable, returning the default if not set or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvDuration reads a duration from an environment variable, returning the default if not set or invalid.
// Accepts either plain integers (interpreted as seconds) or Go duration strings (e.g., "10m", "1h30m").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	// Try parsing as integer seconds first (simpler for env config)
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	// Fall back to Go duration format (e.g., "10m", "1h30m")
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return defaultVal
}
