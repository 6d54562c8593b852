// Package config provides configuration loading and management for the
// Topo4D form service.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Schema SchemaConfig `yaml:"schema"`
	STAC   STACConfig   `yaml:"stac"`
	Upload UploadConfig `yaml:"upload"`
	NATS   NATSConfig   `yaml:"nats"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures the HTTP server and sessions
type ServerConfig struct {
	// Addr is the listen address (default: :8080)
	Addr string `yaml:"addr"`
	// Prefix is the path prefix of the form API (default: api/form)
	Prefix string `yaml:"prefix"`
	// AllowedOrigins lists CORS origins (empty = same origin only)
	AllowedOrigins []string `yaml:"allowed_origins"`
	// CookieName names the session cookie (default: topo4d_session)
	CookieName string `yaml:"cookie_name"`
	// SecureCookie marks the session cookie Secure (HTTPS deployments)
	SecureCookie bool `yaml:"secure_cookie"`
	// SessionTTL expires idle sessions (default: 24h)
	SessionTTL time.Duration `yaml:"session_ttl"`
	// MaxSessions bounds the in-memory session store (default: 10000)
	MaxSessions int `yaml:"max_sessions"`
	// ShutdownTimeout bounds graceful shutdown (default: 10s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SchemaConfig configures the extension schema
type SchemaConfig struct {
	// URL is the schema location, an http(s) URL or a file path
	URL string `yaml:"url"`
	// Timeout bounds the schema fetch at startup
	Timeout time.Duration `yaml:"timeout"`
}

// STACConfig configures Item assembly
type STACConfig struct {
	// Version is written as stac_version (default: 1.1.0)
	Version string `yaml:"version"`
	// SelfHref is the target of the self link (default: ./item.json)
	SelfHref string `yaml:"self_href"`
}

// UploadConfig configures header uploads
type UploadConfig struct {
	// Patterns are doublestar globs accepted upload filenames must match
	Patterns []string `yaml:"patterns"`
	// MaxSize limits upload bodies in bytes (default: 1 MB)
	MaxSize int64 `yaml:"max_size"`
}

// NATSConfig configures publishing of valid items
type NATSConfig struct {
	// URL is the NATS server URL (empty = publishing disabled)
	URL string `yaml:"url"`
	// Subject receives published items
	Subject string `yaml:"subject"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error (default: info)
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Prefix:          "api/form",
			CookieName:      "topo4d_session",
			SessionTTL:      24 * time.Hour,
			MaxSessions:     10000,
			ShutdownTimeout: 10 * time.Second,
		},
		Schema: SchemaConfig{
			URL:     "https://tum-rsa.github.io/topo4d/v1.0.0/schema.json",
			Timeout: 30 * time.Second,
		},
		STAC: STACConfig{
			Version:  "1.1.0",
			SelfHref: "./item.json",
		},
		Upload: UploadConfig{
			Patterns: []string{"**/*.json", "**/*.las", "**/*.laz"},
			MaxSize:  1 << 20,
		},
		NATS: NATSConfig{
			URL:     "", // Disabled
			Subject: "topo4d.items.validated",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.CookieName == "" {
		return fmt.Errorf("server.cookie_name is required")
	}
	if c.Server.SessionTTL <= 0 {
		return fmt.Errorf("server.session_ttl must be positive")
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be positive")
	}
	if c.Schema.URL == "" {
		return fmt.Errorf("schema.url is required")
	}
	if c.Schema.Timeout <= 0 {
		return fmt.Errorf("schema.timeout must be positive")
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive")
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject is required when nats.url is set")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	return readFile(path, DefaultConfig())
}

// loadLayer reads only the settings present in the file, for merging
func loadLayer(path string) (*Config, error) {
	return readFile(path, &Config{})
}

func readFile(path string, config *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.Prefix != "" {
		c.Server.Prefix = other.Server.Prefix
	}
	if len(other.Server.AllowedOrigins) > 0 {
		c.Server.AllowedOrigins = other.Server.AllowedOrigins
	}
	if other.Server.CookieName != "" {
		c.Server.CookieName = other.Server.CookieName
	}
	if other.Server.SecureCookie {
		c.Server.SecureCookie = true
	}
	if other.Server.SessionTTL != 0 {
		c.Server.SessionTTL = other.Server.SessionTTL
	}
	if other.Server.MaxSessions != 0 {
		c.Server.MaxSessions = other.Server.MaxSessions
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	// Schema
	if other.Schema.URL != "" {
		c.Schema.URL = other.Schema.URL
	}
	if other.Schema.Timeout != 0 {
		c.Schema.Timeout = other.Schema.Timeout
	}

	// STAC
	if other.STAC.Version != "" {
		c.STAC.Version = other.STAC.Version
	}
	if other.STAC.SelfHref != "" {
		c.STAC.SelfHref = other.STAC.SelfHref
	}

	// Upload
	if len(other.Upload.Patterns) > 0 {
		c.Upload.Patterns = other.Upload.Patterns
	}
	if other.Upload.MaxSize != 0 {
		c.Upload.MaxSize = other.Upload.MaxSize
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Subject != "" {
		c.NATS.Subject = other.NATS.Subject
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
