package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "topo4d_session", cfg.Server.CookieName)
	assert.Equal(t, 24*time.Hour, cfg.Server.SessionTTL)
	assert.Equal(t, "https://tum-rsa.github.io/topo4d/v1.0.0/schema.json", cfg.Schema.URL)
	assert.Equal(t, "1.1.0", cfg.STAC.Version)
	assert.Empty(t, cfg.NATS.URL, "publishing is off by default")
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing addr",
			modify:  func(c *Config) { c.Server.Addr = "" },
			wantErr: true,
		},
		{
			name:    "missing schema url",
			modify:  func(c *Config) { c.Schema.URL = "" },
			wantErr: true,
		},
		{
			name:    "non-positive session ttl",
			modify:  func(c *Config) { c.Server.SessionTTL = 0 },
			wantErr: true,
		},
		{
			name:    "nats url without subject",
			modify:  func(c *Config) { c.NATS.URL = "nats://localhost:4222"; c.NATS.Subject = "" },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
server:
  addr: ":9090"
  allowed_origins:
    - https://forms.example.org
  session_ttl: 2h
schema:
  url: ./schema.json
  timeout: 5s
upload:
  patterns:
    - "*.json"
nats:
  url: "nats://test:4222"
log:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://forms.example.org"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 2*time.Hour, cfg.Server.SessionTTL)
	assert.Equal(t, "./schema.json", cfg.Schema.URL)
	assert.Equal(t, 5*time.Second, cfg.Schema.Timeout)
	assert.Equal(t, []string{"*.json"}, cfg.Upload.Patterns)
	assert.Equal(t, "nats://test:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset fields keep their defaults.
	assert.Equal(t, "topo4d_session", cfg.Server.CookieName)
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Server: ServerConfig{Addr: ":1234"},
		Schema: SchemaConfig{URL: "file:///schema.json"},
	}

	base.Merge(override)

	assert.Equal(t, ":1234", base.Server.Addr)
	assert.Equal(t, "file:///schema.json", base.Schema.URL)
	assert.Equal(t, "topo4d_session", base.Server.CookieName, "unset fields remain")
	assert.Equal(t, 30*time.Second, base.Schema.Timeout)
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.Addr = ":7000"

	require.NoError(t, cfg.SaveToFile(configPath))

	loaded, err := LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, ":7000", loaded.Server.Addr)
	assert.Equal(t, cfg.Server.SessionTTL, loaded.Server.SessionTTL)
}

func testLoader(t *testing.T, env map[string]string) (*Loader, string, string) {
	t.Helper()
	home := t.TempDir()
	work := t.TempDir()
	l := NewLoader(slog.Default())
	l.getenv = func(k string) string { return env[k] }
	l.homeDir = func() (string, error) { return home, nil }
	l.workDir = func() (string, error) { return work, nil }
	return l, home, work
}

func TestLoader_Layers(t *testing.T) {
	l, home, work := testLoader(t, map[string]string{
		"TOPO4D_LOG_LEVEL":       "warn",
		"TOPO4D_ALLOWED_ORIGINS": "https://a.example, https://b.example",
		"TOPO4D_SESSION_TTL":     "30m",
	})

	userPath := filepath.Join(home, UserConfigDir, UserConfigFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0755))
	require.NoError(t, os.WriteFile(userPath, []byte("server:\n  addr: \":1111\"\nlog:\n  level: debug\n"), 0644))

	nested := filepath.Join(work, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(work, ProjectConfigFile), []byte("server:\n  addr: \":2222\"\n"), 0644))
	l.workDir = func() (string, error) { return nested, nil }

	cfg, err := l.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":2222", cfg.Server.Addr, "project config overrides user config")
	assert.Equal(t, "warn", cfg.Log.Level, "environment overrides files")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30*time.Minute, cfg.Server.SessionTTL)
}

func TestLoader_ExplicitFile(t *testing.T) {
	l, _, _ := testLoader(t, nil)

	_, err := l.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schema:\n  url: ./local.json\n"), 0644))
	cfg, err := l.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "./local.json", cfg.Schema.URL)
}

func TestLoader_InvalidEnv(t *testing.T) {
	l, _, _ := testLoader(t, map[string]string{"TOPO4D_SESSION_TTL": "soon"})
	_, err := l.Load("")
	assert.Error(t, err)

	l, _, _ = testLoader(t, map[string]string{"TOPO4D_MAX_SESSIONS": "many"})
	_, err = l.Load("")
	assert.Error(t, err)
}

func TestLoader_EnsureUserConfig(t *testing.T) {
	l, home, _ := testLoader(t, nil)
	require.NoError(t, l.EnsureUserConfig())

	cfg, err := LoadFromFile(filepath.Join(home, UserConfigDir, UserConfigFile))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
}

func TestLoader_LayersOnlyOverrideWhatTheySet(t *testing.T) {
	l, home, work := testLoader(t, nil)

	userPath := filepath.Join(home, UserConfigDir, UserConfigFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0755))
	require.NoError(t, os.WriteFile(userPath, []byte("log:\n  level: debug\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(work, ProjectConfigFile), []byte("server:\n  addr: \":3333\"\n"), 0644))

	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":3333", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level, "project file does not reset user settings")
}
