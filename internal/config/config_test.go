package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Xtream: XtreamConfig{
			URL:      "http://panel.example.com",
			Username: "viewer",
			Password: "hunter2",
		},
		Guide: GuideConfig{
			ShortLimit: 2,
			StepDelay:  150 * time.Millisecond,
			MaxDelay:   2 * time.Second,
			Lookahead:  4,
			HardCutoff: 9,
		},
		CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 5},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, 15*time.Second, cfg.Xtream.Timeout)
	assert.Zero(t, cfg.Xtream.RequestsPerSecond)

	assert.Equal(t, 2, cfg.Guide.ShortLimit)
	assert.Equal(t, 150*time.Millisecond, cfg.Guide.StepDelay)
	assert.Equal(t, 2*time.Second, cfg.Guide.MaxDelay)
	assert.Equal(t, 4, cfg.Guide.Lookahead)
	assert.Equal(t, 9, cfg.Guide.HardCutoff)
	assert.Zero(t, cfg.Guide.WorkerPoolSize)
	assert.Empty(t, cfg.Guide.RefreshCron)

	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.ResetTimeout)
}

func TestLoad_FromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090

logging:
  level: "debug"
  format: "text"

xtream:
  url: "http://panel.example.com:8080"
  username: "viewer"
  password: "hunter2"
  requests_per_second: 5

guide:
  step_delay: 250ms
  lookahead: 6
  hard_cutoff: 12
  refresh_cron: "*/30 * * * *"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "http://panel.example.com:8080", cfg.Xtream.URL)
	assert.Equal(t, "viewer", cfg.Xtream.Username)
	assert.InDelta(t, 5.0, cfg.Xtream.RequestsPerSecond, 0.0001)
	assert.Equal(t, 250*time.Millisecond, cfg.Guide.StepDelay)
	assert.Equal(t, 6, cfg.Guide.Lookahead)
	assert.Equal(t, 12, cfg.Guide.HardCutoff)
	assert.Equal(t, "*/30 * * * *", cfg.Guide.RefreshCron)
	// untouched keys keep their defaults
	assert.Equal(t, 2, cfg.Guide.ShortLimit)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("NOWNEXT_SERVER_PORT", "3000")
	t.Setenv("NOWNEXT_LOGGING_LEVEL", "warn")
	t.Setenv("NOWNEXT_GUIDE_LOOKAHEAD", "8")
	t.Setenv("NOWNEXT_XTREAM_USERNAME", "envuser")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 8, cfg.Guide.Lookahead)
	assert.Equal(t, "envuser", cfg.Xtream.Username)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("guide:\n  hard_cutoff: 5\n  lookahead: 2\n"), 0o600))

	t.Setenv("NOWNEXT_GUIDE_HARD_CUTOFF", "7")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Guide.HardCutoff)
	assert.Equal(t, 2, cfg.Guide.Lookahead)
}

func TestLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o600))

	_, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validTestConfig().Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"non http url", func(c *Config) { c.Xtream.URL = "ftp://panel" }, "xtream.url"},
		{"negative rate", func(c *Config) { c.Xtream.RequestsPerSecond = -1 }, "requests_per_second"},
		{"short limit zero", func(c *Config) { c.Guide.ShortLimit = 0 }, "short_limit"},
		{"short limit too large", func(c *Config) { c.Guide.ShortLimit = 10 }, "short_limit"},
		{"negative step", func(c *Config) { c.Guide.StepDelay = -time.Second }, "step_delay"},
		{"negative lookahead", func(c *Config) { c.Guide.Lookahead = -1 }, "lookahead"},
		{"negative pool", func(c *Config) { c.Guide.WorkerPoolSize = -2 }, "worker_pool_size"},
		{"bad cron", func(c *Config) { c.Guide.RefreshCron = "every tuesday" }, "refresh_cron"},
		{"breaker threshold", func(c *Config) { c.CircuitBreaker.FailureThreshold = 0 }, "failure_threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_TraceLevel(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Level = "trace"
	assert.NoError(t, cfg.Validate())
}

func TestRequireXtream(t *testing.T) {
	cfg := validTestConfig()
	assert.NoError(t, cfg.Xtream.RequireXtream())

	cfg.Xtream.Password = ""
	err := cfg.Xtream.RequireXtream()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xtream.password")

	cfg.Xtream.URL = ""
	assert.ErrorContains(t, cfg.Xtream.RequireXtream(), "xtream.url")
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 8080}
	assert.Equal(t, "127.0.0.1:8080", cfg.Address())
}
