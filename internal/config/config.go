// Package config provides configuration management for nownext using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultXtreamTimeout     = 15 * time.Second
	defaultShortLimit        = 2
	maxShortLimit            = 4
	defaultStepDelay         = 150 * time.Millisecond
	defaultMaxDelay          = 2 * time.Second
	defaultLookahead         = 4
	defaultHardCutoff        = 9
	defaultBreakerThreshold  = 5
	defaultBreakerReset      = 30 * time.Second
	defaultBreakerHalfOpen   = 1
	defaultRequestsPerSecond = 0
	defaultBurst             = 4
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "NOWNEXT"

// Config holds all configuration for the application.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Xtream         XtreamConfig         `mapstructure:"xtream"`
	Guide          GuideConfig          `mapstructure:"guide"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// XtreamConfig holds the metadata service (Xtream Codes panel) settings.
type XtreamConfig struct {
	URL       string        `mapstructure:"url"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// RequestsPerSecond paces guide requests at the transport; 0 disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// GuideConfig holds the prefetch scheduler tuning.
type GuideConfig struct {
	ShortLimit     int           `mapstructure:"short_limit"`
	StepDelay      time.Duration `mapstructure:"step_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Lookahead      int           `mapstructure:"lookahead"`
	HardCutoff     int           `mapstructure:"hard_cutoff"`
	WorkerPoolSize int           `mapstructure:"worker_pool_size"` // 0 = unbounded
	RefreshCron    string        `mapstructure:"refresh_cron"`     // 5-field cron, empty = disabled
}

// CircuitBreakerConfig holds the breaker settings for the metadata service client.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMax      int           `mapstructure:"half_open_max"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with NOWNEXT_ and use underscores for nesting.
// Example: NOWNEXT_GUIDE_LOOKAHEAD=6.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/nownext")
		v.AddConfigPath("$HOME/.nownext")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("xtream.url", "")
	v.SetDefault("xtream.username", "")
	v.SetDefault("xtream.password", "")
	v.SetDefault("xtream.user_agent", "")
	v.SetDefault("xtream.timeout", defaultXtreamTimeout)
	v.SetDefault("xtream.requests_per_second", defaultRequestsPerSecond)
	v.SetDefault("xtream.burst", defaultBurst)

	v.SetDefault("guide.short_limit", defaultShortLimit)
	v.SetDefault("guide.step_delay", defaultStepDelay)
	v.SetDefault("guide.max_delay", defaultMaxDelay)
	v.SetDefault("guide.lookahead", defaultLookahead)
	v.SetDefault("guide.hard_cutoff", defaultHardCutoff)
	v.SetDefault("guide.worker_pool_size", 0)
	v.SetDefault("guide.refresh_cron", "")

	v.SetDefault("circuit_breaker.failure_threshold", defaultBreakerThreshold)
	v.SetDefault("circuit_breaker.reset_timeout", defaultBreakerReset)
	v.SetDefault("circuit_breaker.half_open_max", defaultBreakerHalfOpen)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Xtream.URL != "" && !strings.HasPrefix(c.Xtream.URL, "http://") && !strings.HasPrefix(c.Xtream.URL, "https://") {
		return fmt.Errorf("xtream.url must be an HTTP(S) URL")
	}
	if c.Xtream.RequestsPerSecond < 0 {
		return fmt.Errorf("xtream.requests_per_second must not be negative")
	}

	if c.Guide.ShortLimit < 1 || c.Guide.ShortLimit > maxShortLimit {
		return fmt.Errorf("guide.short_limit must be between 1 and %d", maxShortLimit)
	}
	if c.Guide.StepDelay < 0 || c.Guide.MaxDelay < 0 {
		return fmt.Errorf("guide.step_delay and guide.max_delay must not be negative")
	}
	if c.Guide.Lookahead < 0 || c.Guide.HardCutoff < 0 {
		return fmt.Errorf("guide.lookahead and guide.hard_cutoff must not be negative")
	}
	if c.Guide.WorkerPoolSize < 0 {
		return fmt.Errorf("guide.worker_pool_size must not be negative")
	}
	if c.Guide.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.Guide.RefreshCron); err != nil {
			return fmt.Errorf("guide.refresh_cron is invalid: %w", err)
		}
	}

	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be at least 1")
	}

	return nil
}

// RequireXtream reports an error when the metadata service credentials are missing.
func (c *XtreamConfig) RequireXtream() error {
	switch {
	case c.URL == "":
		return fmt.Errorf("xtream.url is required")
	case c.Username == "":
		return fmt.Errorf("xtream.username is required")
	case c.Password == "":
		return fmt.Errorf("xtream.password is required")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
