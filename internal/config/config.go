// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/pagegym/pagegym/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Env       EnvConfig       `mapstructure:"env" yaml:"env"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	Rollout   RolloutConfig   `mapstructure:"rollout" yaml:"rollout"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ViewportConfig is the browser window size in CSS pixels.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless bool           `mapstructure:"headless" yaml:"headless"`
	Debug    bool           `mapstructure:"debug" yaml:"debug"`
	Args     []string       `mapstructure:"args" yaml:"args"`
	Viewport ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
}

// NetworkConfig tunes navigation and page-settle behavior.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// EnvConfig shapes the reset/step contract of an environment instance.
type EnvConfig struct {
	MaxSteps          int           `mapstructure:"max_steps" yaml:"max_steps"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	ExtractionTimeout time.Duration `mapstructure:"extraction_timeout" yaml:"extraction_timeout"`
	Modalities        []string      `mapstructure:"modalities" yaml:"modalities"`
}

// ModalitySet converts the configured modality names into the typed set.
func (e EnvConfig) ModalitySet() schemas.ModalitySet {
	if len(e.Modalities) == 0 {
		return schemas.DefaultModalities()
	}
	set := make(schemas.ModalitySet, len(e.Modalities))
	for _, m := range e.Modalities {
		set[schemas.Modality(m)] = true
	}
	return set
}

// Recognized episode store backends.
const (
	StoreBackendNone     = "none"
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
)

// StoreConfig selects the episode persistence backend.
type StoreConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"-"`
	RedisAddr   string `mapstructure:"redis_addr" yaml:"redis_addr"`
}

// ArtifactsConfig controls per-step artifact capture.
type ArtifactsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// RolloutConfig tunes parallel episode collection.
type RolloutConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagegym")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.post_load_wait", "1500ms")

	// -- Env --
	v.SetDefault("env.max_steps", 30)
	v.SetDefault("env.action_timeout", "15s")
	v.SetDefault("env.extraction_timeout", "10s")
	v.SetDefault("env.modalities", []string{
		string(schemas.ModalityDOM),
		string(schemas.ModalityAXTree),
		string(schemas.ModalityScreenshot),
		string(schemas.ModalityOpenTabs),
		string(schemas.ModalityLastActionError),
	})

	// -- Store --
	v.SetDefault("store.backend", "none")
	v.SetDefault("store.redis_addr", "localhost:6379")

	// -- Artifacts --
	v.SetDefault("artifacts.enabled", false)
	v.SetDefault("artifacts.dir", "artifacts")

	// -- Rollout --
	v.SetDefault("rollout.concurrency", 4)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults alone.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values come from the environment, never the config file.
	v.BindEnv("store.postgres_url", "PAGEGYM_POSTGRES_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Env.MaxSteps <= 0 {
		return fmt.Errorf("env.max_steps must be a positive integer")
	}
	if c.Env.ActionTimeout <= 0 {
		return fmt.Errorf("env.action_timeout must be a positive duration")
	}
	if c.Env.ExtractionTimeout <= 0 {
		return fmt.Errorf("env.extraction_timeout must be a positive duration")
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport dimensions must be positive")
	}
	for _, m := range c.Env.Modalities {
		switch schemas.Modality(m) {
		case schemas.ModalityDOM, schemas.ModalityAXTree, schemas.ModalityScreenshot,
			schemas.ModalityOpenTabs, schemas.ModalityLastActionError:
		default:
			return fmt.Errorf("env.modalities contains unrecognized modality %q", m)
		}
	}
	switch c.Store.Backend {
	case StoreBackendNone, StoreBackendPostgres, StoreBackendRedis:
	default:
		return fmt.Errorf("store.backend must be one of none, postgres, redis")
	}
	if c.Store.Backend == StoreBackendPostgres && c.Store.PostgresURL == "" {
		return fmt.Errorf("store.backend is postgres but PAGEGYM_POSTGRES_URL is not set")
	}
	if c.Rollout.Concurrency <= 0 {
		return fmt.Errorf("rollout.concurrency must be a positive integer")
	}
	return nil
}
