// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/buildline/exportstream/internal/export"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Listener  ListenerConfig  `mapstructure:"listener"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Ops       OpsConfig       `mapstructure:"ops"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig locates the build-export server.
type ServerConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	AccessToken string `mapstructure:"access_token"`
}

// ListenerConfig governs the top-level build feed subscription.
type ListenerConfig struct {
	Cursor string      `mapstructure:"cursor"`
	Retry  RetryConfig `mapstructure:"retry"`
}

// ProcessorConfig governs per-build streams and their admission limit.
type ProcessorConfig struct {
	MaxConcurrentBuilds int         `mapstructure:"max_concurrent_builds"`
	Retry               RetryConfig `mapstructure:"retry"`
}

// RetryConfig bounds reconnection attempts for one stream.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Interval   time.Duration `mapstructure:"interval"`
}

// OpsConfig controls the operational HTTP endpoint.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// PubSubConfig holds metadata for summary publishing.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Validation is left to the
// caller so command-line overrides can apply first.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXPORTSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listener.cursor", "now")
	v.SetDefault("listener.retry.max_retries", 3)
	v.SetDefault("listener.retry.interval", "10s")
	v.SetDefault("processor.max_concurrent_builds", 5)
	v.SetDefault("processor.retry.max_retries", 100)
	v.SetDefault("processor.retry.interval", "500ms")
	v.SetDefault("ops.port", 8080)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "build-summaries")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url must be set")
	}
	if err := export.ValidateCursor(c.Listener.Cursor); err != nil {
		return fmt.Errorf("listener.cursor: %w", err)
	}
	if c.Processor.MaxConcurrentBuilds <= 0 {
		return fmt.Errorf("processor.max_concurrent_builds must be > 0")
	}
	if c.Listener.Retry.Interval <= 0 {
		return fmt.Errorf("listener.retry.interval must be > 0")
	}
	if c.Processor.Retry.Interval <= 0 {
		return fmt.Errorf("processor.retry.interval must be > 0")
	}
	if c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}
