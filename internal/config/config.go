// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig holds market source API configuration
type SourceConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Limit          int           `mapstructure:"limit"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	RetryDelayMax  time.Duration `mapstructure:"retry_delay_max"`
}

// DispatchConfig holds notification dispatch behavior configuration
type DispatchConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
	MaxTags  int           `mapstructure:"max_tags"`
}

// TelegramConfig holds Telegram delivery configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("OPINIONWATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("source.api_url", "https://api.opinion.trade/api/v1/markets")
	v.SetDefault("source.poll_interval", "60s")
	v.SetDefault("source.initial_delay", "10s")
	v.SetDefault("source.timeout", "10s")
	v.SetDefault("source.limit", 50)
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.retry_delay_base", "1s")
	v.SetDefault("source.retry_delay_max", "8s")

	v.SetDefault("dispatch.cooldown", "1h")
	v.SetDefault("dispatch.max_tags", 5)

	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("storage.db_path", "./data/opinionwatch.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Source.APIURL == "" {
		return fmt.Errorf("source.api_url is required")
	}
	if c.Source.PollInterval < 10*time.Second {
		return fmt.Errorf("source.poll_interval must be at least 10 seconds")
	}
	if c.Source.InitialDelay < 0 {
		return fmt.Errorf("source.initial_delay must not be negative")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be positive")
	}
	if c.Source.Timeout >= c.Source.PollInterval {
		return fmt.Errorf("source.timeout must be shorter than source.poll_interval")
	}
	if c.Source.Limit < 1 || c.Source.Limit > 1000 {
		return fmt.Errorf("source.limit must be between 1 and 1000")
	}
	if c.Source.MaxRetries < 1 {
		return fmt.Errorf("source.max_retries must be at least 1")
	}

	if c.Dispatch.Cooldown < 1*time.Minute {
		return fmt.Errorf("dispatch.cooldown must be at least 1 minute")
	}
	if c.Dispatch.MaxTags < 1 {
		return fmt.Errorf("dispatch.max_tags must be at least 1")
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
