// Package config loads the daemon configuration from file, environment and
// flags via viper.
package config

import (
	"log/slog"

	"github.com/spf13/viper"
)

// Config holds all configuration for the daemon.
type Config struct {
	// ServiceName is advertised to BlueZ when registering the profile.
	ServiceName string `mapstructure:"service_name"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	viper.SetDefault("service_name", "Headset Audio Gateway")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	viper.SetConfigName("hspag")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.hspag")
	viper.AddConfigPath("/etc/hspag")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HSPAG")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		slog.Debug("No config file found, using defaults and environment variables")
	} else {
		slog.Info("Using config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return &Error{Field: "service_name", Message: "service name must not be empty"}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return &Error{Field: "logging.format", Message: "must be text or json"}
	}
	return nil
}

// Error represents a configuration validation error.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Field + ": " + e.Message
}
