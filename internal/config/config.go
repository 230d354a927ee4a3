package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "CODESYNC"
	defaultHTTPAddress      = "0.0.0.0:5000"
	defaultExecutionBaseURL = "https://emkc.org/api/v2/piston"
	defaultExecutionTimeout = 30
	defaultLogLevel         = "info"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	ExecutionBaseURL string
	ExecutionTimeout time.Duration
	LogLevel         string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("execution.base_url", defaultExecutionBaseURL)
	configViper.SetDefault("execution.timeout_seconds", defaultExecutionTimeout)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		ExecutionBaseURL: configViper.GetString("execution.base_url"),
		ExecutionTimeout: time.Duration(configViper.GetInt("execution.timeout_seconds")) * time.Second,
		LogLevel:         configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.ExecutionBaseURL) == "" {
		return fmt.Errorf("execution.base_url is required")
	}
	if c.ExecutionTimeout <= 0 {
		return fmt.Errorf("execution.timeout_seconds must be positive")
	}
	return nil
}
