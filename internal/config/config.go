// Package config loads and validates the gateway configuration.
//
// DESIGN: Configuration comes from one YAML file laid over Default(), so a
// file only needs the settings it changes. Component packages own their
// config types; this package aliases them and validates the whole tree.
//
// FILES:
//   - config.go:     Root Config struct, Load(), Validate()
//   - monitoring.go: Logging, telemetry and alert settings
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/compresr/reply-gateway/external"
	"github.com/compresr/reply-gateway/internal/addetect"
	"github.com/compresr/reply-gateway/internal/compliance"
	"github.com/compresr/reply-gateway/internal/history"
	"github.com/compresr/reply-gateway/internal/store"
	"github.com/compresr/reply-gateway/internal/strategy"
)

// Component config types, re-exported for a single import site.
type (
	StoreConfig      = store.Config
	RedisConfig      = store.RedisConfig
	SQLiteConfig     = store.SQLiteConfig
	HistoryConfig    = history.Config
	StrategyConfig   = strategy.Config
	ComplianceConfig = compliance.Config
	AdDetectConfig   = addetect.Config
	GeneratorConfig  = external.Config
)

// Config is the root configuration for the Reply Gateway.
type Config struct {
	Server     ServerConfig     `yaml:"server"`     // HTTP server settings
	Store      StoreConfig      `yaml:"store"`      // History backend
	History    HistoryConfig    `yaml:"history"`    // Retention and summarization
	Strategy   StrategyConfig   `yaml:"strategy"`   // Prompt context budget
	Compliance ComplianceConfig `yaml:"compliance"` // Output policy
	AdDetect   AdDetectConfig   `yaml:"addetect"`   // Advert keyword list
	Generator  GeneratorConfig  `yaml:"generator"`  // LLM provider
	Monitoring MonitoringConfig `yaml:"monitoring"` // Telemetry and logging
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port           int           `yaml:"port"`            // Port to listen on
	ReadTimeout    time.Duration `yaml:"read_timeout"`    // Max time to read request
	WriteTimeout   time.Duration `yaml:"write_timeout"`   // Max time to write response
	RequestTimeout time.Duration `yaml:"request_timeout"` // Bound on one reply generation
	RateLimit      int           `yaml:"rate_limit"`      // Requests per second per client IP (0 = off)
}

// Default returns a runnable single-process configuration: in-memory store,
// Anthropic generator keyed from ANTHROPIC_API_KEY.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
			RequestTimeout: 20 * time.Second,
			RateLimit:      50,
		},
		Store: StoreConfig{
			Type:       store.TypeMemory,
			TTL:        7 * 24 * time.Hour,
			MaxRetries: store.DefaultMaxRetries,
		},
		History:    HistoryConfig{}.WithDefaults(),
		Strategy:   StrategyConfig{}.WithDefaults(),
		Compliance: ComplianceConfig{}.WithDefaults(),
		Generator: GeneratorConfig{
			Provider: external.ProviderAnthropic,
			Model:    "claude-3-5-haiku-latest",
			APIKey:   os.Getenv("ANTHROPIC_API_KEY"),
			Timeout:  15 * time.Second,
		},
		Monitoring: MonitoringConfig{
			LogLevel:  "info",
			LogFormat: "auto",
			LogOutput: "stdout",
		},
	}
}

// envPattern matches ${VAR:-default} or ${VAR}.
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads configuration from a YAML file.
// Returns an error if the file doesn't exist or is invalid.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes over Default().
// Supports ${VAR:-default} env var expansion, env overrides, and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ExpandEnvWithDefaults expands environment variables with support for default values.
func ExpandEnvWithDefaults(s string) string {
	return expandEnvWithDefaults(s)
}

// applyEnvOverrides lets deployments redirect secrets and logs without
// editing the config file.
func (c *Config) applyEnvOverrides() {
	// REPLY_GENERATOR_API_KEY overrides the provider key
	if key := os.Getenv("REPLY_GENERATOR_API_KEY"); key != "" {
		c.Generator.APIKey = key
	}

	// REPLY_LOG_LEVEL overrides the log level
	if level := os.Getenv("REPLY_LOG_LEVEL"); level != "" {
		c.Monitoring.LogLevel = level
	}

	// REPLY_TELEMETRY_LOG overrides the telemetry path and enables telemetry
	if envPath := os.Getenv("REPLY_TELEMETRY_LOG"); envPath != "" {
		c.Monitoring.TelemetryPath = envPath
		c.Monitoring.TelemetryEnabled = true
	}
}

// applyDefaults fills fields an override file zeroed out explicitly.
func (c *Config) applyDefaults() {
	c.History = c.History.WithDefaults()
	c.Strategy = c.Strategy.WithDefaults()
	c.Compliance = c.Compliance.WithDefaults()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout == 0 {
		return fmt.Errorf("server.read_timeout is required")
	}
	if c.Server.WriteTimeout == 0 {
		return fmt.Errorf("server.write_timeout is required")
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("server.request_timeout must not be negative")
	}
	if c.Server.RequestTimeout >= c.Server.WriteTimeout {
		return fmt.Errorf("server.request_timeout (%s) must be below server.write_timeout (%s)", c.Server.RequestTimeout, c.Server.WriteTimeout)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}

	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.History.Validate(); err != nil {
		return err
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if err := c.Compliance.Validate(); err != nil {
		return err
	}
	if err := c.Generator.Validate(); err != nil {
		return err
	}
	if err := c.Monitoring.Validate(); err != nil {
		return err
	}

	return nil
}
