// Package config loads the server configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds every tunable of the server
type Config struct {
	Port  string `yaml:"port"`
	Debug bool   `yaml:"debug"`

	Clock struct {
		InitialSeconds int64         `yaml:"initial_seconds"`
		TickInterval   time.Duration `yaml:"tick_interval"`
	} `yaml:"clock"`

	Sessions struct {
		ResetPolicy        string `yaml:"reset_policy"` // any, players
		KeepWithSpectators bool   `yaml:"keep_with_spectators"`
		ShareBaseURL       string `yaml:"share_base_url"`
	} `yaml:"sessions"`

	HTTP struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		APIKeys        []string `yaml:"api_keys"`
	} `yaml:"http"`

	NATS struct {
		URL           string `yaml:"url"` // empty disables forwarding
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	cfg := &Config{Port: "8080"}
	cfg.Clock.InitialSeconds = 300
	cfg.Clock.TickInterval = time.Second
	cfg.Sessions.ResetPolicy = "any"
	cfg.Sessions.ShareBaseURL = "/play/"
	cfg.NATS.SubjectPrefix = "sessions.events"
	return cfg
}

// Load reads path (when not empty) over the defaults, then applies the
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Debug = getEnvAsBool("DEBUG", c.Debug)

	c.Clock.InitialSeconds = int64(getEnvAsInt("CLOCK_INITIAL_SECONDS", int(c.Clock.InitialSeconds)))
	c.Clock.TickInterval = getEnvAsDuration("CLOCK_TICK_INTERVAL", c.Clock.TickInterval)

	c.Sessions.ResetPolicy = getEnv("RESET_POLICY", c.Sessions.ResetPolicy)
	c.Sessions.KeepWithSpectators = getEnvAsBool("SESSION_KEEP_WITH_SPECTATORS", c.Sessions.KeepWithSpectators)
	c.Sessions.ShareBaseURL = getEnv("SHARE_BASE_URL", c.Sessions.ShareBaseURL)

	c.HTTP.AllowedOrigins = getEnvAsList("ALLOWED_ORIGINS", c.HTTP.AllowedOrigins)
	c.HTTP.APIKeys = getEnvAsList("API_KEYS", c.HTTP.APIKeys)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
}

// Validate rejects values the server cannot run with
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("%w: port is empty", ErrInvalidConfig)
	}
	if c.Clock.InitialSeconds <= 0 {
		return fmt.Errorf("%w: clock initial seconds must be positive, got %d", ErrInvalidConfig, c.Clock.InitialSeconds)
	}
	if c.Clock.TickInterval <= 0 {
		return fmt.Errorf("%w: clock tick interval must be positive, got %s", ErrInvalidConfig, c.Clock.TickInterval)
	}

	switch c.Sessions.ResetPolicy {
	case "any", "players":
	default:
		return fmt.Errorf("%w: unknown reset policy %q", ErrInvalidConfig, c.Sessions.ResetPolicy)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty entries
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
