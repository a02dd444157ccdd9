// Package config loads the kiro-nexus YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pysugar/kiro-nexus/internal/pool"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen       = "127.0.0.1:8090"
	defaultDatabase     = "kiro-nexus.db"
	defaultRegion       = "us-east-1"
	defaultPortalURL    = "https://prod.us-east-1.webportal.kiro.dev"
	defaultCallbackPort = 43210

	defaultPortalTimeout    = 30 * time.Second
	defaultAssistantTimeout = 120 * time.Second
	defaultExchangeTimeout  = 30 * time.Second
	defaultOAuthWait        = 5 * time.Minute

	defaultErrorThreshold = 5
)

// Config is the root configuration for kiro-nexus.
type Config struct {
	Listen   string `yaml:"listen"`
	Database string `yaml:"database"`
	Region   string `yaml:"region"`

	Portal    PortalConfig    `yaml:"portal"`
	Assistant AssistantConfig `yaml:"assistant"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Pool      PoolConfig      `yaml:"pool"`
}

// PortalConfig configures the web-portal CBOR RPC client.
type PortalConfig struct {
	Endpoint string `yaml:"endpoint"`
	Timeout  string `yaml:"timeout"`
}

// AssistantConfig configures the generateAssistantResponse client.
type AssistantConfig struct {
	DefaultModel string `yaml:"default_model"`
	Timeout      string `yaml:"timeout"`
}

// OAuthConfig configures the loopback acquisition flow.
type OAuthConfig struct {
	CallbackPort    int    `yaml:"callback_port"`
	WaitTimeout     string `yaml:"wait_timeout"`
	ExchangeTimeout string `yaml:"exchange_timeout"`
}

// PoolConfig is the credential-pool ban policy.
type PoolConfig struct {
	BanKeywords    []string `yaml:"ban_keywords"`
	ErrorThreshold int      `yaml:"error_threshold"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Listen:   defaultListen,
		Database: defaultDatabase,
		Region:   defaultRegion,
		Portal: PortalConfig{
			Endpoint: defaultPortalURL,
		},
		Assistant: AssistantConfig{
			DefaultModel: "claude-sonnet-4-20250514",
		},
		OAuth: OAuthConfig{
			CallbackPort: defaultCallbackPort,
		},
		Pool: PoolConfig{
			BanKeywords:    append([]string(nil), pool.DefaultBanKeywords...),
			ErrorThreshold: defaultErrorThreshold,
		},
	}
}

// Load reads the config file at path and applies defaults for anything
// unset. A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if len(cfg.Pool.BanKeywords) == 0 {
		cfg.Pool.BanKeywords = append([]string(nil), pool.DefaultBanKeywords...)
	}
	if cfg.Pool.ErrorThreshold <= 0 {
		cfg.Pool.ErrorThreshold = defaultErrorThreshold
	}
	if cfg.OAuth.CallbackPort == 0 {
		cfg.OAuth.CallbackPort = defaultCallbackPort
	}
	if cfg.Portal.Endpoint == "" {
		cfg.Portal.Endpoint = defaultPortalURL
	}
	return cfg, nil
}

// PortalTimeout returns the portal request budget.
func (c *Config) PortalTimeout() time.Duration {
	return parseDuration(c.Portal.Timeout, defaultPortalTimeout)
}

// AssistantTimeout returns the generation request budget. Materially larger
// than the portal budget since it waits on model inference.
func (c *Config) AssistantTimeout() time.Duration {
	return parseDuration(c.Assistant.Timeout, defaultAssistantTimeout)
}

// OAuthWaitTimeout returns how long the acquisition flow waits for the
// browser callback.
func (c *Config) OAuthWaitTimeout() time.Duration {
	return parseDuration(c.OAuth.WaitTimeout, defaultOAuthWait)
}

// ExchangeTimeout returns the code-exchange request budget.
func (c *Config) ExchangeTimeout() time.Duration {
	return parseDuration(c.OAuth.ExchangeTimeout, defaultExchangeTimeout)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
