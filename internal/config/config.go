// Package config loads and validates the gateway configuration from
// gateway.yaml with BARAKA_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server         ServerConfig    `koanf:"server"`
	Services       []Service       `koanf:"services"`
	DefaultService string          `koanf:"default_service"`
	RateLimit      RateLimitConfig `koanf:"rate_limit"`
	Breaker        BreakerConfig   `koanf:"breaker"`
	Retry          RetryConfig     `koanf:"retry"`
	Storage        StorageConfig   `koanf:"storage"`
	Auth           AuthConfig      `koanf:"auth"`
}

type ServerConfig struct {
	Port        int   `koanf:"port"`
	Debug       bool  `koanf:"debug"`
	MaxBodySize int64 `koanf:"max_body_size"`
}

// Service describes one backend behind the gateway. Every field the
// router needs is typed and checked at startup; nothing is looked up by
// string key at request time.
type Service struct {
	Name                string        `koanf:"name"`
	Host                string        `koanf:"host"`
	Port                int           `koanf:"port"`
	Protocol            string        `koanf:"protocol"`
	RequestTimeout      time.Duration `koanf:"request_timeout"`
	ConnectTimeout      time.Duration `koanf:"connect_timeout"`
	HealthCheckPath     string        `koanf:"health_check_path"`
	RequireServiceToken bool          `koanf:"require_service_token"`
}

// BaseURL returns the scheme://host:port root for the service.
func (s Service) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", s.Protocol, s.Host, s.Port)
}

type RateLimitConfig struct {
	DefaultTier     string           `koanf:"default_tier"`
	WindowCacheSize int              `koanf:"window_cache_size"`
	Tiers           map[string]Tier  `koanf:"tiers"`
	Classes         map[string]Class `koanf:"classes"`
}

// Tier scales base limits per caller segment.
type Tier struct {
	Multiplier     float64 `koanf:"multiplier"`
	BurstPerMinute int     `koanf:"burst_per_minute"`
}

// Class carries the base limits for one endpoint class (path segment).
type Class struct {
	BasePerMinute  int  `koanf:"base_per_minute"`
	BasePerHour    int  `koanf:"base_per_hour"`
	Bulk           bool `koanf:"bulk"`
	BatchSizeLimit int  `koanf:"batch_size_limit"`
}

type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	SuccessThreshold int           `koanf:"success_threshold"`
	RecoveryTimeout  time.Duration `koanf:"recovery_timeout"`
	HalfOpenMaxCalls int           `koanf:"half_open_max_calls"`
}

type RetryConfig struct {
	MaxAttempts      int           `koanf:"max_attempts"`
	BackoffStrategy  string        `koanf:"backoff_strategy"`
	BaseDelay        time.Duration `koanf:"base_delay"`
	MaxDelay         time.Duration `koanf:"max_delay"`
	RetryableMethods []string      `koanf:"retryable_methods"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
	// Retention bounds the access log; rows older than this are pruned
	// every PruneInterval.
	Retention     time.Duration `koanf:"retention"`
	PruneInterval time.Duration `koanf:"prune_interval"`
}

type AuthConfig struct {
	ServiceTokenSecret string   `koanf:"service_token_secret"`
	Keys               []APIKey `koanf:"keys"`
}

// APIKey maps a stored key hash to a principal and tier.
type APIKey struct {
	KeyHash     string   `koanf:"key_hash"`
	Principal   string   `koanf:"principal"`
	Name        string   `koanf:"name"`
	Tier        string   `koanf:"tier"`
	Permissions []string `koanf:"permissions"`
}

// Load reads the yaml file at path, overlays BARAKA_ environment
// variables (BARAKA_SERVER_PORT=9090 -> server.port) and validates the
// result, failing fast on anything the gateway cannot run with.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	if err := k.Load(env.Provider("BARAKA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "BARAKA_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxBodySize == 0 {
		c.Server.MaxBodySize = 10 << 20
	}
	if c.RateLimit.DefaultTier == "" {
		c.RateLimit.DefaultTier = "standard"
	}
	if c.RateLimit.WindowCacheSize == 0 {
		c.RateLimit.WindowCacheSize = 16384
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.SuccessThreshold == 0 {
		c.Breaker.SuccessThreshold = 2
	}
	if c.Breaker.RecoveryTimeout == 0 {
		c.Breaker.RecoveryTimeout = 60 * time.Second
	}
	if c.Breaker.HalfOpenMaxCalls == 0 {
		c.Breaker.HalfOpenMaxCalls = 3
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BackoffStrategy == "" {
		c.Retry.BackoffStrategy = "exponential"
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 100 * time.Millisecond
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 2 * time.Second
	}
	if len(c.Retry.RetryableMethods) == 0 {
		c.Retry.RetryableMethods = []string{"GET", "HEAD", "OPTIONS"}
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "file:baraka-gateway.db"
	}
	if c.Storage.Retention == 0 {
		c.Storage.Retention = 72 * time.Hour
	}
	if c.Storage.PruneInterval == 0 {
		c.Storage.PruneInterval = time.Hour
	}

	for i := range c.Services {
		if c.Services[i].Protocol == "" {
			c.Services[i].Protocol = "http"
		}
		if c.Services[i].RequestTimeout == 0 {
			c.Services[i].RequestTimeout = 30 * time.Second
		}
		if c.Services[i].ConnectTimeout == 0 {
			c.Services[i].ConnectTimeout = 5 * time.Second
		}
		if c.Services[i].HealthCheckPath == "" {
			c.Services[i].HealthCheckPath = "/health"
		}
	}
}

// Validate fails fast on configuration the gateway cannot serve with.
func (c *Config) Validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("config: at least one service is required")
	}

	seen := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		switch {
		case s.Name == "":
			return fmt.Errorf("config: service with empty name")
		case seen[s.Name]:
			return fmt.Errorf("config: duplicate service %q", s.Name)
		case s.Host == "":
			return fmt.Errorf("config: service %q: host is required", s.Name)
		case s.Port <= 0 || s.Port > 65535:
			return fmt.Errorf("config: service %q: invalid port %d", s.Name, s.Port)
		case s.Protocol != "http" && s.Protocol != "https":
			return fmt.Errorf("config: service %q: protocol must be http or https, got %q", s.Name, s.Protocol)
		}
		seen[s.Name] = true
	}

	if c.DefaultService != "" && !seen[c.DefaultService] {
		return fmt.Errorf("config: default_service %q is not a configured service", c.DefaultService)
	}

	for name, t := range c.RateLimit.Tiers {
		if t.Multiplier <= 0 {
			return fmt.Errorf("config: tier %q: multiplier must be positive", name)
		}
		if t.BurstPerMinute < 0 {
			return fmt.Errorf("config: tier %q: burst_per_minute cannot be negative", name)
		}
	}
	for name, cl := range c.RateLimit.Classes {
		if cl.BasePerMinute <= 0 {
			return fmt.Errorf("config: class %q: base_per_minute must be positive", name)
		}
		if cl.Bulk && cl.BatchSizeLimit <= 0 {
			return fmt.Errorf("config: class %q: bulk classes need batch_size_limit", name)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be at least 1")
	}
	if s := c.Retry.BackoffStrategy; s != "fixed" && s != "exponential" {
		return fmt.Errorf("config: retry.backoff_strategy must be fixed or exponential, got %q", s)
	}

	if c.Breaker.FailureThreshold < 1 || c.Breaker.SuccessThreshold < 1 || c.Breaker.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("config: breaker thresholds must be at least 1")
	}

	// The bulk guard counts the trailing hour from this log.
	if c.Storage.Retention < time.Hour {
		return fmt.Errorf("config: storage.retention must be at least 1h, got %v", c.Storage.Retention)
	}
	if c.Storage.PruneInterval <= 0 {
		return fmt.Errorf("config: storage.prune_interval must be positive")
	}

	for _, k := range c.Auth.Keys {
		if k.KeyHash == "" || k.Principal == "" {
			return fmt.Errorf("config: auth key entries need key_hash and principal")
		}
	}

	return nil
}

// ServiceMap indexes services by name.
func (c *Config) ServiceMap() map[string]Service {
	m := make(map[string]Service, len(c.Services))
	for _, s := range c.Services {
		m[s.Name] = s
	}
	return m
}
