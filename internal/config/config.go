// Package config loads and validates gateway configuration.
//
// DESIGN: YAML file with environment expansion. Values go through three
// layers, later layers winning:
//  1. compiled-in defaults (defaults.go)
//  2. the YAML file, after ${VAR} / ${VAR:-default} expansion
//  3. explicit flag/env overrides applied by cmd
//
// Service blocks describe the backends the gateway fronts. Every service
// gets the global defaults for any field it leaves unset, so a minimal
// block is just name + base_url.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Health   HealthConfig    `yaml:"health"`
	Cache    CacheConfig     `yaml:"cache"`
	Batch    BatchConfig     `yaml:"batch"`
	Audit    AuditConfig     `yaml:"audit"`
	Events   EventsConfig    `yaml:"events"`
	Services []ServiceConfig `yaml:"services"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
}

// HealthConfig holds health monitor settings.
type HealthConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	ProbeTimeout Duration `yaml:"probe_timeout"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	DefaultTTL      Duration `yaml:"default_ttl"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	MaxEntries      int      `yaml:"max_entries"`
	// IgnoreFields are JSON paths stripped from payloads before
	// fingerprinting, so volatile fields (request IDs, timestamps) don't
	// defeat caching. The gateway never interprets payloads beyond this.
	IgnoreFields []string `yaml:"ignore_fields"`
}

// BatchConfig holds batch aggregator settings.
type BatchConfig struct {
	MaxSize        int `yaml:"max_size"`
	MaxConcurrency int `yaml:"max_concurrency"`
}

// AuditConfig holds the SQLite audit log settings.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	MaxRows int    `yaml:"max_rows"`
}

// EventsConfig holds the websocket event feed settings.
type EventsConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// ServiceConfig describes one backend service.
type ServiceConfig struct {
	Name         string        `yaml:"name"`
	BaseURL      string        `yaml:"base_url"`
	HealthPath   string        `yaml:"health_path"`
	Critical     bool          `yaml:"critical"`
	CallTimeout  Duration      `yaml:"call_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff Duration      `yaml:"retry_backoff"`
	CacheTTL     Duration      `yaml:"cache_ttl"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds per-service circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	OpenDuration     Duration `yaml:"open_duration"`
	// BackoffFactor multiplies the open duration after each failed probe.
	// 1.0 gives fixed backoff; the default doubles up to MaxOpenDuration.
	BackoffFactor   float64  `yaml:"backoff_factor"`
	MaxOpenDuration Duration `yaml:"max_open_duration"`
	// CountUpstreamErrors makes 5xx upstream responses count as breaker
	// failures. Off by default: a backend that answers is reachable, and
	// its application errors are its own business.
	CountUpstreamErrors bool `yaml:"count_upstream_errors"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "250ms" or "30s". Bare integers are read as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a scalar: %w", err)
	}
	parsed, err := ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDuration reads "250ms"/"30s" style strings; bare numbers are
// seconds. The admin API accepts the same forms as the YAML file.
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		return Duration(parsed), nil
	}
	var secs float64
	if _, err := fmt.Sscanf(raw, "%g", &secs); err == nil {
		return Duration(time.Duration(secs * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration %q", raw)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads, expands, and parses the config file at path.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path comes from the --config flag or GATEWAY_CONFIG
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config '%s': %w", path, err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config '%s': %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses config YAML after env expansion.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := ExpandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with all defaults applied and no services.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with the defaults from defaults.go.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(DefaultServerReadTimeout)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(DefaultServerWriteTimeout)
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = MaxRequestBodySize
	}

	if c.Health.PollInterval == 0 {
		c.Health.PollInterval = Duration(DefaultHealthPollInterval)
	}
	if c.Health.ProbeTimeout == 0 {
		c.Health.ProbeTimeout = Duration(DefaultHealthProbeTimeout)
	}

	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = Duration(DefaultCacheTTL)
	}
	if c.Cache.CleanupInterval == 0 {
		c.Cache.CleanupInterval = Duration(DefaultCacheCleanupInterval)
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}

	if c.Batch.MaxSize == 0 {
		c.Batch.MaxSize = DefaultBatchMaxSize
	}
	if c.Batch.MaxConcurrency == 0 {
		c.Batch.MaxConcurrency = DefaultBatchMaxConcurrency
	}

	if c.Audit.Path == "" {
		c.Audit.Path = DefaultAuditPath
	}
	if c.Audit.MaxRows == 0 {
		c.Audit.MaxRows = DefaultAuditMaxRows
	}

	if c.Events.SubscriberBuffer == 0 {
		c.Events.SubscriberBuffer = DefaultEventBuffer
	}

	for i := range c.Services {
		c.Services[i].ApplyDefaults()
	}
}

// ApplyDefaults fills unset per-service fields.
func (s *ServiceConfig) ApplyDefaults() {
	if s.HealthPath == "" {
		s.HealthPath = DefaultHealthPath
	}
	if s.CallTimeout == 0 {
		s.CallTimeout = Duration(DefaultCallTimeout)
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.RetryBackoff == 0 {
		s.RetryBackoff = Duration(DefaultRetryBackoff)
	}
	if s.Breaker.FailureThreshold == 0 {
		s.Breaker.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if s.Breaker.OpenDuration == 0 {
		s.Breaker.OpenDuration = Duration(DefaultBreakerOpenDuration)
	}
	if s.Breaker.BackoffFactor == 0 {
		s.Breaker.BackoffFactor = DefaultBreakerBackoffFactor
	}
	if s.Breaker.MaxOpenDuration == 0 {
		s.Breaker.MaxOpenDuration = Duration(DefaultBreakerMaxOpenDuration)
	}
}

// Validate checks the config for unusable values.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Batch.MaxSize < 1 {
		return fmt.Errorf("batch.max_size must be >= 1, got %d", c.Batch.MaxSize)
	}

	seen := make(map[string]bool, len(c.Services))
	for i := range c.Services {
		s := &c.Services[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("services[%d]: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("services[%d]: duplicate service name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Validate checks a single service block.
func (s *ServiceConfig) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(s.BaseURL) == "" {
		return fmt.Errorf("base_url is required for %q", s.Name)
	}
	if !strings.HasPrefix(s.BaseURL, "http://") && !strings.HasPrefix(s.BaseURL, "https://") {
		return fmt.Errorf("base_url for %q must be http(s), got %q", s.Name, s.BaseURL)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries for %q must be >= 0", s.Name)
	}
	if s.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold for %q must be >= 1", s.Name)
	}
	if s.Breaker.BackoffFactor < 1 {
		return fmt.Errorf("breaker.backoff_factor for %q must be >= 1", s.Name)
	}
	return nil
}
