// Package config loads and validates the gateway's startup configuration:
// policy definitions, upstream provider routing, per-request limits, queue
// sizing, the activity stream's rate limit, auth, and the persistence/pubsub
// interface handles. Unknown options are rejected at decode time via
// yaml.Decoder.KnownFields.
package config

import (
	"fmt"
	"time"
)

// Config is the fully decoded, validated gateway configuration. Field names
// mirror the recognized top-level options exactly; no other keys are
// accepted.
type Config struct {
	Version     int               `yaml:"version"`
	Server      ServerConfig      `yaml:"server"`
	Policy      []PolicyDef       `yaml:"policy"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Limits      LimitsConfig      `yaml:"limits"`
	Queues      QueuesConfig      `yaml:"queues"`
	Activity    ActivityConfig    `yaml:"activity"`
	Auth        AuthConfig        `yaml:"auth"`
	Persistence PersistenceConfig `yaml:"persistence"`
	PubSub      PubSubConfig      `yaml:"pubsub"`
}

// ServerConfig is the HTTP listen address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PolicyDef is one entry of the ordered policy chain: a class reference
// (registry key) plus its free-form config payload.
type PolicyDef struct {
	ClassRef string         `yaml:"class_ref"`
	Config   map[string]any `yaml:"config"`
}

// UpstreamConfig holds the model-pattern -> provider routing table.
type UpstreamConfig struct {
	Providers []ProviderDef `yaml:"providers"`
}

// ProviderDef routes requests whose model matches Pattern (a glob, e.g.
// "claude-*" or "gpt-*") to one upstream provider.
type ProviderDef struct {
	Pattern       string `yaml:"pattern"`
	Dialect       string `yaml:"dialect"` // "anthropic", "openai", "bedrock", "google"
	BaseURL       string `yaml:"base_url"`
	CredentialRef string `yaml:"credentials_ref"` // name of an env var holding the credential
	DefaultModel  string `yaml:"default_model"`
	Region        string `yaml:"region"` // bedrock only
}

// LimitsConfig bounds request size and duration.
type LimitsConfig struct {
	MaxRequestBytes   int64 `yaml:"max_request_bytes"`
	StallThresholdMs  int64 `yaml:"stall_threshold_ms"`
	OverallDeadlineMs int64 `yaml:"overall_deadline_ms"`
}

// StallThreshold returns the stall timeout as a time.Duration.
func (l LimitsConfig) StallThreshold() time.Duration {
	return time.Duration(l.StallThresholdMs) * time.Millisecond
}

// OverallDeadline returns the overall per-request deadline as a time.Duration.
func (l LimitsConfig) OverallDeadline() time.Duration {
	return time.Duration(l.OverallDeadlineMs) * time.Millisecond
}

// QueuesConfig sizes the orchestrator's bounded stage queues.
type QueuesConfig struct {
	Capacity int `yaml:"capacity"`
}

// ActivityConfig governs the /activity/stream SSE multiplex.
type ActivityConfig struct {
	RatePerSec int `yaml:"rate_per_sec"`
}

// AuthConfig configures the bearer auth accepted at both ingress endpoints.
// ProxyAPIKey is compared in constant time. JWT validation is accepted as an
// alternative to the static key when JWTSecret is set.
type AuthConfig struct {
	ProxyAPIKey string `yaml:"proxy_api_key"`
	JWTSecret   string `yaml:"jwt_secret"`
	JWTIssuer   string `yaml:"jwt_issuer"`
}

// PersistenceConfig selects and configures the transaction/event store.
type PersistenceConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// PubSubConfig selects and configures the activity-stream broker.
type PubSubConfig struct {
	Driver string `yaml:"driver"` // currently only "local"
}

const (
	defaultMaxRequestBytes   = 10 << 20
	defaultStallThresholdMs  = 30_000
	defaultOverallDeadlineMs = 600_000
	defaultQueueCapacity     = 64
	defaultActivityRate      = 50
)

func (c *Config) applyDefaults() {
	if c.Limits.MaxRequestBytes == 0 {
		c.Limits.MaxRequestBytes = defaultMaxRequestBytes
	}
	if c.Limits.StallThresholdMs == 0 {
		c.Limits.StallThresholdMs = defaultStallThresholdMs
	}
	if c.Limits.OverallDeadlineMs == 0 {
		c.Limits.OverallDeadlineMs = defaultOverallDeadlineMs
	}
	if c.Queues.Capacity == 0 {
		c.Queues.Capacity = defaultQueueCapacity
	}
	if c.Activity.RatePerSec == 0 {
		c.Activity.RatePerSec = defaultActivityRate
	}
	if c.Version == 0 {
		c.Version = CurrentVersion
	}
}

// Validate checks required fields and cross-field invariants once defaults
// have been applied. It does not touch the network or filesystem.
func (c *Config) Validate() error {
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}
	if c.Auth.ProxyAPIKey == "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth: one of proxy_api_key or jwt_secret is required")
	}
	if len(c.Upstream.Providers) == 0 {
		return fmt.Errorf("upstream.providers: at least one provider entry is required")
	}
	for i, p := range c.Upstream.Providers {
		if p.Pattern == "" {
			return fmt.Errorf("upstream.providers[%d]: pattern is required", i)
		}
		if p.Dialect == "" {
			return fmt.Errorf("upstream.providers[%d]: dialect is required", i)
		}
	}
	for i, p := range c.Policy {
		if p.ClassRef == "" {
			return fmt.Errorf("policy[%d]: class_ref is required", i)
		}
	}
	if c.Limits.MaxRequestBytes < 0 {
		return fmt.Errorf("limits.max_request_bytes must be non-negative")
	}
	if c.Queues.Capacity <= 0 {
		return fmt.Errorf("queues.capacity must be positive")
	}
	return nil
}

// Load reads, merges ($include), expands environment variables, decodes,
// defaults, and validates a configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
