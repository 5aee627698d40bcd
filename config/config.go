// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the relay.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Broker  BrokerConfig  `yaml:"broker"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	WSAddr          string        `yaml:"ws_addr"`
	WSPath          string        `yaml:"ws_path"`
	HTTPAddr        string        `yaml:"http_addr"`
	HealthAddr      string        `yaml:"health_addr"`
	HealthEnabled   bool          `yaml:"health_enabled"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Connection rate limiting per source IP.
	ConnRateLimit float64 `yaml:"conn_rate_limit"` // connections per second, 0 disables
	ConnRateBurst int     `yaml:"conn_rate_burst"`

	// OpenTelemetry metrics export.
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	OtelEndpoint    string `yaml:"otel_endpoint"`
	OtelServiceName string `yaml:"otel_service_name"`
}

// BrokerConfig holds relay behavior knobs.
type BrokerConfig struct {
	// RegistrationPolicy is "replace" (a repeat register frame overwrites
	// node fields) or "reject".
	RegistrationPolicy string `yaml:"registration_policy"`

	// TaskTimeout applies to task requests without an explicit timeoutMs.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// AuditLimit bounds the audit trail entry count.
	AuditLimit int `yaml:"audit_limit"`

	// SendQueueSize is the per-connection outbound frame buffer.
	SendQueueSize int `yaml:"send_queue_size"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	Type       string `yaml:"type"` // "memory" or "badger"
	BadgerDir  string `yaml:"badger_dir"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// WebhookConfig holds event webhook configuration.
type WebhookConfig struct {
	Enabled         bool             `yaml:"enabled"`
	QueueSize       int              `yaml:"queue_size"`
	Workers         int              `yaml:"workers"`
	ShutdownTimeout time.Duration    `yaml:"shutdown_timeout"`
	Defaults        WebhookDefaults  `yaml:"defaults"`
	Endpoints       []EndpointConfig `yaml:"endpoints"`
}

// WebhookDefaults apply to endpoints that do not override them.
type WebhookDefaults struct {
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig controls webhook delivery retries.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// CircuitBreakerConfig controls the per-endpoint circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// EndpointConfig describes one webhook destination.
type EndpointConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Events  []string          `yaml:"events"` // empty means all
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
	Retry   *RetryConfig      `yaml:"retry"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			WSAddr:          ":8080",
			WSPath:          "/mesh",
			HTTPAddr:        ":8081",
			HealthAddr:      ":8082",
			HealthEnabled:   true,
			ShutdownTimeout: 10 * time.Second,
			ConnRateBurst:   10,
			OtelServiceName: "meshrelay",
		},
		Broker: BrokerConfig{
			RegistrationPolicy: "replace",
			TaskTimeout:        30 * time.Second,
			AuditLimit:         1000,
			SendQueueSize:      64,
		},
		Storage: StorageConfig{
			Type:      "memory",
			BadgerDir: "/var/lib/meshrelay",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Webhook: WebhookConfig{
			Enabled:         false,
			QueueSize:       1000,
			Workers:         4,
			ShutdownTimeout: 5 * time.Second,
			Defaults: WebhookDefaults{
				Timeout: 10 * time.Second,
				Retry: RetryConfig{
					MaxAttempts:    3,
					InitialBackoff: time.Second,
					Multiplier:     2.0,
				},
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     30 * time.Second,
				},
			},
		},
	}
}

// Load reads configuration from a YAML file, applying defaults for absent
// fields. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Server.WSAddr == "" {
		return fmt.Errorf("server.ws_addr cannot be empty")
	}
	if c.Server.WSPath == "" || c.Server.WSPath[0] != '/' {
		return fmt.Errorf("server.ws_path must start with '/'")
	}
	if c.Server.ConnRateLimit < 0 {
		return fmt.Errorf("server.conn_rate_limit cannot be negative")
	}
	if c.Server.ConnRateLimit > 0 && c.Server.ConnRateBurst < 1 {
		return fmt.Errorf("server.conn_rate_burst must be at least 1 when rate limiting is enabled")
	}
	if c.Server.MetricsEnabled && c.Server.OtelEndpoint == "" {
		return fmt.Errorf("server.otel_endpoint required when metrics enabled")
	}

	switch c.Broker.RegistrationPolicy {
	case "replace", "reject":
	default:
		return fmt.Errorf("broker.registration_policy must be 'replace' or 'reject'")
	}
	if c.Broker.TaskTimeout < time.Millisecond {
		return fmt.Errorf("broker.task_timeout must be at least 1ms")
	}
	if c.Broker.AuditLimit < 1 {
		return fmt.Errorf("broker.audit_limit must be at least 1")
	}
	if c.Broker.SendQueueSize < 1 {
		return fmt.Errorf("broker.send_queue_size must be at least 1")
	}

	validStorage := map[string]bool{"memory": true, "badger": true}
	if !validStorage[c.Storage.Type] {
		return fmt.Errorf("storage.type must be one of: memory, badger")
	}
	if c.Storage.Type == "badger" && c.Storage.BadgerDir == "" {
		return fmt.Errorf("storage.badger_dir required when type is badger")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Webhook.Enabled {
		if c.Webhook.QueueSize < 1 {
			return fmt.Errorf("webhook.queue_size must be at least 1")
		}
		if c.Webhook.Workers < 1 {
			return fmt.Errorf("webhook.workers must be at least 1")
		}
		if c.Webhook.Defaults.Retry.MaxAttempts < 1 {
			return fmt.Errorf("webhook.defaults.retry.max_attempts must be at least 1")
		}
		if c.Webhook.Defaults.Retry.Multiplier < 1.0 {
			return fmt.Errorf("webhook.defaults.retry.multiplier must be at least 1.0")
		}
		if c.Webhook.Defaults.CircuitBreaker.FailureThreshold < 1 {
			return fmt.Errorf("webhook.defaults.circuit_breaker.failure_threshold must be at least 1")
		}
		for i, endpoint := range c.Webhook.Endpoints {
			if endpoint.Name == "" {
				return fmt.Errorf("webhook.endpoints[%d].name cannot be empty", i)
			}
			if endpoint.URL == "" {
				return fmt.Errorf("webhook.endpoints[%d].url cannot be empty", i)
			}
			if endpoint.Retry != nil {
				if endpoint.Retry.MaxAttempts < 1 {
					return fmt.Errorf("webhook.endpoints[%d].retry.max_attempts must be at least 1", i)
				}
				if endpoint.Retry.Multiplier < 1.0 {
					return fmt.Errorf("webhook.endpoints[%d].retry.multiplier must be at least 1.0", i)
				}
			}
		}
	}

	return nil
}
