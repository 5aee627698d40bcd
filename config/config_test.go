// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.WSAddr)
	assert.Equal(t, "/mesh", cfg.Server.WSPath)
	assert.Equal(t, "replace", cfg.Broker.RegistrationPolicy)
	assert.Equal(t, 30*time.Second, cfg.Broker.TaskTimeout)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Webhook.Enabled)
}

func TestLoad_File(t *testing.T) {
	content := `
server:
  ws_addr: ":9090"
  ws_path: "/relay"
broker:
  registration_policy: reject
  task_timeout: 5s
storage:
  type: badger
  badger_dir: /tmp/relay-data
log:
  level: debug
  format: json
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.WSAddr)
	assert.Equal(t, "/relay", cfg.Server.WSPath)
	assert.Equal(t, "reject", cfg.Broker.RegistrationPolicy)
	assert.Equal(t, 5*time.Second, cfg.Broker.TaskTimeout)
	assert.Equal(t, "badger", cfg.Storage.Type)
	assert.Equal(t, "/tmp/relay-data", cfg.Storage.BadgerDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Unset fields keep their defaults.
	assert.Equal(t, ":8081", cfg.Server.HTTPAddr)
	assert.Equal(t, 1000, cfg.Broker.AuditLimit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "bad registration policy",
			mutate:  func(c *Config) { c.Broker.RegistrationPolicy = "merge" },
			wantErr: "registration_policy",
		},
		{
			name:    "bad ws path",
			mutate:  func(c *Config) { c.Server.WSPath = "mesh" },
			wantErr: "ws_path",
		},
		{
			name:    "bad storage type",
			mutate:  func(c *Config) { c.Storage.Type = "redis" },
			wantErr: "storage.type",
		},
		{
			name: "badger without dir",
			mutate: func(c *Config) {
				c.Storage.Type = "badger"
				c.Storage.BadgerDir = ""
			},
			wantErr: "badger_dir",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "trace" },
			wantErr: "log.level",
		},
		{
			name: "metrics without endpoint",
			mutate: func(c *Config) {
				c.Server.MetricsEnabled = true
				c.Server.OtelEndpoint = ""
			},
			wantErr: "otel_endpoint",
		},
		{
			name: "webhook endpoint missing url",
			mutate: func(c *Config) {
				c.Webhook.Enabled = true
				c.Webhook.Endpoints = []EndpointConfig{{Name: "hooks"}}
			},
			wantErr: "url",
		},
		{
			name: "webhook endpoint retry zero attempts",
			mutate: func(c *Config) {
				c.Webhook.Enabled = true
				c.Webhook.Endpoints = []EndpointConfig{{
					Name:  "hooks",
					URL:   "http://localhost:9000/hooks",
					Retry: &RetryConfig{MaxAttempts: 0, Multiplier: 2.0},
				}}
			},
			wantErr: "endpoints[0].retry.max_attempts",
		},
		{
			name: "webhook endpoint retry multiplier below one",
			mutate: func(c *Config) {
				c.Webhook.Enabled = true
				c.Webhook.Endpoints = []EndpointConfig{{
					Name:  "hooks",
					URL:   "http://localhost:9000/hooks",
					Retry: &RetryConfig{MaxAttempts: 3, Multiplier: 0},
				}}
			},
			wantErr: "endpoints[0].retry.multiplier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
