// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/meshrelay/broker/events"
	"github.com/absmach/meshrelay/config"
)

type capture struct {
	url  string
	body []byte
}

// mockSender records deliveries and fails a configurable number of times.
type mockSender struct {
	mu       sync.Mutex
	sent     []capture
	failures int
}

func (s *mockSender) Send(ctx context.Context, url string, headers map[string]string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return errors.New("endpoint down")
	}
	s.sent = append(s.sent, capture{url: url, body: body})
	return nil
}

func (s *mockSender) deliveries() []capture {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]capture, len(s.sent))
	copy(out, s.sent)
	return out
}

func testConfig(endpoints ...config.EndpointConfig) config.WebhookConfig {
	return config.WebhookConfig{
		Enabled:         true,
		QueueSize:       100,
		Workers:         2,
		ShutdownTimeout: 2 * time.Second,
		Defaults: config.WebhookDefaults{
			Timeout: time.Second,
			Retry: config.RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: 10 * time.Millisecond,
				Multiplier:     2.0,
			},
			CircuitBreaker: config.CircuitBreakerConfig{
				FailureThreshold: 10,
				ResetTimeout:     time.Second,
			},
		},
		Endpoints: endpoints,
	}
}

func TestNotifier_DeliversEnvelope(t *testing.T) {
	sender := &mockSender{}
	n, err := New(testConfig(config.EndpointConfig{Name: "all", URL: "http://hooks.local/events"}), "broker-1", sender, nil)
	require.NoError(t, err)
	defer n.Close()

	n.Publish(events.NodeJoined{NodeID: "n1", Name: "worker-1"})

	require.Eventually(t, func() bool {
		return len(sender.deliveries()) == 1
	}, time.Second, 10*time.Millisecond)

	got := sender.deliveries()[0]
	assert.Equal(t, "http://hooks.local/events", got.url)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(got.body, &env))
	assert.Equal(t, events.TypeNodeJoined, env.EventType)
	assert.Equal(t, "broker-1", env.BrokerID)
	assert.NotEmpty(t, env.EventID)
}

func TestNotifier_EventFilters(t *testing.T) {
	sender := &mockSender{}
	n, err := New(testConfig(config.EndpointConfig{
		Name:   "tasks-only",
		URL:    "http://hooks.local/tasks",
		Events: []string{events.TypeTaskDispatched},
	}), "broker-1", sender, nil)
	require.NoError(t, err)
	defer n.Close()

	n.Publish(events.NodeJoined{NodeID: "n1"})
	n.Publish(events.TaskDispatched{TaskID: "t1", Capability: "scrape"})

	require.Eventually(t, func() bool {
		return len(sender.deliveries()) == 1
	}, time.Second, 10*time.Millisecond)

	// Only the task event passed the filter.
	time.Sleep(50 * time.Millisecond)
	deliveries := sender.deliveries()
	require.Len(t, deliveries, 1)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(deliveries[0].body, &env))
	assert.Equal(t, events.TypeTaskDispatched, env.EventType)
}

func TestNotifier_RetriesUntilSuccess(t *testing.T) {
	sender := &mockSender{failures: 2}
	n, err := New(testConfig(config.EndpointConfig{Name: "flaky", URL: "http://hooks.local/flaky"}), "broker-1", sender, nil)
	require.NoError(t, err)
	defer n.Close()

	n.Publish(events.NodeLeft{NodeID: "n1"})

	require.Eventually(t, func() bool {
		return len(sender.deliveries()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
