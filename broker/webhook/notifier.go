// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package webhook pushes broker lifecycle events to configured HTTP
// endpoints through a worker pool with per-endpoint circuit breakers.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/absmach/meshrelay/broker/events"
	"github.com/absmach/meshrelay/config"
)

// Sender delivers a serialized event envelope to one endpoint.
type Sender interface {
	Send(ctx context.Context, url string, headers map[string]string, body []byte) error
}

// HTTPSender is the default Sender posting JSON envelopes.
type HTTPSender struct {
	Client *http.Client
}

// Send posts the envelope, treating any non-2xx response as failure.
func (s *HTTPSender) Send(ctx context.Context, url string, headers map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

type endpoint struct {
	name         string
	url          string
	eventFilters map[string]bool
	headers      map[string]string
	timeout      time.Duration
	retry        config.RetryConfig
}

type job struct {
	event    events.Event
	endpoint endpoint
	attempt  int
}

// Notifier implements broker.Publisher, fanning events out to webhook
// endpoints asynchronously.
type Notifier struct {
	cfg       config.WebhookConfig
	brokerID  string
	endpoints []endpoint
	queue     chan job
	breakers  map[string]*gobreaker.CircuitBreaker
	sender    Sender
	logger    *slog.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a notifier and starts its worker pool.
func New(cfg config.WebhookConfig, brokerID string, sender Sender, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		sender = &HTTPSender{Client: &http.Client{Timeout: cfg.Defaults.Timeout}}
	}

	endpoints := make([]endpoint, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		filters := make(map[string]bool, len(ep.Events))
		for _, eventType := range ep.Events {
			filters[eventType] = true
		}

		timeout := cfg.Defaults.Timeout
		if ep.Timeout > 0 {
			timeout = ep.Timeout
		}
		retry := cfg.Defaults.Retry
		if ep.Retry != nil {
			retry = *ep.Retry
		}

		endpoints = append(endpoints, endpoint{
			name:         ep.Name,
			url:          ep.URL,
			eventFilters: filters,
			headers:      ep.Headers,
			timeout:      timeout,
			retry:        retry,
		})
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker, len(endpoints))
	for _, ep := range endpoints {
		breakers[ep.name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        ep.name,
			MaxRequests: 1,
			Timeout:     cfg.Defaults.CircuitBreaker.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.Defaults.CircuitBreaker.FailureThreshold)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("webhook_breaker_state_changed",
					slog.String("endpoint", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		cfg:       cfg,
		brokerID:  brokerID,
		endpoints: endpoints,
		queue:     make(chan job, cfg.QueueSize),
		breakers:  breakers,
		sender:    sender,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}

	logger.Info("webhook_notifier_started",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_size", cfg.QueueSize),
		slog.Int("endpoints", len(endpoints)))

	return n, nil
}

// Publish enqueues the event for all matching endpoints. Never blocks: a
// full queue drops the event with an error log.
func (n *Notifier) Publish(event events.Event) {
	for _, ep := range n.endpoints {
		if len(ep.eventFilters) > 0 && !ep.eventFilters[event.Type()] {
			continue
		}

		select {
		case n.queue <- job{event: event, endpoint: ep}:
		default:
			n.logger.Error("webhook_queue_full",
				slog.String("event_type", event.Type()),
				slog.String("endpoint", ep.name))
		}
	}
}

// Close stops the workers, waiting up to the configured shutdown timeout
// for in-flight deliveries.
func (n *Notifier) Close() error {
	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(n.cfg.ShutdownTimeout):
		return fmt.Errorf("webhook notifier shutdown timed out")
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case j := <-n.queue:
			n.process(j)
		}
	}
}

func (n *Notifier) process(j job) {
	breaker := n.breakers[j.endpoint.name]

	_, err := breaker.Execute(func() (any, error) {
		return nil, n.deliver(j)
	})
	if err == nil {
		return
	}

	if j.attempt < j.endpoint.retry.MaxAttempts-1 {
		j.attempt++
		delay := retryDelay(j.attempt, j.endpoint.retry)

		n.logger.Debug("webhook_delivery_retrying",
			slog.String("endpoint", j.endpoint.name),
			slog.String("event_type", j.event.Type()),
			slog.Int("attempt", j.attempt),
			slog.Duration("retry_after", delay),
			slog.String("error", err.Error()))

		time.AfterFunc(delay, func() {
			select {
			case n.queue <- j:
			default:
				n.logger.Error("webhook_retry_requeue_failed",
					slog.String("endpoint", j.endpoint.name),
					slog.String("event_type", j.event.Type()))
			}
		})
		return
	}

	n.logger.Error("webhook_delivery_failed",
		slog.String("endpoint", j.endpoint.name),
		slog.String("event_type", j.event.Type()),
		slog.Int("attempts", j.attempt+1),
		slog.String("error", err.Error()))
}

func (n *Notifier) deliver(j job) error {
	body, err := json.Marshal(j.event.Wrap(n.brokerID))
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(n.ctx, j.endpoint.timeout)
	defer cancel()

	return n.sender.Send(ctx, j.endpoint.url, j.endpoint.headers, body)
}

func retryDelay(attempt int, retry config.RetryConfig) time.Duration {
	delay := retry.InitialBackoff
	if delay <= 0 {
		delay = time.Second
	}
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * retry.Multiplier)
	}
	return delay
}
