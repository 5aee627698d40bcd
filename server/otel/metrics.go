// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry metric instruments for the relay. It satisfies
// the broker's metrics interface.
type Metrics struct {
	meter metric.Meter

	// Counters
	connectionsTotal  metric.Int64Counter
	messagesDelivered metric.Int64Counter
	messagesQueued    metric.Int64Counter
	tasksDispatched   metric.Int64Counter
	tasksCompleted    metric.Int64Counter
	tasksFailed       metric.Int64Counter
	tasksTimedOut     metric.Int64Counter

	// UpDownCounters (Gauges)
	nodesConnected metric.Int64UpDownCounter
}

// NewMetrics creates a Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("meshrelay"),
	}

	var err error

	m.connectionsTotal, err = m.meter.Int64Counter(
		"relay.connections.total",
		metric.WithDescription("Total number of node registrations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsTotal counter: %w", err)
	}

	m.messagesDelivered, err = m.meter.Int64Counter(
		"relay.messages.delivered.total",
		metric.WithDescription("Total messages delivered to connected nodes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesDelivered counter: %w", err)
	}

	m.messagesQueued, err = m.meter.Int64Counter(
		"relay.messages.queued.total",
		metric.WithDescription("Total messages queued for offline nodes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesQueued counter: %w", err)
	}

	m.tasksDispatched, err = m.meter.Int64Counter(
		"relay.tasks.dispatched.total",
		metric.WithDescription("Total tasks dispatched to capable nodes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasksDispatched counter: %w", err)
	}

	m.tasksCompleted, err = m.meter.Int64Counter(
		"relay.tasks.completed.total",
		metric.WithDescription("Total tasks completed successfully"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasksCompleted counter: %w", err)
	}

	m.tasksFailed, err = m.meter.Int64Counter(
		"relay.tasks.failed.total",
		metric.WithDescription("Total tasks failed by their assignee"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasksFailed counter: %w", err)
	}

	m.tasksTimedOut, err = m.meter.Int64Counter(
		"relay.tasks.timedout.total",
		metric.WithDescription("Total tasks that expired without a result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasksTimedOut counter: %w", err)
	}

	m.nodesConnected, err = m.meter.Int64UpDownCounter(
		"relay.nodes.connected",
		metric.WithDescription("Current number of registered nodes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create nodesConnected gauge: %w", err)
	}

	return m, nil
}

// NodeConnected records a node registration.
func (m *Metrics) NodeConnected() {
	ctx := context.Background()
	m.connectionsTotal.Add(ctx, 1)
	m.nodesConnected.Add(ctx, 1)
}

// NodeDisconnected records a node departure.
func (m *Metrics) NodeDisconnected() {
	m.nodesConnected.Add(context.Background(), -1)
}

// MessageDelivered records count message deliveries.
func (m *Metrics) MessageDelivered(count int) {
	if count <= 0 {
		return
	}
	m.messagesDelivered.Add(context.Background(), int64(count))
}

// MessageQueued records a message queued for an offline node.
func (m *Metrics) MessageQueued() {
	m.messagesQueued.Add(context.Background(), 1)
}

// TaskDispatched records a task assignment.
func (m *Metrics) TaskDispatched() {
	m.tasksDispatched.Add(context.Background(), 1)
}

// TaskCompleted records a successful task result.
func (m *Metrics) TaskCompleted() {
	m.tasksCompleted.Add(context.Background(), 1)
}

// TaskFailed records a failed task result.
func (m *Metrics) TaskFailed() {
	m.tasksFailed.Add(context.Background(), 1)
}

// TaskTimedOut records a task deadline expiry.
func (m *Metrics) TaskTimedOut() {
	m.tasksTimedOut.Add(context.Background(), 1)
}
