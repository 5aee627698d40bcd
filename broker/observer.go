// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import "github.com/absmach/meshrelay/broker/events"

// Publisher receives lifecycle events for external delivery (webhooks).
// Publish must not block the routing path.
type Publisher interface {
	Publish(event events.Event)
}

// Metrics receives broker counters. Implemented by the OpenTelemetry
// instrumentation; the broker itself only calls through this interface.
type Metrics interface {
	NodeConnected()
	NodeDisconnected()
	MessageDelivered(count int)
	MessageQueued()
	TaskDispatched()
	TaskCompleted()
	TaskFailed()
	TaskTimedOut()
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

type nopMetrics struct{}

func (nopMetrics) NodeConnected()        {}
func (nopMetrics) NodeDisconnected()     {}
func (nopMetrics) MessageDelivered(int)  {}
func (nopMetrics) MessageQueued()        {}
func (nopMetrics) TaskDispatched()       {}
func (nopMetrics) TaskCompleted()        {}
func (nopMetrics) TaskFailed()           {}
func (nopMetrics) TaskTimedOut()         {}
