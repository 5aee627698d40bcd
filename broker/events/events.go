// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events defines the lifecycle events the broker publishes to
// webhook endpoints.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeNodeJoined     = "node.joined"
	TypeNodeLeft       = "node.left"
	TypeMessageRouted  = "message.routed"
	TypeMessageQueued  = "message.queued"
	TypeTaskDispatched = "task.dispatched"
	TypeTaskCompleted  = "task.completed"
	TypeTaskFailed     = "task.failed"
	TypeTaskTimedOut   = "task.timed_out"
)

// Event is the common interface for all webhook events.
type Event interface {
	// Type returns the event type identifier (e.g., "node.joined").
	Type() string

	// Wrap wraps the event in a common envelope with metadata.
	Wrap(brokerID string) *Envelope
}

// Envelope is the common wrapper for all webhook events.
type Envelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	BrokerID  string `json:"broker_id"`
	Data      any    `json:"data"`
}

func wrap(e Event, brokerID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		BrokerID:  brokerID,
		Data:      e,
	}
}

// NodeJoined is emitted when a node completes registration.
type NodeJoined struct {
	NodeID       string   `json:"node_id"`
	NodeType     string   `json:"node_type"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	RemoteAddr   string   `json:"remote_addr,omitempty"`
}

func (e NodeJoined) Type() string                   { return TypeNodeJoined }
func (e NodeJoined) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// NodeLeft is emitted when a registered node disconnects or is evicted.
type NodeLeft struct {
	NodeID string `json:"node_id"`
	Name   string `json:"name"`
}

func (e NodeLeft) Type() string                   { return TypeNodeLeft }
func (e NodeLeft) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// MessageRouted is emitted after a message is delivered to its
// destination(s).
type MessageRouted struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Routed    int    `json:"routed"`
}

func (e MessageRouted) Type() string                   { return TypeMessageRouted }
func (e MessageRouted) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// MessageQueued is emitted when a message is stored for a disconnected
// node.
type MessageQueued struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

func (e MessageQueued) Type() string                   { return TypeMessageQueued }
func (e MessageQueued) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// TaskDispatched is emitted when a task is assigned to a node.
type TaskDispatched struct {
	TaskID     string `json:"task_id"`
	Capability string `json:"capability"`
	From       string `json:"from"`
	AssignedTo string `json:"assigned_to"`
}

func (e TaskDispatched) Type() string                   { return TypeTaskDispatched }
func (e TaskDispatched) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// TaskCompleted is emitted when the assigned node reports a successful
// result before the timeout.
type TaskCompleted struct {
	TaskID     string `json:"task_id"`
	Capability string `json:"capability"`
	AssignedTo string `json:"assigned_to"`
}

func (e TaskCompleted) Type() string                   { return TypeTaskCompleted }
func (e TaskCompleted) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// TaskFailed is emitted when the assigned node reports an error result.
type TaskFailed struct {
	TaskID     string `json:"task_id"`
	Capability string `json:"capability"`
	AssignedTo string `json:"assigned_to"`
	Error      string `json:"error"`
}

func (e TaskFailed) Type() string                   { return TypeTaskFailed }
func (e TaskFailed) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// TaskTimedOut is emitted when no result arrives before the task deadline.
type TaskTimedOut struct {
	TaskID     string `json:"task_id"`
	Capability string `json:"capability"`
	AssignedTo string `json:"assigned_to"`
}

func (e TaskTimedOut) Type() string                   { return TypeTaskTimedOut }
func (e TaskTimedOut) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }
