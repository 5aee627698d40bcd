// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the durable state interfaces for the broker: the
// per-node offline queue and the append-only audit trail. The connection
// registry and capability index are rebuilt from live registrations and are
// intentionally not persisted.
package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in a store.
var ErrNotFound = errors.New("not found")

// Message is the immutable envelope relayed between nodes. The broker never
// mutates a message after creation, only forwards or queues it.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// AuditEntry records a routing decision for one message.
type AuditEntry struct {
	Message *Message  `json:"message"`
	Outcome string    `json:"outcome"` // "delivered", "queued", "broadcast", "routed"
	Routed  int       `json:"routed"`  // delivery count for fan-out branches
	At      time.Time `json:"at"`
}

// QueueStore is the per-node offline message queue. Entries are FIFO per
// node and survive broker restarts when backed by a durable store.
type QueueStore interface {
	// Append adds a message to the tail of the node's queue.
	Append(nodeID string, msg *Message) error

	// Drain returns all queued messages for the node in FIFO order and
	// removes them atomically, so a flush on reconnect can neither lose
	// nor duplicate entries.
	Drain(nodeID string) ([]*Message, error)

	// Peek returns all queued messages in FIFO order without removing them.
	Peek(nodeID string) ([]*Message, error)

	// Len reports the number of queued messages for the node.
	Len(nodeID string) (int, error)

	// Purge discards all queued messages for the node.
	Purge(nodeID string) error
}

// AuditStore is the append-only routing audit trail, bounded to a maximum
// entry count. Reads are most-recent-first.
type AuditStore interface {
	// Append records an entry. Old entries past the configured cap are
	// discarded.
	Append(entry *AuditEntry) error

	// Recent returns up to limit entries, most recent first. A limit <= 0
	// returns all retained entries.
	Recent(limit int) ([]*AuditEntry, error)
}

// Store is the composite persistence backend.
type Store interface {
	Queue() QueueStore
	Audit() AuditStore
	Close() error
}
