// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"github.com/absmach/meshrelay/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is the composite in-memory store. Suitable for tests and for
// deployments that accept losing queued messages on restart.
type Store struct {
	queue *QueueStore
	audit *AuditStore
}

// New creates a new in-memory store. maxAudit bounds the audit trail; values
// <= 0 fall back to DefaultAuditLimit.
func New(maxAudit int) *Store {
	return &Store{
		queue: NewQueueStore(),
		audit: NewAuditStore(maxAudit),
	}
}

// Queue returns the offline queue store.
func (s *Store) Queue() storage.QueueStore {
	return s.queue
}

// Audit returns the audit trail store.
func (s *Store) Audit() storage.AuditStore {
	return s.audit
}

// Close closes all stores (no-op for memory).
func (s *Store) Close() error {
	return nil
}
