// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sync"

	"github.com/absmach/meshrelay/storage"
)

// DefaultAuditLimit bounds the audit trail when no cap is configured.
const DefaultAuditLimit = 1000

var _ storage.AuditStore = (*AuditStore)(nil)

// AuditStore implements storage.AuditStore with a bounded in-memory log,
// newest entries first.
type AuditStore struct {
	mu      sync.Mutex
	entries []*storage.AuditEntry
	max     int
}

// NewAuditStore creates an audit store retaining at most max entries.
func NewAuditStore(max int) *AuditStore {
	if max <= 0 {
		max = DefaultAuditLimit
	}
	return &AuditStore{max: max}
}

// Append records an entry, discarding the oldest past the cap.
func (a *AuditStore) Append(entry *storage.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append([]*storage.AuditEntry{entry}, a.entries...)
	if len(a.entries) > a.max {
		a.entries = a.entries[:a.max]
	}
	return nil
}

// Recent returns up to limit entries, most recent first.
func (a *AuditStore) Recent(limit int) ([]*storage.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*storage.AuditEntry, n)
	copy(out, a.entries[:n])
	return out, nil
}
