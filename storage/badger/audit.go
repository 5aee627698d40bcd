// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/absmach/meshrelay/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.AuditStore = (*AuditStore)(nil)

// AuditStore implements storage.AuditStore on BadgerDB.
//
// Key format: audit/{math.MaxUint64 - seq}, so ascending key iteration
// yields newest entries first without a reverse scan.
type AuditStore struct {
	db  *badger.DB
	max int

	mu    sync.Mutex
	seq   uint64
	count int
}

// NewAuditStore creates a BadgerDB audit store retaining at most max
// entries, recovering its sequence counter from existing keys.
func NewAuditStore(db *badger.DB, max int) (*AuditStore, error) {
	if max <= 0 {
		max = 1000
	}
	a := &AuditStore{db: db, max: max}

	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("audit/")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// The first key is the newest entry (largest seq).
		it.Rewind()
		if it.Valid() {
			var rev uint64
			if _, err := fmt.Sscanf(string(it.Item().Key()), "audit/%d", &rev); err != nil {
				return fmt.Errorf("malformed audit key %q: %w", it.Item().Key(), err)
			}
			a.seq = math.MaxUint64 - rev + 1
		}
		for ; it.Valid(); it.Next() {
			a.count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

func auditKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("audit/%020d", math.MaxUint64-seq))
}

// Append records an entry and trims the oldest past the cap.
func (a *AuditStore) Append(entry *storage.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	seq := a.seq
	err = a.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(auditKey(seq), data); err != nil {
			return err
		}

		if a.count < a.max {
			return nil
		}

		// Drop the oldest entry: the last key in ascending order.
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek([]byte("audit0")) // one past the "audit/" prefix
		if it.ValidForPrefix([]byte("audit/")) {
			return txn.Delete(it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.seq = seq + 1
	if a.count < a.max {
		a.count++
	}
	return nil
}

// Recent returns up to limit entries, most recent first.
func (a *AuditStore) Recent(limit int) ([]*storage.AuditEntry, error) {
	var entries []*storage.AuditEntry

	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("audit/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(entries) >= limit {
				return nil
			}
			err := it.Item().Value(func(val []byte) error {
				var entry storage.AuditEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return err
				}
				entries = append(entries, &entry)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal audit entry: %w", err)
			}
		}
		return nil
	})

	return entries, err
}
