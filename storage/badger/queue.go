// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/absmach/meshrelay/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.QueueStore = (*QueueStore)(nil)

// QueueStore implements storage.QueueStore on BadgerDB.
//
// Key format: q/{nodeID}/{seq}, with seq zero-padded so lexicographic key
// order equals FIFO order. Sequence counters are held in memory and seeded
// from the last persisted key on startup.
type QueueStore struct {
	db *badger.DB

	mu   sync.Mutex
	next map[string]uint64
}

// NewQueueStore creates a BadgerDB queue store, recovering per-node sequence
// counters from existing keys.
func NewQueueStore(db *badger.DB) (*QueueStore, error) {
	q := &QueueStore{
		db:   db,
		next: make(map[string]uint64),
	}

	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("q/")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			nodeID, seq, err := parseQueueKey(it.Item().Key())
			if err != nil {
				return err
			}
			if seq >= q.next[nodeID] {
				q.next[nodeID] = seq + 1
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return q, nil
}

func queueKey(nodeID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("q/%s/%020d", nodeID, seq))
}

func queuePrefix(nodeID string) []byte {
	return []byte(fmt.Sprintf("q/%s/", nodeID))
}

func parseQueueKey(key []byte) (nodeID string, seq uint64, err error) {
	rest := bytes.TrimPrefix(key, []byte("q/"))
	i := bytes.LastIndexByte(rest, '/')
	if i < 0 {
		return "", 0, fmt.Errorf("malformed queue key %q", key)
	}
	if _, err := fmt.Sscanf(string(rest[i+1:]), "%d", &seq); err != nil {
		return "", 0, fmt.Errorf("malformed queue key %q: %w", key, err)
	}
	return string(rest[:i]), seq, nil
}

// Append adds a message to the tail of the node's queue.
func (q *QueueStore) Append(nodeID string, msg *storage.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	seq := q.next[nodeID]
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(queueKey(nodeID, seq), data)
	})
	if err != nil {
		return err
	}
	q.next[nodeID] = seq + 1
	return nil
}

// Drain returns and removes all queued messages for the node in one
// transaction, FIFO.
func (q *QueueStore) Drain(nodeID string) ([]*storage.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var msgs []*storage.Message
	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = queuePrefix(nodeID)
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var msg storage.Message
				if err := json.Unmarshal(val, &msg); err != nil {
					return err
				}
				msgs = append(msgs, &msg)
				return nil
			})
			if err != nil {
				it.Close()
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			keys = append(keys, item.KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	delete(q.next, nodeID)
	return msgs, nil
}

// Peek returns all queued messages for the node without removing them.
func (q *QueueStore) Peek(nodeID string) ([]*storage.Message, error) {
	var msgs []*storage.Message

	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = queuePrefix(nodeID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var msg storage.Message
				if err := json.Unmarshal(val, &msg); err != nil {
					return err
				}
				msgs = append(msgs, &msg)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
		}
		return nil
	})

	return msgs, err
}

// Len reports the number of queued messages for the node.
func (q *QueueStore) Len(nodeID string) (int, error) {
	count := 0

	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = queuePrefix(nodeID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})

	return count, err
}

// Purge discards all queued messages for the node.
func (q *QueueStore) Purge(nodeID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = queuePrefix(nodeID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	delete(q.next, nodeID)
	return nil
}
