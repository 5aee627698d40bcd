// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sync"

	"github.com/absmach/meshrelay/storage"
)

var _ storage.QueueStore = (*QueueStore)(nil)

// QueueStore implements storage.QueueStore with in-process maps.
type QueueStore struct {
	mu     sync.Mutex
	queues map[string][]*storage.Message
}

// NewQueueStore creates an empty in-memory queue store.
func NewQueueStore() *QueueStore {
	return &QueueStore{
		queues: make(map[string][]*storage.Message),
	}
}

// Append adds a message to the tail of the node's queue.
func (q *QueueStore) Append(nodeID string, msg *storage.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queues[nodeID] = append(q.queues[nodeID], msg)
	return nil
}

// Drain returns and removes all queued messages for the node, FIFO.
func (q *QueueStore) Drain(nodeID string) ([]*storage.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[nodeID]
	delete(q.queues, nodeID)
	return msgs, nil
}

// Peek returns all queued messages for the node without removing them.
func (q *QueueStore) Peek(nodeID string) ([]*storage.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[nodeID]
	out := make([]*storage.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Len reports the number of queued messages for the node.
func (q *QueueStore) Len(nodeID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.queues[nodeID]), nil
}

// Purge discards all queued messages for the node.
func (q *QueueStore) Purge(nodeID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.queues, nodeID)
	return nil
}
