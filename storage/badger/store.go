// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package badger provides the BadgerDB-backed persistence for the offline
// queue and the audit trail.
package badger

import (
	"sync"
	"time"

	"github.com/absmach/meshrelay/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.Store = (*Store)(nil)

// Store is the composite BadgerDB store.
type Store struct {
	db *badger.DB

	queue *QueueStore
	audit *AuditStore

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir string // directory for BadgerDB data

	// SyncWrites fsyncs every write. Queued messages are the durability
	// point of this broker, but deployments that prefer throughput over
	// crash-safety of the last few writes can leave this off.
	SyncWrites bool

	// MaxAudit bounds the audit trail entry count.
	MaxAudit int
}

// New creates a new BadgerDB-backed store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil // disable BadgerDB's internal logging
	opts.SyncWrites = cfg.SyncWrites
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	queue, err := NewQueueStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	audit, err := NewAuditStore(db, cfg.MaxAudit)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		queue:    queue,
		audit:    audit,
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}

	go s.runGC()

	return s, nil
}

// Queue returns the offline queue store.
func (s *Store) Queue() storage.QueueStore {
	return s.queue
}

// Audit returns the audit trail store.
func (s *Store) Audit() storage.AuditStore {
	return s.audit
}

// Close gracefully closes the BadgerDB database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	return s.db.Close()
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStopCh:
			return
		case <-ticker.C:
			// Rerun while GC makes progress.
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}
