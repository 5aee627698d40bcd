// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/meshrelay/storage"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()

	s, err := New(Config{Dir: dir, MaxAudit: 100})
	require.NoError(t, err)
	return s
}

func msg(id, to string) *storage.Message {
	return &storage.Message{
		ID:        id,
		From:      "sender",
		To:        to,
		Type:      "event",
		Payload:   []byte(`{"k":"v"}`),
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestQueueStore_FIFOAcrossDrain(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	defer s.Close()

	q := s.Queue()
	require.NoError(t, q.Append("node-a", msg("m1", "node-a")))
	require.NoError(t, q.Append("node-a", msg("m2", "node-a")))

	msgs, err := q.Drain("node-a")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)

	msgs, err = q.Drain("node-a")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestQueueStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s := newTestStore(t, dir)
	require.NoError(t, s.Queue().Append("node-a", msg("m1", "node-a")))
	require.NoError(t, s.Queue().Append("node-a", msg("m2", "node-a")))
	require.NoError(t, s.Close())

	s = newTestStore(t, dir)
	defer s.Close()

	// Sequence counter must resume past persisted entries.
	require.NoError(t, s.Queue().Append("node-a", msg("m3", "node-a")))

	msgs, err := s.Queue().Drain("node-a")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "m3", msgs[2].ID)
}

func TestQueueStore_PeekAndPurge(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	defer s.Close()

	q := s.Queue()
	require.NoError(t, q.Append("node-a", msg("m1", "node-a")))

	msgs, err := q.Peek("node-a")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)

	n, err := q.Len("node-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, q.Purge("node-a"))

	n, err = q.Len("node-a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAuditStore_MostRecentFirst(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	defer s.Close()

	a := s.Audit()
	for _, id := range []string{"m1", "m2", "m3"} {
		err := a.Append(&storage.AuditEntry{
			Message: msg(id, "node-a"),
			Outcome: "delivered",
			Routed:  1,
			At:      time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	entries, err := a.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "m3", entries[0].Message.ID)
	assert.Equal(t, "m2", entries[1].Message.ID)
}

func TestAuditStore_BoundedAndRecovered(t *testing.T) {
	dir := t.TempDir()

	s, err := New(Config{Dir: dir, MaxAudit: 2})
	require.NoError(t, err)

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.Audit().Append(&storage.AuditEntry{Message: msg(id, "x"), Outcome: "queued"}))
	}

	entries, err := s.Audit().Recent(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "m3", entries[0].Message.ID)
	require.NoError(t, s.Close())

	// Reopen: sequence resumes, ordering preserved.
	s, err = New(Config{Dir: dir, MaxAudit: 2})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Audit().Append(&storage.AuditEntry{Message: msg("m4", "x"), Outcome: "queued"}))

	entries, err = s.Audit().Recent(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "m4", entries[0].Message.ID)
	assert.Equal(t, "m3", entries[1].Message.ID)
}
