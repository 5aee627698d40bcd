// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterDefaults(t *testing.T) {
	r := NewRegistry(PolicyReplace)
	conn := newMockConn("abcdef1234567890")

	node, all, created, err := r.Register(conn, "", "", nil)
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, "abcdef1234567890", node.ID)
	assert.Equal(t, "node", node.Type)
	assert.Equal(t, "node-abcdef12", node.Name)
	assert.Empty(t, node.Capabilities)
	assert.False(t, node.ConnectedAt.IsZero())
	assert.Len(t, all, 1)
}

func TestRegistry_ReplacePolicy(t *testing.T) {
	r := NewRegistry(PolicyReplace)
	conn := newMockConn("c1")

	first, _, created, err := r.Register(conn, "worker", "w1", []string{"scrape"})
	require.NoError(t, err)
	assert.True(t, created)

	second, _, created, err := r.Register(conn, "agent", "a1", []string{"parse"})
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, "agent", second.Type)
	assert.Equal(t, "a1", second.Name)
	assert.Equal(t, []string{"parse"}, second.Capabilities)
	// Replacement keeps the original connection time.
	assert.Equal(t, first.ConnectedAt, second.ConnectedAt)

	assert.Equal(t, 1, r.Count())
}

func TestRegistry_RejectPolicy(t *testing.T) {
	r := NewRegistry(PolicyReject)
	conn := newMockConn("c1")

	_, _, _, err := r.Register(conn, "worker", "w1", nil)
	require.NoError(t, err)

	_, _, _, err = r.Register(conn, "worker", "w1", nil)
	assert.ErrorIs(t, err, ErrDuplicateRegistration)
}

func TestRegistry_UpdateCapabilitiesBeforeRegister(t *testing.T) {
	r := NewRegistry(PolicyReplace)
	conn := newMockConn("c1")
	r.Add(conn)

	_, err := r.UpdateCapabilities("c1", []string{"scrape"})
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegistry_EvictUnregisteredIsNoop(t *testing.T) {
	r := NewRegistry(PolicyReplace)
	conn := newMockConn("c1")
	r.Add(conn)

	_, registered := r.Evict("c1")
	assert.False(t, registered)

	// Evicting again is still a no-op.
	_, registered = r.Evict("c1")
	assert.False(t, registered)
}

func TestRegistry_LookupAndConn(t *testing.T) {
	r := NewRegistry(PolicyReplace)
	conn := newMockConn("c1")

	_, _, _, err := r.Register(conn, "worker", "w1", nil)
	require.NoError(t, err)

	node, ok := r.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, "w1", node.Name)

	got, ok := r.Conn("c1")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID())

	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	node, registered := r.Evict("c1")
	require.True(t, registered)
	assert.Equal(t, "c1", node.ID)

	_, ok = r.Conn("c1")
	assert.False(t, ok)
}

func TestRegistry_ConnRequiresRegistration(t *testing.T) {
	r := NewRegistry(PolicyReplace)
	r.Add(newMockConn("pending"))

	// A pending connection is not a valid delivery target.
	_, ok := r.Conn("pending")
	assert.False(t, ok)
}

func TestRegistry_SnapshotsAreCopies(t *testing.T) {
	r := NewRegistry(PolicyReplace)
	conn := newMockConn("c1")

	node, _, _, err := r.Register(conn, "worker", "w1", []string{"scrape"})
	require.NoError(t, err)

	node.Capabilities[0] = "mutated"

	fresh, ok := r.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, []string{"scrape"}, fresh.Capabilities)
}

func TestRegistry_ConnectionsExcludesGiven(t *testing.T) {
	r := NewRegistry(PolicyReplace)
	for _, id := range []string{"a", "b", "c"} {
		_, _, _, err := r.Register(newMockConn(id), "worker", id, nil)
		require.NoError(t, err)
	}

	conns := r.Connections("b")
	require.Len(t, conns, 2)
	for _, c := range conns {
		assert.NotEqual(t, "b", c.ID())
	}
}
