// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync"
	"time"
)

// RegistrationPolicy controls what a second register frame on a live
// connection does.
type RegistrationPolicy string

const (
	// PolicyReplace overwrites the node's fields in place. Default.
	PolicyReplace RegistrationPolicy = "replace"

	// PolicyReject fails the second registration with
	// ErrDuplicateRegistration.
	PolicyReject RegistrationPolicy = "reject"
)

// Registry tracks live transport connections and the nodes registered on
// them. A connection exists in the registry from transport accept until
// disconnect; a node exists from its register frame until disconnect or
// eviction.
type Registry struct {
	mu     sync.RWMutex
	policy RegistrationPolicy
	conns  map[string]Connection
	nodes  map[string]*Node
}

// NewRegistry creates an empty registry with the given registration policy.
func NewRegistry(policy RegistrationPolicy) *Registry {
	if policy == "" {
		policy = PolicyReplace
	}
	return &Registry{
		policy: policy,
		conns:  make(map[string]Connection),
		nodes:  make(map[string]*Node),
	}
}

// Add records a pending, unregistered connection.
func (r *Registry) Add(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID()] = conn
}

// Register promotes a connection to a node. Under the replace policy a
// repeat registration overwrites type, name and capabilities but keeps the
// original ConnectedAt. It returns a snapshot of the node, a snapshot of
// all registered nodes (bootstrap list for the new node), and whether the
// node was newly created rather than replaced, so callers run join side
// effects exactly once per node.
func (r *Registry) Register(conn Connection, nodeType, name string, capabilities []string) (Node, []Node, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	r.conns[id] = conn

	now := time.Now().UTC()
	node, exists := r.nodes[id]
	if exists && r.policy == PolicyReject {
		return Node{}, nil, false, ErrDuplicateRegistration
	}
	if !exists {
		node = &Node{ID: id, ConnectedAt: now}
		r.nodes[id] = node
	}

	if nodeType == "" {
		nodeType = "node"
	}
	if name == "" {
		name = defaultName(id)
	}
	caps := make([]string, len(capabilities))
	copy(caps, capabilities)

	node.Type = nodeType
	node.Name = name
	node.Capabilities = caps
	node.LastSeen = now

	all := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		all = append(all, n.clone())
	}
	return node.clone(), all, !exists, nil
}

// defaultName derives a display name from the node id prefix.
func defaultName(id string) string {
	if len(id) > 8 {
		return "node-" + id[:8]
	}
	return "node-" + id
}

// UpdateCapabilities replaces the node's capability set. Capability frames
// that race ahead of registration are rejected with ErrNotRegistered.
func (r *Registry) UpdateCapabilities(connID string, capabilities []string) (Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[connID]
	if !ok {
		return Node{}, ErrNotRegistered
	}

	caps := make([]string, len(capabilities))
	copy(caps, capabilities)
	node.Capabilities = caps
	node.LastSeen = time.Now().UTC()
	return node.clone(), nil
}

// Touch updates the node's LastSeen timestamp. No-op for unregistered
// connections.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if node, ok := r.nodes[connID]; ok {
		node.LastSeen = time.Now().UTC()
	}
}

// Lookup returns a snapshot of the node registered on the connection.
func (r *Registry) Lookup(connID string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[connID]
	if !ok {
		return Node{}, false
	}
	return node.clone(), true
}

// Conn returns the live connection for a node id.
func (r *Registry) Conn(nodeID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Only registered nodes are valid delivery targets.
	if _, ok := r.nodes[nodeID]; !ok {
		return nil, false
	}
	conn, ok := r.conns[nodeID]
	return conn, ok
}

// Evict removes the connection and its node, if any. It is a no-op, not an
// error, for connections that closed before registering.
func (r *Registry) Evict(connID string) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, connID)
	node, ok := r.nodes[connID]
	if !ok {
		return Node{}, false
	}
	delete(r.nodes, connID)
	return node.clone(), true
}

// Nodes returns a snapshot of all registered nodes.
func (r *Registry) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		all = append(all, n.clone())
	}
	return all
}

// Count returns the number of registered nodes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.nodes)
}

// Connections returns the connections of all registered nodes except the
// given one. Used for presence broadcasts.
func (r *Registry) Connections(except string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connection, 0, len(r.nodes))
	for id := range r.nodes {
		if id == except {
			continue
		}
		if conn, ok := r.conns[id]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}
