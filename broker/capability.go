// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sort"
	"sync"
)

// CapabilityIndex maps capability names to the node ids advertising them.
// All entries for a node are replaced or removed under one lock acquisition,
// so readers observe either the full old set or the full new set, never a
// partial write. Lookups return point-in-time snapshots; callers re-check
// connectivity against the registry at delivery time.
type CapabilityIndex struct {
	mu     sync.RWMutex
	byCap  map[string]map[string]struct{}
	byNode map[string]map[string]struct{}
}

// NewCapabilityIndex creates an empty index.
func NewCapabilityIndex() *CapabilityIndex {
	return &CapabilityIndex{
		byCap:  make(map[string]map[string]struct{}),
		byNode: make(map[string]map[string]struct{}),
	}
}

// Advertise replaces all capability entries for the node.
func (ci *CapabilityIndex) Advertise(nodeID string, capabilities []string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	ci.removeLocked(nodeID)

	caps := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		if c == "" {
			continue
		}
		caps[c] = struct{}{}
		nodes, ok := ci.byCap[c]
		if !ok {
			nodes = make(map[string]struct{})
			ci.byCap[c] = nodes
		}
		nodes[nodeID] = struct{}{}
	}
	if len(caps) > 0 {
		ci.byNode[nodeID] = caps
	}
}

// NodesWith returns a sorted snapshot of node ids advertising the
// capability.
func (ci *CapabilityIndex) NodesWith(capability string) []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	nodes := ci.byCap[capability]
	out := make([]string, 0, len(nodes))
	for id := range nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Capabilities returns a sorted snapshot of the node's advertised
// capabilities.
func (ci *CapabilityIndex) Capabilities(nodeID string) []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	caps := ci.byNode[nodeID]
	out := make([]string, 0, len(caps))
	for c := range caps {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Remove purges all capability entries for the node. Idempotent.
func (ci *CapabilityIndex) Remove(nodeID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	ci.removeLocked(nodeID)
}

func (ci *CapabilityIndex) removeLocked(nodeID string) {
	for c := range ci.byNode[nodeID] {
		nodes := ci.byCap[c]
		delete(nodes, nodeID)
		if len(nodes) == 0 {
			delete(ci.byCap, c)
		}
	}
	delete(ci.byNode, nodeID)
}
