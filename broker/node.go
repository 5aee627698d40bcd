// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"time"

	"github.com/absmach/meshrelay/frames"
)

// Node is a registered participant. The registry owns the only mutable
// instance; everything handed out is a copy.
type Node struct {
	ID           string
	Type         string
	Name         string
	Capabilities []string
	ConnectedAt  time.Time
	LastSeen     time.Time
}

// Info returns the wire snapshot of the node.
func (n Node) Info() frames.NodeInfo {
	caps := make([]string, len(n.Capabilities))
	copy(caps, n.Capabilities)
	return frames.NodeInfo{
		ID:           n.ID,
		Type:         n.Type,
		Name:         n.Name,
		Capabilities: caps,
		ConnectedAt:  n.ConnectedAt,
		LastSeen:     n.LastSeen,
	}
}

func (n Node) clone() Node {
	caps := make([]string, len(n.Capabilities))
	copy(caps, n.Capabilities)
	n.Capabilities = caps
	return n
}
