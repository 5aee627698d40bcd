// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"net"

	"github.com/absmach/meshrelay/frames"
)

// Connection is the transport-level handle for one node. Implementations
// live in the server packages; the broker never sees raw sockets.
//
// WriteFrame must not block on a slow peer: implementations buffer outbound
// frames and drop when the peer cannot keep up. A write to a closed
// connection returns an error and is tolerated by all callers.
type Connection interface {
	// ID returns the transport-assigned connection identifier. It doubles
	// as the node id once the connection registers.
	ID() string

	// ReadFrame blocks until the next inbound frame or a transport error.
	ReadFrame() (*frames.Frame, error)

	// WriteFrame encodes and enqueues a frame for delivery.
	WriteFrame(frameType string, payload any) error

	// RemoteAddr returns the peer's network address.
	RemoteAddr() net.Addr

	// Close tears down the transport. Safe to call more than once.
	Close() error
}
