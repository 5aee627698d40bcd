// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"io"
	"net"
	"sync"

	"github.com/absmach/meshrelay/frames"
)

// mockAddr implements net.Addr for testing.
type mockAddr struct{}

func (mockAddr) Network() string { return "tcp" }
func (mockAddr) String() string  { return "127.0.0.1:9999" }

type writtenFrame struct {
	Type    string
	Payload any
}

// mockConn implements Connection for testing, recording written frames.
type mockConn struct {
	id string

	mu      sync.Mutex
	written []writtenFrame
	closed  bool
	failing bool
}

func newMockConn(id string) *mockConn {
	return &mockConn{id: id}
}

func (c *mockConn) ID() string { return c.id }

func (c *mockConn) ReadFrame() (*frames.Frame, error) {
	return nil, io.EOF
}

func (c *mockConn) WriteFrame(frameType string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.failing {
		return io.ErrClosedPipe
	}
	c.written = append(c.written, writtenFrame{Type: frameType, Payload: payload})
	return nil
}

func (c *mockConn) RemoteAddr() net.Addr { return mockAddr{} }

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

// frames returns all written frames of the given type.
func (c *mockConn) frames(frameType string) []writtenFrame {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []writtenFrame
	for _, f := range c.written {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

// lastFrame returns the most recent written frame of the given type.
func (c *mockConn) lastFrame(frameType string) (writtenFrame, bool) {
	fs := c.frames(frameType)
	if len(fs) == 0 {
		return writtenFrame{}, false
	}
	return fs[len(fs)-1], true
}
