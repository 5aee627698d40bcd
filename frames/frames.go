// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package frames defines the JSON wire protocol spoken between nodes and the
// broker. Each websocket message carries exactly one frame: a type tag plus
// a type-specific payload.
package frames

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Frame types, node to broker.
const (
	TypeRegister     = "register"
	TypeCapabilities = "capabilities"
	TypeMessage      = "message"
	TypeTask         = "task"
	TypeTaskResult   = "task_result"
)

// Frame types, broker to node.
const (
	TypeRegistered     = "registered"
	TypeNodeJoined     = "node_joined"
	TypeNodeLeft       = "node_left"
	TypeMessageRouted  = "message_routed"
	TypeMessageQueued  = "message_queued"
	TypeTaskDispatched = "task_dispatched"
	TypeTaskAssigned   = "task_assigned"
	TypeTaskCompleted  = "task_completed"
	TypeTaskFailed     = "task_failed"
	TypeTaskTimeout    = "task_timeout"
	TypeTaskError      = "task_error"
	TypeError          = "error"
)

// BroadcastToken is the reserved destination meaning "all connected nodes
// except the sender". An empty destination is equivalent.
const BroadcastToken = "broadcast"

// CapabilityPrefix marks a capability-class destination selector,
// "type:<capability>".
const CapabilityPrefix = "type:"

// ErrEmptyFrame is returned when a frame has no type tag.
var ErrEmptyFrame = errors.New("frame has no type")

// Frame is the envelope for every wire message.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a raw websocket message into a frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Type == "" {
		return nil, ErrEmptyFrame
	}
	return &f, nil
}

// Encode serializes a frame with the given type tag and payload.
func Encode(frameType string, payload any) ([]byte, error) {
	f := Frame{Type: frameType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", frameType, err)
		}
		f.Payload = data
	}
	return json.Marshal(f)
}

// Unmarshal decodes the frame payload into v.
func (f *Frame) Unmarshal(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("malformed %s payload: %w", f.Type, err)
	}
	return nil
}

// Register is the registration payload a node sends after connecting.
type Register struct {
	Type         string   `json:"type,omitempty"`
	Name         string   `json:"name,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Capabilities replaces a registered node's advertised capability set.
type Capabilities struct {
	Capabilities []string `json:"capabilities"`
}

// Send is an outbound message request. To may be a node id, the broadcast
// token (or empty), or a capability-class selector.
type Send struct {
	To        string          `json:"to,omitempty"`
	Type      string          `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
}

// TaskRequest asks the broker to dispatch a task to any node advertising the
// capability.
type TaskRequest struct {
	Capability string          `json:"capability"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	TimeoutMs  int             `json:"timeoutMs,omitempty"`
}

// TaskResult reports completion of an assigned task back to the broker.
type TaskResult struct {
	TaskID  string          `json:"taskId"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NodeInfo is the public snapshot of a registered node.
type NodeInfo struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Name         string    `json:"name"`
	Capabilities []string  `json:"capabilities"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastSeen     time.Time `json:"lastSeen"`
}

// Registered confirms registration and carries the network snapshot for
// bootstrap.
type Registered struct {
	NodeID     string     `json:"nodeId"`
	TotalNodes int        `json:"totalNodes"`
	Nodes      []NodeInfo `json:"nodes"`
}

// Presence carries node_joined and node_left notifications.
type Presence struct {
	Node NodeInfo `json:"node"`
}

// Routed acknowledges a routed message to its sender, with the delivery
// count for fan-out destinations.
type Routed struct {
	MessageID string `json:"messageId"`
	Routed    int    `json:"routed"`
}

// Queued tells a sender its message was stored for a disconnected node.
type Queued struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
}

// TaskDispatched confirms a dispatch to the requester.
type TaskDispatched struct {
	TaskID     string `json:"taskId"`
	AssignedTo string `json:"assignedTo"`
}

// TaskAssigned delivers a task to the selected node.
type TaskAssigned struct {
	TaskID     string          `json:"taskId"`
	Capability string          `json:"capability"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	TimeoutMs  int             `json:"timeoutMs"`
	From       string          `json:"from"`
}

// TaskCompleted forwards a successful task result to the requester.
type TaskCompleted struct {
	TaskID  string          `json:"taskId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TaskFailed forwards a failed task result to the requester.
type TaskFailed struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
}

// TaskTimeout notifies the requester that no result arrived in time.
type TaskTimeout struct {
	TaskID     string `json:"taskId"`
	Capability string `json:"capability"`
}

// TaskError reports a synchronous dispatch failure to the requester.
type TaskError struct {
	TaskID     string `json:"taskId,omitempty"`
	Capability string `json:"capability,omitempty"`
	Reason     string `json:"reason"`
}

// Error reports a protocol-level problem with a received frame.
type Error struct {
	Reason string `json:"reason"`
}
