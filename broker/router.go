// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/meshrelay/broker/events"
	"github.com/absmach/meshrelay/frames"
	"github.com/absmach/meshrelay/storage"
)

// Audit outcomes.
const (
	outcomeBroadcast = "broadcast"
	outcomeRouted    = "routed"
	outcomeDelivered = "delivered"
	outcomeQueued    = "queued"
)

// Router resolves message destinations and delivers or queues. Delivery is
// fire-and-forget: the router never waits for the destination transport,
// and a send failure to any one node never surfaces to the caller.
type Router struct {
	registry *Registry
	caps     *CapabilityIndex
	queue    storage.QueueStore
	audit    storage.AuditStore
	logger   *slog.Logger
	events   Publisher
	metrics  Metrics
	stats    *Stats
}

// Route resolves the destination of one message and delivers or queues it.
// The sender connection receives routing acks; it may be nil for messages
// injected through the management surface. Returns the delivery count.
//
// Resolution order: broadcast token (or empty destination), capability-class
// selector, then concrete node id. An unknown node id is indistinguishable
// from a disconnected one and is queued the same way.
func (rt *Router) Route(sender Connection, fromID string, req frames.Send) int {
	msg := &storage.Message{
		ID:        req.MessageID,
		From:      fromID,
		To:        req.To,
		Type:      req.Type,
		Payload:   req.Payload,
		Timestamp: time.Now().UTC(),
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	switch {
	case req.To == "" || req.To == frames.BroadcastToken:
		return rt.routeBroadcast(msg)

	case strings.HasPrefix(req.To, frames.CapabilityPrefix):
		capability := strings.TrimPrefix(req.To, frames.CapabilityPrefix)
		return rt.routeCapability(sender, msg, capability)

	default:
		return rt.routeDirect(sender, msg)
	}
}

func (rt *Router) routeBroadcast(msg *storage.Message) int {
	conns := rt.registry.Connections(msg.From)
	for _, conn := range conns {
		rt.deliver(conn, msg)
	}

	rt.appendAudit(msg, outcomeBroadcast, len(conns))
	rt.events.Publish(events.MessageRouted{MessageID: msg.ID, From: msg.From, To: frames.BroadcastToken, Routed: len(conns)})
	rt.metrics.MessageDelivered(len(conns))
	rt.stats.messagesDelivered.Add(int64(len(conns)))
	return len(conns)
}

func (rt *Router) routeCapability(sender Connection, msg *storage.Message, capability string) int {
	routed := 0
	for _, nodeID := range rt.caps.NodesWith(capability) {
		if nodeID == msg.From {
			continue
		}
		// The snapshot may be stale; only nodes still connected count.
		conn, ok := rt.registry.Conn(nodeID)
		if !ok {
			continue
		}
		rt.deliver(conn, msg)
		routed++
	}

	rt.send(sender, frames.TypeMessageRouted, frames.Routed{MessageID: msg.ID, Routed: routed})
	rt.appendAudit(msg, outcomeRouted, routed)
	rt.events.Publish(events.MessageRouted{MessageID: msg.ID, From: msg.From, To: msg.To, Routed: routed})
	rt.metrics.MessageDelivered(routed)
	rt.stats.messagesDelivered.Add(int64(routed))
	return routed
}

func (rt *Router) routeDirect(sender Connection, msg *storage.Message) int {
	if conn, ok := rt.registry.Conn(msg.To); ok {
		rt.deliver(conn, msg)
		rt.appendAudit(msg, outcomeDelivered, 1)
		rt.events.Publish(events.MessageRouted{MessageID: msg.ID, From: msg.From, To: msg.To, Routed: 1})
		rt.metrics.MessageDelivered(1)
		rt.stats.messagesDelivered.Add(1)
		return 1
	}

	if err := rt.queue.Append(msg.To, msg); err != nil {
		// Durability is best-effort relative to in-memory routing.
		rt.logger.Error("offline_queue_append_failed",
			slog.String("to", msg.To),
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()))
	}

	rt.send(sender, frames.TypeMessageQueued, frames.Queued{MessageID: msg.ID, To: msg.To})
	rt.appendAudit(msg, outcomeQueued, 0)
	rt.events.Publish(events.MessageQueued{MessageID: msg.ID, From: msg.From, To: msg.To})
	rt.metrics.MessageQueued()
	rt.stats.messagesQueued.Add(1)
	return 0
}

// deliver writes the message frame to one destination, swallowing transport
// errors.
func (rt *Router) deliver(conn Connection, msg *storage.Message) {
	if err := conn.WriteFrame(frames.TypeMessage, msg); err != nil {
		rt.logger.Debug("message_delivery_failed",
			slog.String("to", conn.ID()),
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()))
	}
}

// send writes an ack frame to the sender, swallowing transport errors.
func (rt *Router) send(sender Connection, frameType string, payload any) {
	if sender == nil {
		return
	}
	if err := sender.WriteFrame(frameType, payload); err != nil {
		rt.logger.Debug("ack_send_failed",
			slog.String("to", sender.ID()),
			slog.String("frame", frameType),
			slog.String("error", err.Error()))
	}
}

func (rt *Router) appendAudit(msg *storage.Message, outcome string, routed int) {
	entry := &storage.AuditEntry{
		Message: msg,
		Outcome: outcome,
		Routed:  routed,
		At:      time.Now().UTC(),
	}
	if err := rt.audit.Append(entry); err != nil {
		rt.logger.Error("audit_append_failed",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()))
	}
}
