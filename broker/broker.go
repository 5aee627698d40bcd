// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the presence-aware message and task relay: the
// connection registry, capability index, message router, and task
// dispatcher. The broker never interprets message payloads and makes no
// delivery guarantees beyond best-effort fan-out and per-node FIFO offline
// queues.
package broker

import (
	"log/slog"
	"time"

	"github.com/absmach/meshrelay/broker/events"
	"github.com/absmach/meshrelay/frames"
	"github.com/absmach/meshrelay/storage"
)

// Config holds broker behavior knobs.
type Config struct {
	// RegistrationPolicy controls repeat register frames on a live
	// connection: replace (default) or reject.
	RegistrationPolicy RegistrationPolicy

	// TaskTimeout applies to task requests without an explicit timeoutMs.
	TaskTimeout time.Duration
}

// Broker is the coordinator. All shared mutable state lives behind the
// registry, capability index, and store; frame handlers own nothing else.
type Broker struct {
	registry   *Registry
	caps       *CapabilityIndex
	router     *Router
	dispatcher *Dispatcher
	store      storage.Store
	logger     *slog.Logger
	stats      *Stats
	events     Publisher
	metrics    Metrics
}

// New creates a broker on top of the given store.
func New(cfg Config, store storage.Store, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}

	b := &Broker{
		registry: NewRegistry(cfg.RegistrationPolicy),
		caps:     NewCapabilityIndex(),
		store:    store,
		logger:   logger,
		stats:    NewStats(),
		events:   nopPublisher{},
		metrics:  nopMetrics{},
	}
	b.router = &Router{
		registry: b.registry,
		caps:     b.caps,
		queue:    store.Queue(),
		audit:    store.Audit(),
		logger:   logger,
		events:   b.events,
		metrics:  b.metrics,
		stats:    b.stats,
	}
	b.dispatcher = &Dispatcher{
		registry:       b.registry,
		caps:           b.caps,
		selector:       randomSelector,
		defaultTimeout: cfg.TaskTimeout,
		logger:         logger,
		events:         b.events,
		metrics:        b.metrics,
		stats:          b.stats,
		tasks:          make(map[string]*task),
	}
	return b
}

// SetPublisher installs the lifecycle event publisher. Must be called
// before the first connection is handled.
func (b *Broker) SetPublisher(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	b.events = p
	b.router.events = p
	b.dispatcher.events = p
}

// SetMetrics installs the metrics recorder. Must be called before the
// first connection is handled.
func (b *Broker) SetMetrics(m Metrics) {
	if m == nil {
		m = nopMetrics{}
	}
	b.metrics = m
	b.router.metrics = m
	b.dispatcher.metrics = m
}

// SetSelector overrides the dispatch candidate selector. Seam for tests
// and for load-aware extensions.
func (b *Broker) SetSelector(s Selector) {
	if s != nil {
		b.dispatcher.selector = s
	}
}

// Registry exposes the connection registry to the management surfaces.
func (b *Broker) Registry() *Registry { return b.registry }

// Capabilities exposes the capability index to the management surfaces.
func (b *Broker) Capabilities() *CapabilityIndex { return b.caps }

// Store exposes the persistence backend to the management surfaces.
func (b *Broker) Store() storage.Store { return b.store }

// Stats exposes the broker counters.
func (b *Broker) Stats() *Stats { return b.stats }

// Broadcast routes a message to all connected nodes on behalf of the
// management surface. Returns the delivery count.
func (b *Broker) Broadcast(from string, req frames.Send) int {
	req.To = frames.BroadcastToken
	return b.router.Route(nil, from, req)
}

// Close stops the dispatcher timers. Connections are owned by their
// transports and close with them.
func (b *Broker) Close() {
	b.dispatcher.Stop()
}

// HandleConnection runs the frame loop for one transport connection. It
// returns when the connection errors or closes; eviction and the node_left
// broadcast happen on the way out.
func (b *Broker) HandleConnection(conn Connection) {
	b.registry.Add(conn)
	b.logger.Debug("connection_accepted",
		slog.String("conn_id", conn.ID()),
		slog.String("remote_addr", remoteAddr(conn)))

	defer b.disconnect(conn)

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			b.logger.Debug("connection_read_ended",
				slog.String("conn_id", conn.ID()),
				slog.String("error", err.Error()))
			return
		}
		b.handleFrame(conn, f)
	}
}

func (b *Broker) handleFrame(conn Connection, f *frames.Frame) {
	b.registry.Touch(conn.ID())

	switch f.Type {
	case frames.TypeRegister:
		// All registration fields are optional; a bare register frame is
		// a valid anonymous registration.
		var reg frames.Register
		if len(f.Payload) > 0 {
			if err := f.Unmarshal(&reg); err != nil {
				b.sendError(conn, err.Error())
				return
			}
		}
		b.handleRegister(conn, reg)

	case frames.TypeCapabilities:
		var caps frames.Capabilities
		if err := f.Unmarshal(&caps); err != nil {
			b.sendError(conn, err.Error())
			return
		}
		b.handleCapabilities(conn, caps)

	case frames.TypeMessage:
		node, ok := b.requireRegistered(conn)
		if !ok {
			return
		}
		var req frames.Send
		if err := f.Unmarshal(&req); err != nil {
			b.sendError(conn, err.Error())
			return
		}
		b.router.Route(conn, node.ID, req)

	case frames.TypeTask:
		node, ok := b.requireRegistered(conn)
		if !ok {
			return
		}
		var req frames.TaskRequest
		if err := f.Unmarshal(&req); err != nil {
			b.sendError(conn, err.Error())
			return
		}
		// Dispatch errors are already reported on the wire.
		if _, err := b.dispatcher.Dispatch(conn, node.ID, req); err != nil {
			b.logger.Debug("task_dispatch_rejected",
				slog.String("from", node.ID),
				slog.String("capability", req.Capability),
				slog.String("error", err.Error()))
		}

	case frames.TypeTaskResult:
		node, ok := b.requireRegistered(conn)
		if !ok {
			return
		}
		var res frames.TaskResult
		if err := f.Unmarshal(&res); err != nil {
			b.sendError(conn, err.Error())
			return
		}
		b.dispatcher.HandleResult(node.ID, res)

	default:
		b.sendError(conn, "unknown frame type: "+f.Type)
	}
}

func (b *Broker) handleRegister(conn Connection, reg frames.Register) {
	node, all, created, err := b.registry.Register(conn, reg.Type, reg.Name, reg.Capabilities)
	if err != nil {
		b.sendError(conn, err.Error())
		return
	}
	b.caps.Advertise(node.ID, node.Capabilities)

	infos := make([]frames.NodeInfo, 0, len(all))
	for _, n := range all {
		infos = append(infos, n.Info())
	}
	b.send(conn, frames.TypeRegistered, frames.Registered{
		NodeID:     node.ID,
		TotalNodes: len(all),
		Nodes:      infos,
	})

	// A replacement registration re-acks and re-advertises, but the node
	// already joined: peers were told once and the connected gauge already
	// counts it.
	if !created {
		b.logger.Debug("node_registration_replaced",
			slog.String("node_id", node.ID),
			slog.String("node_type", node.Type),
			slog.String("name", node.Name))
		return
	}

	b.broadcastPresence(frames.TypeNodeJoined, node)
	b.flushQueue(conn, node)

	b.logger.Info("node_registered",
		slog.String("node_id", node.ID),
		slog.String("node_type", node.Type),
		slog.String("name", node.Name),
		slog.Any("capabilities", node.Capabilities))
	b.events.Publish(events.NodeJoined{
		NodeID:       node.ID,
		NodeType:     node.Type,
		Name:         node.Name,
		Capabilities: node.Capabilities,
		RemoteAddr:   remoteAddr(conn),
	})
	b.metrics.NodeConnected()
	b.stats.nodesConnected.Add(1)
}

func (b *Broker) handleCapabilities(conn Connection, caps frames.Capabilities) {
	node, err := b.registry.UpdateCapabilities(conn.ID(), caps.Capabilities)
	if err != nil {
		// A capability frame racing ahead of registration aliases the set
		// onto a node that does not exist yet. Reject it; the client
		// re-sends after the registered ack.
		b.logger.Warn("capabilities_before_registration",
			slog.String("conn_id", conn.ID()))
		b.sendError(conn, ErrNotRegistered.Error())
		return
	}
	b.caps.Advertise(node.ID, node.Capabilities)

	b.logger.Debug("capabilities_updated",
		slog.String("node_id", node.ID),
		slog.Any("capabilities", node.Capabilities))
}

// flushQueue drains the node's offline queue onto the fresh connection in
// FIFO order.
func (b *Broker) flushQueue(conn Connection, node Node) {
	msgs, err := b.store.Queue().Drain(node.ID)
	if err != nil {
		b.logger.Error("offline_queue_drain_failed",
			slog.String("node_id", node.ID),
			slog.String("error", err.Error()))
		return
	}
	if len(msgs) == 0 {
		return
	}

	for _, msg := range msgs {
		if err := conn.WriteFrame(frames.TypeMessage, msg); err != nil {
			b.logger.Debug("queued_message_delivery_failed",
				slog.String("node_id", node.ID),
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()))
		}
	}

	b.logger.Info("offline_queue_flushed",
		slog.String("node_id", node.ID),
		slog.Int("messages", len(msgs)))
}

func (b *Broker) disconnect(conn Connection) {
	node, registered := b.registry.Evict(conn.ID())
	conn.Close()

	if !registered {
		// The transport closed before a register frame arrived.
		b.logger.Debug("connection_closed_unregistered",
			slog.String("conn_id", conn.ID()))
		return
	}

	b.caps.Remove(node.ID)
	b.broadcastPresence(frames.TypeNodeLeft, node)

	b.logger.Info("node_left",
		slog.String("node_id", node.ID),
		slog.String("name", node.Name))
	b.events.Publish(events.NodeLeft{NodeID: node.ID, Name: node.Name})
	b.metrics.NodeDisconnected()
	b.stats.nodesConnected.Add(-1)
}

func (b *Broker) broadcastPresence(frameType string, node Node) {
	payload := frames.Presence{Node: node.Info()}
	for _, conn := range b.registry.Connections(node.ID) {
		b.send(conn, frameType, payload)
	}
}

func (b *Broker) requireRegistered(conn Connection) (Node, bool) {
	node, ok := b.registry.Lookup(conn.ID())
	if !ok {
		b.sendError(conn, ErrNotRegistered.Error())
		return Node{}, false
	}
	return node, true
}

func (b *Broker) send(conn Connection, frameType string, payload any) {
	if err := conn.WriteFrame(frameType, payload); err != nil {
		b.logger.Debug("frame_send_failed",
			slog.String("to", conn.ID()),
			slog.String("frame", frameType),
			slog.String("error", err.Error()))
	}
}

func (b *Broker) sendError(conn Connection, reason string) {
	b.send(conn, frames.TypeError, frames.Error{Reason: reason})
}

func remoteAddr(conn Connection) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
