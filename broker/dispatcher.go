// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/meshrelay/broker/events"
	"github.com/absmach/meshrelay/frames"
)

// DefaultTaskTimeout applies when a task request carries no timeoutMs.
const DefaultTaskTimeout = 30 * time.Second

// Selector picks one node id from a non-empty candidate list. The default
// is uniform random: stateless and not load-aware. Tests inject a
// deterministic one.
type Selector func(candidates []string) string

func randomSelector(candidates []string) string {
	return candidates[rand.IntN(len(candidates))]
}

type taskState int

const (
	taskDispatched taskState = iota
	taskCompleted
	taskFailed
	taskTimedOut
)

// task is ephemeral dispatch state: it exists from dispatch until a result,
// an expiry, or shutdown, and is never persisted.
type task struct {
	id         string
	capability string
	requester  string
	assignee   string
	state      taskState
	timer      *time.Timer
}

// Dispatcher matches task requests to capable nodes and tracks each task
// until completion or timeout. Timeouts fire on timer goroutines,
// independent of any connection's read loop, so requester liveness never
// gates timer liveness.
type Dispatcher struct {
	registry       *Registry
	caps           *CapabilityIndex
	selector       Selector
	defaultTimeout time.Duration
	logger         *slog.Logger
	events         Publisher
	metrics        Metrics
	stats          *Stats

	mu    sync.Mutex
	tasks map[string]*task
}

// Dispatch assigns a task to one capable node and arms its timeout. The
// requester is notified synchronously of dispatch failures via a task_error
// frame; the matching sentinel error is also returned for in-process
// callers.
func (d *Dispatcher) Dispatch(sender Connection, fromID string, req frames.TaskRequest) (string, error) {
	if req.Capability == "" {
		d.send(sender, frames.TypeTaskError, frames.TaskError{Reason: "capability required"})
		return "", ErrCapabilityRequired
	}

	taskID := uuid.New().String()

	candidates := d.caps.NodesWith(req.Capability)
	eligible := candidates[:0]
	for _, id := range candidates {
		if id != fromID {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		d.send(sender, frames.TypeTaskError, frames.TaskError{
			TaskID:     taskID,
			Capability: req.Capability,
			Reason:     "no capable node",
		})
		return "", ErrNoCapableNode
	}

	assignee := d.selector(eligible)

	// The capability snapshot may be stale; the selected node must still be
	// connected. No fallback to the next candidate: a second attempt is
	// the caller's call.
	conn, ok := d.registry.Conn(assignee)
	if !ok {
		d.send(sender, frames.TypeTaskError, frames.TaskError{
			TaskID:     taskID,
			Capability: req.Capability,
			Reason:     "node unavailable",
		})
		return "", ErrNodeUnavailable
	}

	timeout := d.defaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	t := &task{
		id:         taskID,
		capability: req.Capability,
		requester:  fromID,
		assignee:   assignee,
	}

	d.mu.Lock()
	d.tasks[taskID] = t
	t.timer = time.AfterFunc(timeout, func() { d.expire(taskID) })
	d.mu.Unlock()

	d.send(conn, frames.TypeTaskAssigned, frames.TaskAssigned{
		TaskID:     taskID,
		Capability: req.Capability,
		Payload:    req.Payload,
		Priority:   req.Priority,
		TimeoutMs:  int(timeout / time.Millisecond),
		From:       fromID,
	})
	d.send(sender, frames.TypeTaskDispatched, frames.TaskDispatched{TaskID: taskID, AssignedTo: assignee})

	d.logger.Debug("task_dispatched",
		slog.String("task_id", taskID),
		slog.String("capability", req.Capability),
		slog.String("from", fromID),
		slog.String("assigned_to", assignee),
		slog.Duration("timeout", timeout))
	d.events.Publish(events.TaskDispatched{TaskID: taskID, Capability: req.Capability, From: fromID, AssignedTo: assignee})
	d.metrics.TaskDispatched()
	d.stats.tasksDispatched.Add(1)

	return taskID, nil
}

// HandleResult processes a task_result frame from the assigned node. A
// result for an unknown task, from the wrong node, or after expiry is
// dropped silently.
func (d *Dispatcher) HandleResult(fromID string, res frames.TaskResult) {
	d.mu.Lock()
	t, ok := d.tasks[res.TaskID]
	if !ok || t.assignee != fromID || t.state != taskDispatched {
		d.mu.Unlock()
		d.logger.Debug("task_result_dropped",
			slog.String("task_id", res.TaskID),
			slog.String("from", fromID))
		return
	}
	t.timer.Stop()
	if res.Error != "" {
		t.state = taskFailed
	} else {
		t.state = taskCompleted
	}
	delete(d.tasks, res.TaskID)
	d.mu.Unlock()

	requester, ok := d.registry.Conn(t.requester)
	if res.Error != "" {
		if ok {
			d.send(requester, frames.TypeTaskFailed, frames.TaskFailed{TaskID: t.id, Error: res.Error})
		}
		d.events.Publish(events.TaskFailed{TaskID: t.id, Capability: t.capability, AssignedTo: t.assignee, Error: res.Error})
		d.metrics.TaskFailed()
		d.stats.tasksFailed.Add(1)
		return
	}

	if ok {
		d.send(requester, frames.TypeTaskCompleted, frames.TaskCompleted{TaskID: t.id, Payload: res.Payload})
	}
	d.events.Publish(events.TaskCompleted{TaskID: t.id, Capability: t.capability, AssignedTo: t.assignee})
	d.metrics.TaskCompleted()
	d.stats.tasksCompleted.Add(1)
}

// expire fires when a task deadline passes without a result. The task is
// not retracted from the assigned node; the timeout is an observability
// signal for the requester only.
func (d *Dispatcher) expire(taskID string) {
	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if !ok || t.state != taskDispatched {
		d.mu.Unlock()
		return
	}
	t.state = taskTimedOut
	delete(d.tasks, taskID)
	d.mu.Unlock()

	// The requester may be gone; a lost notification is tolerated.
	if requester, ok := d.registry.Conn(t.requester); ok {
		d.send(requester, frames.TypeTaskTimeout, frames.TaskTimeout{TaskID: t.id, Capability: t.capability})
	}

	d.logger.Debug("task_timed_out",
		slog.String("task_id", t.id),
		slog.String("capability", t.capability),
		slog.String("assigned_to", t.assignee))
	d.events.Publish(events.TaskTimedOut{TaskID: t.id, Capability: t.capability, AssignedTo: t.assignee})
	d.metrics.TaskTimedOut()
	d.stats.tasksTimedOut.Add(1)
}

// Pending returns the number of in-flight tasks.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.tasks)
}

// Stop cancels all armed task timers. Pending tasks are dropped without
// notifications; the broker is shutting down.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, t := range d.tasks {
		t.timer.Stop()
		delete(d.tasks, id)
	}
}

// send writes a frame, swallowing transport errors. One unreachable party
// must never raise back into the dispatch pipeline.
func (d *Dispatcher) send(conn Connection, frameType string, payload any) {
	if conn == nil {
		return
	}
	if err := conn.WriteFrame(frameType, payload); err != nil {
		d.logger.Debug("task_notification_failed",
			slog.String("to", conn.ID()),
			slog.String("frame", frameType),
			slog.String("error", err.Error()))
	}
}
