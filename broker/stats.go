// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync/atomic"
	"time"
)

// Stats tracks broker counters for the health and management surfaces.
type Stats struct {
	startTime time.Time

	nodesConnected    atomic.Int64
	messagesDelivered atomic.Int64
	messagesQueued    atomic.Int64
	tasksDispatched   atomic.Int64
	tasksCompleted    atomic.Int64
	tasksFailed       atomic.Int64
	tasksTimedOut     atomic.Int64
}

// NewStats creates a stats tracker.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Uptime            time.Duration `json:"-"`
	UptimeSeconds     int64         `json:"uptime_seconds"`
	NodesConnected    int64         `json:"nodes_connected"`
	MessagesDelivered int64         `json:"messages_delivered"`
	MessagesQueued    int64         `json:"messages_queued"`
	TasksDispatched   int64         `json:"tasks_dispatched"`
	TasksCompleted    int64         `json:"tasks_completed"`
	TasksFailed       int64         `json:"tasks_failed"`
	TasksTimedOut     int64         `json:"tasks_timed_out"`
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	uptime := time.Since(s.startTime)
	return StatsSnapshot{
		Uptime:            uptime,
		UptimeSeconds:     int64(uptime.Seconds()),
		NodesConnected:    s.nodesConnected.Load(),
		MessagesDelivered: s.messagesDelivered.Load(),
		MessagesQueued:    s.messagesQueued.Load(),
		TasksDispatched:   s.tasksDispatched.Load(),
		TasksCompleted:    s.tasksCompleted.Load(),
		TasksFailed:       s.tasksFailed.Load(),
		TasksTimedOut:     s.tasksTimedOut.Load(),
	}
}
