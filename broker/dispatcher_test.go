// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/meshrelay/frames"
)

func TestDispatcher_NoCapableNode(t *testing.T) {
	b, _ := newTestBroker(t)
	requester := register(t, b, "node-a")

	_, err := b.dispatcher.Dispatch(requester, "node-a", frames.TaskRequest{Capability: "scrape"})
	assert.ErrorIs(t, err, ErrNoCapableNode)

	// Reported synchronously, never dispatched.
	fail, ok := requester.lastFrame(frames.TypeTaskError)
	require.True(t, ok)
	assert.Equal(t, "no capable node", fail.Payload.(frames.TaskError).Reason)
	assert.Empty(t, requester.frames(frames.TypeTaskDispatched))
	assert.Equal(t, 0, b.dispatcher.Pending())
}

func TestDispatcher_RequesterNotEligible(t *testing.T) {
	b, _ := newTestBroker(t)
	requester := register(t, b, "node-a", "scrape")

	// The only provider is the requester itself.
	_, err := b.dispatcher.Dispatch(requester, "node-a", frames.TaskRequest{Capability: "scrape"})
	assert.ErrorIs(t, err, ErrNoCapableNode)
}

func TestDispatcher_CapabilityRequired(t *testing.T) {
	b, _ := newTestBroker(t)
	requester := register(t, b, "node-a")

	_, err := b.dispatcher.Dispatch(requester, "node-a", frames.TaskRequest{})
	assert.ErrorIs(t, err, ErrCapabilityRequired)
}

func TestDispatcher_AssignsAndNotifies(t *testing.T) {
	b, _ := newTestBroker(t)
	worker := register(t, b, "w1", "scrape")
	requester := register(t, b, "node-a")

	taskID, err := b.dispatcher.Dispatch(requester, "node-a", frames.TaskRequest{
		Capability: "scrape",
		Payload:    []byte(`{"url":"https://example.com"}`),
		Priority:   2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	assigned, ok := worker.lastFrame(frames.TypeTaskAssigned)
	require.True(t, ok)
	ta := assigned.Payload.(frames.TaskAssigned)
	assert.Equal(t, taskID, ta.TaskID)
	assert.Equal(t, "scrape", ta.Capability)
	assert.Equal(t, "node-a", ta.From)
	assert.Equal(t, 2, ta.Priority)
	assert.Equal(t, int(DefaultTaskTimeout/time.Millisecond), ta.TimeoutMs)

	dispatched, ok := requester.lastFrame(frames.TypeTaskDispatched)
	require.True(t, ok)
	assert.Equal(t, "w1", dispatched.Payload.(frames.TaskDispatched).AssignedTo)

	assert.Equal(t, 1, b.dispatcher.Pending())
}

func TestDispatcher_SelectorSeam(t *testing.T) {
	b, _ := newTestBroker(t)
	register(t, b, "w1", "scrape")
	w2 := register(t, b, "w2", "scrape")
	requester := register(t, b, "node-a")

	b.SetSelector(func(candidates []string) string {
		// Deterministic: always the last candidate.
		return candidates[len(candidates)-1]
	})

	_, err := b.dispatcher.Dispatch(requester, "node-a", frames.TaskRequest{Capability: "scrape"})
	require.NoError(t, err)

	_, ok := w2.lastFrame(frames.TypeTaskAssigned)
	assert.True(t, ok)
}

func TestDispatcher_NodeUnavailable(t *testing.T) {
	b, _ := newTestBroker(t)
	requester := register(t, b, "node-a")

	// The index says w1 is capable, but the registry no longer has it:
	// the race between snapshot and send.
	b.caps.Advertise("w1", []string{"scrape"})

	_, err := b.dispatcher.Dispatch(requester, "node-a", frames.TaskRequest{Capability: "scrape"})
	assert.ErrorIs(t, err, ErrNodeUnavailable)

	fail, ok := requester.lastFrame(frames.TypeTaskError)
	require.True(t, ok)
	assert.Equal(t, "node unavailable", fail.Payload.(frames.TaskError).Reason)
}

func TestDispatcher_TimeoutAfterWorkerDisconnect(t *testing.T) {
	b, _ := newTestBroker(t)
	worker := register(t, b, "w1", "scrape")
	requester := register(t, b, "node-a")

	taskID, err := b.dispatcher.Dispatch(requester, "node-a", frames.TaskRequest{
		Capability: "scrape",
		TimeoutMs:  100,
	})
	require.NoError(t, err)

	// Worker disconnects before responding; the armed timeout still fires.
	b.disconnect(worker)

	require.Eventually(t, func() bool {
		return len(requester.frames(frames.TypeTaskTimeout)) == 1
	}, time.Second, 10*time.Millisecond)

	timeout, _ := requester.lastFrame(frames.TypeTaskTimeout)
	assert.Equal(t, taskID, timeout.Payload.(frames.TaskTimeout).TaskID)

	// Exactly one timeout, no task_error, no further side effects.
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, requester.frames(frames.TypeTaskTimeout), 1)
	assert.Empty(t, requester.frames(frames.TypeTaskError))
	assert.Equal(t, 0, b.dispatcher.Pending())
}

func TestDispatcher_ResultBeforeTimeout(t *testing.T) {
	b, _ := newTestBroker(t)
	register(t, b, "w1", "scrape")
	requester := register(t, b, "node-a")

	taskID, err := b.dispatcher.Dispatch(requester, "node-a", frames.TaskRequest{
		Capability: "scrape",
		TimeoutMs:  100,
	})
	require.NoError(t, err)

	b.dispatcher.HandleResult("w1", frames.TaskResult{TaskID: taskID, Payload: []byte(`{"ok":true}`)})

	completed, ok := requester.lastFrame(frames.TypeTaskCompleted)
	require.True(t, ok)
	assert.Equal(t, taskID, completed.Payload.(frames.TaskCompleted).TaskID)

	// The cancelled timer must not fire.
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, requester.frames(frames.TypeTaskTimeout))
	assert.Equal(t, 0, b.dispatcher.Pending())
}

func TestDispatcher_ErrorResult(t *testing.T) {
	b, _ := newTestBroker(t)
	register(t, b, "w1", "scrape")
	requester := register(t, b, "node-a")

	taskID, err := b.dispatcher.Dispatch(requester, "node-a", frames.TaskRequest{Capability: "scrape"})
	require.NoError(t, err)

	b.dispatcher.HandleResult("w1", frames.TaskResult{TaskID: taskID, Error: "boom"})

	failed, ok := requester.lastFrame(frames.TypeTaskFailed)
	require.True(t, ok)
	assert.Equal(t, "boom", failed.Payload.(frames.TaskFailed).Error)
}

func TestDispatcher_ResultFromWrongNodeDropped(t *testing.T) {
	b, _ := newTestBroker(t)
	register(t, b, "w1", "scrape")
	intruder := register(t, b, "w2", "scrape")
	requester := register(t, b, "node-a")

	b.SetSelector(func(candidates []string) string { return "w1" })

	taskID, err := b.dispatcher.Dispatch(requester, "node-a", frames.TaskRequest{Capability: "scrape"})
	require.NoError(t, err)

	b.dispatcher.HandleResult(intruder.ID(), frames.TaskResult{TaskID: taskID})

	assert.Empty(t, requester.frames(frames.TypeTaskCompleted))
	assert.Equal(t, 1, b.dispatcher.Pending())
}

func TestDispatcher_LateResultDropped(t *testing.T) {
	b, _ := newTestBroker(t)
	register(t, b, "w1", "scrape")
	requester := register(t, b, "node-a")

	taskID, err := b.dispatcher.Dispatch(requester, "node-a", frames.TaskRequest{
		Capability: "scrape",
		TimeoutMs:  20,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(requester.frames(frames.TypeTaskTimeout)) == 1
	}, time.Second, 5*time.Millisecond)

	b.dispatcher.HandleResult("w1", frames.TaskResult{TaskID: taskID})

	assert.Empty(t, requester.frames(frames.TypeTaskCompleted))
}
