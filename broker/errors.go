// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import "errors"

// Broker errors.
var (
	// ErrDuplicateRegistration is returned when a connection registers
	// twice and the registry runs the reject policy.
	ErrDuplicateRegistration = errors.New("connection already registered")

	// ErrNotRegistered is returned for frames that require a registered
	// node on a connection that has not sent a register frame.
	ErrNotRegistered = errors.New("connection not registered")

	// ErrNoCapableNode is returned when a task's capability has no
	// connected provider. Capability absence is not transient; the broker
	// does not retry.
	ErrNoCapableNode = errors.New("no node advertises capability")

	// ErrNodeUnavailable is returned when the selected node disconnected
	// between the capability snapshot and the send. A second attempt is
	// the caller's responsibility.
	ErrNodeUnavailable = errors.New("selected node no longer connected")

	// ErrCapabilityRequired is returned for task requests without a
	// capability.
	ErrCapabilityRequired = errors.New("task capability required")
)
