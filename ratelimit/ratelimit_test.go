// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow_WithinBurst(t *testing.T) {
	l := New(1, 3, time.Minute)
	defer l.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1:1234"), "connection %d should pass", i)
	}
	assert.False(t, l.Allow("10.0.0.1:1234"))
}

func TestAllow_PerIPIsolation(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Close()

	assert.True(t, l.Allow("10.0.0.1:1234"))
	assert.False(t, l.Allow("10.0.0.1:5678"))

	// A different IP has its own bucket.
	assert.True(t, l.Allow("10.0.0.2:1234"))
}

func TestAllow_UnparseableAddr(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Close()

	assert.True(t, l.Allow("not-an-address"))
	assert.True(t, l.Allow("not-an-address"))
}

func TestAllow_BareIP(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Close()

	assert.True(t, l.Allow("10.0.0.3"))
	assert.False(t, l.Allow("10.0.0.3"))
}
