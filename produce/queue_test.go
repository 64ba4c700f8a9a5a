// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package produce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMessage builds a message with an already-reserved admission slot, for
// queue-level tests that never route.
func testMessage(t *testing.T, gate *AdmissionGate, deadline time.Time) *Message {
	t.Helper()
	require.True(t, gate.TryAcquire())
	return newMessage("orders", 0, borrowedPayload{data: []byte("payload")}, 7, nil, nil,
		CompressionNone, deadline, gate)
}

func TestMessageQueue_EnqueueDequeueOrder(t *testing.T) {
	gate := NewAdmissionGate(10)
	var q MessageQueue

	m1 := testMessage(t, gate, time.Now())
	m2 := testMessage(t, gate, time.Now())
	m3 := testMessage(t, gate, time.Now())

	q.Enqueue(m1)
	q.Enqueue(m2)
	q.Enqueue(m3)
	assert.Equal(t, 3, q.Count())
	assert.Same(t, m1, q.Peek())

	assert.Same(t, m1, q.Dequeue())
	assert.Same(t, m2, q.Dequeue())
	assert.Same(t, m3, q.Dequeue())
	assert.Equal(t, 0, q.Count())
	assert.Nil(t, q.Dequeue())
	assert.Nil(t, q.Peek())
}

func TestMessageQueue_Prepend(t *testing.T) {
	gate := NewAdmissionGate(10)
	var q MessageQueue

	m1 := testMessage(t, gate, time.Now())
	m2 := testMessage(t, gate, time.Now())
	m3 := testMessage(t, gate, time.Now())

	q.Prepend(m1)
	assert.Same(t, m1, q.Peek())

	q.Enqueue(m2)
	q.Prepend(m3)
	assert.Equal(t, 3, q.Count())

	assert.Same(t, m3, q.Dequeue())
	assert.Same(t, m1, q.Dequeue())
	assert.Same(t, m2, q.Dequeue())
}

func TestMessageQueue_Concat(t *testing.T) {
	gate := NewAdmissionGate(10)
	var a, b MessageQueue

	m1 := testMessage(t, gate, time.Now())
	m2 := testMessage(t, gate, time.Now())
	m3 := testMessage(t, gate, time.Now())

	a.Enqueue(m1)
	b.Enqueue(m2)
	b.Enqueue(m3)

	a.Concat(&b)
	assert.Equal(t, 3, a.Count())
	assert.Equal(t, 0, b.Count())
	assert.Same(t, m1, a.Dequeue())
	assert.Same(t, m2, a.Dequeue())
	assert.Same(t, m3, a.Dequeue())

	// Concat from an empty queue is a no-op.
	a.Concat(&b)
	assert.Equal(t, 0, a.Count())
}

func TestMessageQueue_AgeScanMovesExpiredPrefix(t *testing.T) {
	gate := NewAdmissionGate(10)
	base := time.Now()

	var q, timedout MessageQueue
	m1 := testMessage(t, gate, base.Add(1*time.Second))
	m2 := testMessage(t, gate, base.Add(2*time.Second))
	m3 := testMessage(t, gate, base.Add(10*time.Second))
	m4 := testMessage(t, gate, base.Add(11*time.Second))
	for _, m := range []*Message{m1, m2, m3, m4} {
		q.Enqueue(m)
	}

	now := base.Add(5 * time.Second)
	moved := q.AgeScan(&timedout, now)

	assert.Equal(t, 2, moved)
	assert.Equal(t, 2, q.Count())
	assert.Equal(t, 2, timedout.Count())

	// Moved messages preserve relative order; survivors are untouched.
	assert.Same(t, m1, timedout.Dequeue())
	assert.Same(t, m2, timedout.Dequeue())
	assert.Same(t, m3, q.Peek())

	// Re-running with the same sweep time moves nothing further.
	assert.Equal(t, 0, q.AgeScan(&timedout, now))
	assert.Equal(t, 2, q.Count())
}

func TestMessageQueue_AgeScanAllExpired(t *testing.T) {
	gate := NewAdmissionGate(10)
	base := time.Now()

	var q, timedout MessageQueue
	q.Enqueue(testMessage(t, gate, base))
	q.Enqueue(testMessage(t, gate, base))

	moved := q.AgeScan(&timedout, base.Add(time.Second))
	assert.Equal(t, 2, moved)
	assert.Equal(t, 0, q.Count())
	assert.Equal(t, 2, timedout.Count())
}

func TestMessageQueue_AgeScanDeadlineEqualNowExpires(t *testing.T) {
	gate := NewAdmissionGate(10)
	now := time.Now()

	var q, timedout MessageQueue
	q.Enqueue(testMessage(t, gate, now))

	assert.Equal(t, 1, q.AgeScan(&timedout, now))
}

func TestMessageQueue_AgeScanStopsAtLiveHead(t *testing.T) {
	gate := NewAdmissionGate(10)
	base := time.Now()

	// An out-of-order expired message behind a live head is not moved;
	// it is a delayed timeout, caught once the head expires too.
	var q, timedout MessageQueue
	live := testMessage(t, gate, base.Add(time.Hour))
	expired := testMessage(t, gate, base.Add(-time.Hour))
	q.Enqueue(live)
	q.Enqueue(expired)

	assert.Equal(t, 0, q.AgeScan(&timedout, base))
	assert.Equal(t, 2, q.Count())
}
