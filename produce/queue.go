// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package produce

import "time"

// MessageQueue is an ordered FIFO collection of messages for one
// destination partition (or the pending-assignment pseudo-partition).
//
// The queue is not internally thread-safe: all operations on one queue
// instance must run under the owning partition's lock. The count always
// equals the number of linked messages.
type MessageQueue struct {
	head  *Message
	tail  *Message
	count int
}

// Count returns the number of messages in the queue.
func (q *MessageQueue) Count() int {
	return q.count
}

// Enqueue appends a message to the tail of the queue.
func (q *MessageQueue) Enqueue(m *Message) {
	m.next = nil
	m.prev = q.tail
	if q.tail != nil {
		q.tail.next = m
	} else {
		q.head = m
	}
	q.tail = m
	q.count++
}

// Prepend inserts a message at the head of the queue, ahead of everything
// already buffered. Used to return a message to its queue without losing
// its place after a failed hand-off.
func (q *MessageQueue) Prepend(m *Message) {
	m.prev = nil
	m.next = q.head
	if q.head != nil {
		q.head.prev = m
	} else {
		q.tail = m
	}
	q.head = m
	q.count++
}

// Dequeue removes and returns the head of the queue, or nil when empty.
func (q *MessageQueue) Dequeue() *Message {
	m := q.head
	if m == nil {
		return nil
	}
	q.head = m.next
	if q.head != nil {
		q.head.prev = nil
	} else {
		q.tail = nil
	}
	m.next = nil
	m.prev = nil
	q.count--
	return m
}

// Peek returns the head of the queue without removing it.
func (q *MessageQueue) Peek() *Message {
	return q.head
}

// Concat moves all messages from src onto the tail of q, preserving their
// order. src is left empty.
func (q *MessageQueue) Concat(src *MessageQueue) {
	if src.head == nil {
		return
	}
	if q.tail != nil {
		q.tail.next = src.head
		src.head.prev = q.tail
		q.tail = src.tail
	} else {
		q.head = src.head
		q.tail = src.tail
	}
	q.count += src.count
	src.head = nil
	src.tail = nil
	src.count = 0
}

// AgeScan moves every message whose deadline has passed at now from the
// head of the queue into timedout, preserving relative order, and returns
// the number of messages moved.
//
// Messages are enqueued in non-decreasing deadline order within a queue
// that only ever receives freshly created messages, so the scan stops at
// the first live message instead of walking the whole queue. An
// out-of-order deadline behind a live head is tolerated as a delayed
// timeout, caught on a later sweep.
func (q *MessageQueue) AgeScan(timedout *MessageQueue, now time.Time) int {
	moved := 0
	for m := q.head; m != nil && m.Expired(now); m = q.head {
		q.Dequeue()
		timedout.Enqueue(m)
		moved++
	}
	return moved
}
