// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package produce

import (
	"sync/atomic"
	"time"

	"github.com/kineticmq/kinetic/core"
)

// MsgFlags control payload ownership for Produce.
type MsgFlags uint8

const (
	// MsgFlagNone borrows the caller's payload slice: the caller retains
	// ownership and must keep the slice alive and unmodified until the
	// message completes.
	MsgFlagNone MsgFlags = 0

	// MsgFlagFree transfers ownership of the payload slice to the producer,
	// which recycles its memory into the buffer pool when the message is
	// destroyed. The caller must not reuse the slice.
	MsgFlagFree MsgFlags = 1 << iota

	// MsgFlagCopy makes a private copy of the payload. Copy semantics
	// dominate: combining with MsgFlagFree behaves as a plain copy.
	MsgFlagCopy
)

// payloadRef is the tagged ownership variant carried by every Message.
// Release behavior is fixed by the concrete type rather than by a flag
// checked at free time, so a borrowed buffer can never be freed and an
// owned one can never leak.
type payloadRef interface {
	bytes() []byte
	release()
}

// borrowedPayload aliases caller-owned memory. Release never touches it.
type borrowedPayload struct {
	data []byte
}

func (b borrowedPayload) bytes() []byte { return b.data }
func (b borrowedPayload) release()      {}

// ownedPayload holds memory the application handed over; release recycles
// it into the buffer pool.
type ownedPayload struct {
	buf *core.Buffer
}

func (o ownedPayload) bytes() []byte { return o.buf.Bytes() }
func (o ownedPayload) release()      { o.buf.Release() }

// copiedPayload holds a private pool-allocated copy.
type copiedPayload struct {
	buf *core.Buffer
}

func (c copiedPayload) bytes() []byte { return c.buf.Bytes() }
func (c copiedPayload) release()      { c.buf.Release() }

// Message is an outbound record waiting for transmission. Payload, key and
// the requested partition are immutable after construction; only queue
// membership and expiry evaluation change over the message's life.
type Message struct {
	topic     string
	payload   payloadRef
	length    int
	key       []byte
	partition int32
	deadline  time.Time
	opaque    any
	codec     Compression
	gate      *AdmissionGate
	destroyed atomic.Bool

	// queue linkage, guarded by the owning queue's lock
	next, prev *Message
}

// Topic returns the destination topic name.
func (m *Message) Topic() string { return m.topic }

// Payload returns the payload bytes. For compressed messages these are the
// compressed bytes; Len still reports the original payload length.
func (m *Message) Payload() []byte { return m.payload.bytes() }

// Len returns the original (uncompressed) payload length in bytes.
func (m *Message) Len() int { return m.length }

// Key returns the message's private key copy, or nil.
func (m *Message) Key() []byte { return m.key }

// Partition returns the partition requested at construction time:
// a specific index, or metadata.PartitionAny for partitioner assignment.
func (m *Message) Partition() int32 { return m.partition }

// Deadline returns the absolute time after which the message is considered
// timed out if still unsent.
func (m *Message) Deadline() time.Time { return m.deadline }

// Opaque returns the application token supplied at produce time. The
// producer never inspects it.
func (m *Message) Opaque() any { return m.opaque }

// Codec returns the compression codec applied to the payload, or
// CompressionNone.
func (m *Message) Codec() Compression { return m.codec }

// Expired reports whether the message's deadline has passed at now.
func (m *Message) Expired(now time.Time) bool {
	return !m.deadline.After(now)
}

// Destroy releases the message's admission slot and owned buffers. Borrowed
// payload memory is never touched. It must be called exactly once, by
// whichever collaborator completes the message: the transport after a send,
// or the sweeper after a timeout. A second call panics.
func (m *Message) Destroy() {
	if !m.destroyed.CompareAndSwap(false, true) {
		panic("produce: message destroyed twice")
	}
	m.payload.release()
	m.key = nil
	m.gate.Release()
}

// newMessage assumes the caller already reserved an admission slot on gate;
// the message takes responsibility for releasing it.
func newMessage(topic string, partition int32, payload payloadRef, length int, key []byte, opaque any, codec Compression, deadline time.Time, gate *AdmissionGate) *Message {
	var keyCopy []byte
	if len(key) > 0 {
		keyCopy = make([]byte, len(key))
		copy(keyCopy, key)
	}
	return &Message{
		topic:     topic,
		payload:   payload,
		length:    length,
		key:       keyCopy,
		partition: partition,
		deadline:  deadline,
		opaque:    opaque,
		codec:     codec,
		gate:      gate,
	}
}
