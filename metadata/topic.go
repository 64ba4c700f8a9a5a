// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"sync/atomic"
	"time"
)

// PartitionAny is the sentinel partition index meaning "let the partitioner
// or router decide", or "no partition available yet".
const PartitionAny int32 = -1

// State represents the metadata state of a topic.
type State int

const (
	// StateUnknown means no confirmed metadata has been seen for the topic.
	StateUnknown State = iota
	// StateKnown means the topic has confirmed cluster metadata.
	StateKnown
)

// String returns a human-readable topic state.
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateKnown:
		return "known"
	default:
		return "invalid"
	}
}

// Partition is a reference-counted handle to a single topic partition.
// Holders must Release() the handle when done; the registry holds one
// reference for as long as the partition is listed in topic metadata.
type Partition struct {
	topic    string
	index    int32
	refCount atomic.Int32
	writable atomic.Bool
}

func newPartition(topic string, index int32) *Partition {
	p := &Partition{
		topic: topic,
		index: index,
	}
	p.refCount.Store(1)
	p.writable.Store(true)
	return p
}

// Topic returns the topic name this partition belongs to.
func (p *Partition) Topic() string {
	return p.topic
}

// Index returns the partition index, or PartitionAny for the
// pending-assignment pseudo-partition.
func (p *Partition) Index() int32 {
	return p.index
}

// Writable reports whether the partition currently accepts writes.
func (p *Partition) Writable() bool {
	return p.writable.Load()
}

// SetWritable marks the partition as accepting or rejecting writes.
// Called by the metadata refresher based on broker leadership state.
func (p *Partition) SetWritable(w bool) {
	p.writable.Store(w)
}

// Retain increments the reference count.
func (p *Partition) Retain() {
	p.refCount.Add(1)
}

// Release decrements the reference count.
func (p *Partition) Release() {
	if p.refCount.Add(-1) < 0 {
		// Should never happen - indicates a bug
		panic("metadata: negative partition reference count")
	}
}

// RefCount returns the current reference count (for testing/debugging).
func (p *Partition) RefCount() int32 {
	return p.refCount.Load()
}

// Topic holds the cached cluster metadata for a single topic: its state,
// its partitions and the time the metadata was last confirmed.
//
// All reads and writes must happen under the owning Registry's lock; the
// registry's read lock is sufficient for every method except update.
type Topic struct {
	name        string
	state       State
	partitions  []*Partition
	ua          *Partition // pending-assignment pseudo-partition
	lastRefresh time.Time
}

func newTopic(name string) *Topic {
	return &Topic{
		name:  name,
		state: StateUnknown,
		ua:    newPartition(name, PartitionAny),
	}
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.name
}

// State returns the topic metadata state.
func (t *Topic) State() State {
	return t.state
}

// PartitionCount returns the number of partitions known for the topic.
func (t *Topic) PartitionCount() int32 {
	return int32(len(t.partitions))
}

// LastRefresh returns the time the topic metadata was last confirmed.
func (t *Topic) LastRefresh() time.Time {
	return t.lastRefresh
}

// Fresh reports whether the topic metadata is still within the trust
// window at the given instant, i.e. recent enough to fail fast on rather
// than treat missing partitions as a transient condition.
func (t *Topic) Fresh(now time.Time, refreshInterval time.Duration) bool {
	return WithinTrustWindow(now, t.lastRefresh, refreshInterval)
}

// Partition returns a retained reference to the partition with the given
// index, the pending-assignment pseudo-partition for PartitionAny, or nil
// if no such partition exists. The caller must Release() a non-nil result.
func (t *Topic) Partition(index int32) *Partition {
	if index == PartitionAny {
		t.ua.Retain()
		return t.ua
	}
	if index < 0 || index >= int32(len(t.partitions)) {
		return nil
	}
	p := t.partitions[index]
	p.Retain()
	return p
}

// Writable reports whether the partition with the given index currently
// accepts writes. Out-of-range indexes are not writable.
func (t *Topic) Writable(index int32) bool {
	if index < 0 || index >= int32(len(t.partitions)) {
		return false
	}
	return t.partitions[index].Writable()
}

// update applies refreshed metadata: the topic becomes known with the given
// partition count. Existing partition handles survive a grow; handles beyond
// a shrink are released by the registry but stay valid for holders that
// retained them.
func (t *Topic) update(partitionCount int32, now time.Time) {
	t.state = StateKnown
	t.lastRefresh = now

	switch {
	case partitionCount > int32(len(t.partitions)):
		for i := int32(len(t.partitions)); i < partitionCount; i++ {
			t.partitions = append(t.partitions, newPartition(t.name, i))
		}
	case partitionCount < int32(len(t.partitions)):
		for _, p := range t.partitions[partitionCount:] {
			p.Release()
		}
		t.partitions = t.partitions[:partitionCount]
	}
}

// markUnknown records a metadata refresh that found no such topic on the
// cluster: the state drops back to unknown and all partitions are released,
// but the refresh timestamp advances so the router can fail fast while the
// answer is still trustworthy.
func (t *Topic) markUnknown(now time.Time) {
	t.state = StateUnknown
	t.lastRefresh = now
	for _, p := range t.partitions {
		p.Release()
	}
	t.partitions = nil
}

// WithinTrustWindow reports whether cached metadata last refreshed at
// lastRefresh is still authoritative at now, given the configured refresh
// interval. The window spans three refresh intervals: long enough for a
// slow refresh cycle to land, short enough to fail fast on metadata that
// genuinely shows no such topic or partition.
func WithinTrustWindow(now, lastRefresh time.Time, refreshInterval time.Duration) bool {
	return now.Before(lastRefresh.Add(3 * refreshInterval))
}
