// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package produce

import (
	"hash"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
)

// Hash pool for partition selection.
var hashPool = sync.Pool{
	New: func() interface{} {
		return fnv.New32a()
	},
}

// TopicView is the read-only topic state a partitioner may consult while
// choosing a partition. It is only valid for the duration of the call.
type TopicView interface {
	PartitionCount() int32
	Writable(partition int32) bool
}

// Partitioner maps a message key to a partition index in
// [0, numPartitions). It is invoked only for messages produced with
// metadata.PartitionAny, with numPartitions >= 1, under the metadata read
// lock. Implementations must be safe for concurrent use.
type Partitioner interface {
	Partition(key []byte, numPartitions int32, topic TopicView) int32
}

// RandomPartitioner picks a uniformly random partition. If the first pick
// is not currently writable it re-picks once and accepts whatever comes
// back, writable or not. This is a cheap heuristic for skipping partitions
// without a leader, not a guarantee of avoiding them.
type RandomPartitioner struct{}

// Partition returns a random partition index.
func (RandomPartitioner) Partition(key []byte, numPartitions int32, topic TopicView) int32 {
	p := rand.Int31n(numPartitions)
	if !topic.Writable(p) {
		return rand.Int31n(numPartitions)
	}
	return p
}

// HashPartitioner maps equal keys to the same partition using fnv-32a.
// Messages without a key fall back to random assignment.
type HashPartitioner struct{}

// Partition returns the partition index for the given key.
func (HashPartitioner) Partition(key []byte, numPartitions int32, topic TopicView) int32 {
	if len(key) == 0 {
		return rand.Int31n(numPartitions)
	}

	hasher := hashPool.Get().(hash.Hash32)
	defer func() {
		hasher.Reset()
		hashPool.Put(hasher)
	}()

	hasher.Write(key)
	return int32(hasher.Sum32() % uint32(numPartitions))
}

// RoundRobinPartitioner spreads messages evenly across partitions,
// ignoring the key.
type RoundRobinPartitioner struct {
	counter atomic.Uint32
}

// Partition returns the next partition index in rotation.
func (p *RoundRobinPartitioner) Partition(key []byte, numPartitions int32, topic TopicView) int32 {
	return int32((p.counter.Add(1) - 1) % uint32(numPartitions))
}
