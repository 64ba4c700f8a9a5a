// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package produce

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kineticmq/kinetic/metadata"
)

// Sink receives a routed message for the resolved partition. The producer
// implements it with per-partition queues; tests may substitute their own.
type Sink interface {
	Enqueue(ref *metadata.Partition, msg *Message) error
}

// Router resolves a destination partition for each message against live
// topic metadata and hands the message to the sink.
type Router struct {
	registry *metadata.Registry
	sink     Sink
	fallback Partitioner
	logger   *slog.Logger

	mu           sync.RWMutex
	partitioners map[string]Partitioner
}

// NewRouter creates a router. fallback is the partitioner used for topics
// without a registered one; nil means RandomPartitioner.
func NewRouter(registry *metadata.Registry, sink Sink, fallback Partitioner, logger *slog.Logger) *Router {
	if fallback == nil {
		fallback = RandomPartitioner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:     registry,
		sink:         sink,
		fallback:     fallback,
		logger:       logger,
		partitioners: make(map[string]Partitioner),
	}
}

// UsePartitioner registers a partitioner for one topic, replacing the
// router's fallback for messages produced to it without a partition.
func (r *Router) UsePartitioner(topic string, p Partitioner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partitioners[topic] = p
}

func (r *Router) partitionerFor(topic string) Partitioner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.partitioners[topic]; ok {
		return p
	}
	return r.fallback
}

// Assign resolves a partition for msg against t's metadata and enqueues it
// on the sink. When locked is true the caller already holds the metadata
// read lock for a batch of assignments; otherwise Assign takes it for the
// duration of the call.
//
// On failure the message is left untouched for the caller to destroy.
func (r *Router) Assign(t *metadata.Topic, msg *Message, locked bool) error {
	if !locked {
		r.registry.RLock()
		defer r.registry.RUnlock()
	}

	now := time.Now()

	// Fail fast on a forced partition that trusted metadata says does not
	// exist. Metadata older than the trust window is not trusted: the
	// request falls through and waits for a refresh instead.
	if (t.State() == metadata.StateUnknown ||
		(msg.Partition() != metadata.PartitionAny && msg.Partition() >= t.PartitionCount())) &&
		t.Fresh(now, r.registry.RefreshInterval()) {
		if t.PartitionCount() == 0 {
			return ErrUnknownTopic
		}
		return ErrUnknownPartition
	}

	var partition int32
	switch {
	case t.PartitionCount() == 0:
		partition = metadata.PartitionAny
	case msg.Partition() == metadata.PartitionAny:
		partition = r.partitionerFor(t.Name()).Partition(msg.Key(), t.PartitionCount(), t)
	default:
		// Partition specified by the application.
		partition = msg.Partition()
	}

	if partition != metadata.PartitionAny && partition >= t.PartitionCount() {
		// Partition is unknown locally. Temporary condition under racing
		// metadata, so park the message on the pending-assignment queue
		// instead of failing.
		r.logger.Debug("partition not currently available",
			"topic", t.Name(),
			"partition", partition)
		partition = metadata.PartitionAny
	}

	ref := t.Partition(partition)
	if ref == nil {
		if t.State() == metadata.StateUnknown {
			return ErrUnknownTopic
		}
		return ErrUnknownPartition
	}
	defer ref.Release()

	return r.sink.Enqueue(ref, msg)
}
