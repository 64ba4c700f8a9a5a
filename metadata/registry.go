// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"log/slog"
	"sync"
	"time"
)

// Registry is the client-side cache of topic and partition metadata.
//
// Routing is read-mostly and takes the read side of the lock; the metadata
// refresher takes the write side. Callers that route a batch of messages may
// hold the read lock once across the whole batch via RLock/RUnlock.
type Registry struct {
	mu              sync.RWMutex
	topics          map[string]*Topic
	refreshInterval time.Duration
	logger          *slog.Logger
}

// NewRegistry creates a metadata registry. refreshInterval is the configured
// metadata refresh interval; three such intervals form the staleness trust
// window used by Topic.Fresh.
func NewRegistry(refreshInterval time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		topics:          make(map[string]*Topic),
		refreshInterval: refreshInterval,
		logger:          logger,
	}
}

// RefreshInterval returns the configured metadata refresh interval.
func (r *Registry) RefreshInterval() time.Duration {
	return r.refreshInterval
}

// RLock acquires the registry read lock for a batch of routing reads.
func (r *Registry) RLock() {
	r.mu.RLock()
}

// RUnlock releases the registry read lock.
func (r *Registry) RUnlock() {
	r.mu.RUnlock()
}

// Topic returns the topic entry for name, creating an unknown-state entry on
// first reference. Must not be called while holding the registry lock.
func (r *Registry) Topic(name string) *Topic {
	r.mu.RLock()
	t, ok := r.topics[name]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok = r.topics[name]; ok {
		return t
	}
	t = newTopic(name)
	r.topics[name] = t
	r.logger.Debug("topic registered", "topic", name)
	return t
}

// Lookup returns the topic entry for name, or nil if it was never referenced.
func (r *Registry) Lookup(name string) *Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topics[name]
}

// Update records refreshed metadata for a topic: the topic becomes known
// with the given partition count as of now. Called by the metadata
// refresher.
func (r *Registry) Update(name string, partitionCount int32, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[name]
	if !ok {
		t = newTopic(name)
		r.topics[name] = t
	}
	prev := t.PartitionCount()
	t.update(partitionCount, now)

	if prev != partitionCount {
		r.logger.Info("topic metadata updated",
			"topic", name,
			"partitions", partitionCount,
			"previous", prev)
	}
}

// MarkUnknown records a metadata refresh that found no such topic on the
// cluster. The refresh timestamp still advances, so routing fails fast for
// as long as the answer is within the trust window.
func (r *Registry) MarkUnknown(name string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[name]
	if !ok {
		t = newTopic(name)
		r.topics[name] = t
	}
	t.markUnknown(now)

	r.logger.Warn("topic not present in cluster metadata", "topic", name)
}

// SetWritable marks a single partition as accepting or rejecting writes.
// Called by the metadata refresher on leader changes.
func (r *Registry) SetWritable(name string, index int32, writable bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.topics[name]
	if !ok || index < 0 || index >= t.PartitionCount() {
		return
	}
	t.partitions[index].SetWritable(writable)
}

// Topics returns the names of all referenced topics.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	return names
}
