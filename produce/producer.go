// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package produce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kineticmq/kinetic/core"
	"github.com/kineticmq/kinetic/metadata"
)

// partitionQueue pairs one destination's message queue with the lock that
// serializes all access to it.
type partitionQueue struct {
	mu       sync.Mutex
	messages MessageQueue
}

// Producer is the client-side produce path: it admits messages against the
// in-flight ceiling, routes them to a topic partition and buffers them per
// partition until a transport drains them. Safe for concurrent use.
type Producer struct {
	opts     Options
	id       string
	logger   *slog.Logger
	registry *metadata.Registry
	router   *Router
	gate     *AdmissionGate
	pool     *core.BufferPool
	comp     *compressor
	metrics  *Metrics

	mu     sync.RWMutex
	queues map[string]map[int32]*partitionQueue

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// Record is one message in a ProduceBatch call.
type Record struct {
	// Partition is the forced partition index, or metadata.PartitionAny to
	// let the partitioner decide. Note that the zero value targets
	// partition 0.
	Partition int32
	Flags     MsgFlags
	Payload   []byte
	Key       []byte
	Opaque    any

	// Err is set by ProduceBatch with the per-record outcome.
	Err error
}

// New creates a producer. Call Start to launch the expiry sweeper and
// Close to shut it down.
func New(opts Options) (*Producer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if opts.ClientID == "" {
		opts.ClientID = "producer-" + uuid.NewString()[:8]
	}

	gate := NewAdmissionGate(opts.QueueBufferingMaxMessages)
	metrics, err := NewMetrics(gate)
	if err != nil {
		return nil, err
	}

	var comp *compressor
	if opts.Compression != CompressionNone {
		if comp, err = newCompressor(opts.Compression); err != nil {
			return nil, err
		}
	}

	registry := metadata.NewRegistry(opts.MetadataRefreshInterval, opts.Logger)

	p := &Producer{
		opts:     opts,
		id:       opts.ClientID,
		logger:   opts.Logger,
		registry: registry,
		gate:     gate,
		pool:     opts.BufferPool,
		comp:     comp,
		metrics:  metrics,
		queues:   make(map[string]map[int32]*partitionQueue),
		stopCh:   make(chan struct{}),
	}
	p.router = NewRouter(registry, p, opts.Partitioner, opts.Logger)
	return p, nil
}

// ID returns the producer's client id.
func (p *Producer) ID() string {
	return p.id
}

// Metadata returns the topic metadata registry. The metadata refresher
// writes into it; routing only reads.
func (p *Producer) Metadata() *metadata.Registry {
	return p.registry
}

// InFlight returns the number of messages constructed but not yet
// completed.
func (p *Producer) InFlight() int64 {
	return p.gate.InFlight()
}

// UsePartitioner registers a per-topic partitioner, replacing the
// configured default for that topic.
func (p *Producer) UsePartitioner(topic string, part Partitioner) {
	p.router.UsePartitioner(topic, part)
}

// Start launches the background expiry sweeper.
func (p *Producer) Start() {
	p.wg.Add(1)
	go p.sweepLoop()

	p.logger.Info("producer started",
		"client_id", p.id,
		"max_message_size", p.opts.MaxMessageSize,
		"queue_buffering_max_messages", p.opts.QueueBufferingMaxMessages,
		"message_timeout", p.opts.MessageTimeout)
}

// Close stops the sweeper and purges all buffered messages, reporting each
// through the delivery failure callback with ErrClosed. Produce calls made
// after Close fail with ErrClosed.
func (p *Producer) Close() {
	p.stopOnce.Do(func() {
		p.closed.Store(true)
		close(p.stopCh)
	})
	p.wg.Wait()

	purged := p.Purge()
	p.logger.Info("producer closed", "client_id", p.id, "purged", purged)
}

// Produce constructs a message for topic and enqueues it on the resolved
// partition. partition is a specific index or metadata.PartitionAny; flags
// select the payload ownership mode; opaque is returned untouched with the
// completion callback. Errors are returned synchronously, with every
// admission slot and owned buffer released on failure.
func (p *Producer) Produce(topic string, partition int32, flags MsgFlags, payload, key []byte, opaque any) error {
	t := p.registry.Topic(topic)
	return p.produceTo(t, partition, flags, payload, key, opaque, false)
}

// ProduceBatch produces a batch of records to one topic under a single
// metadata read-lock acquisition. Each record's Err field is set to its
// outcome; the return value is the number of records enqueued.
func (p *Producer) ProduceBatch(topic string, records []Record) int {
	t := p.registry.Topic(topic)

	p.registry.RLock()
	defer p.registry.RUnlock()

	produced := 0
	for i := range records {
		r := &records[i]
		r.Err = p.produceTo(t, r.Partition, r.Flags, r.Payload, r.Key, r.Opaque, true)
		if r.Err == nil {
			produced++
		}
	}
	return produced
}

func (p *Producer) produceTo(t *metadata.Topic, partition int32, flags MsgFlags, payload, key []byte, opaque any, locked bool) error {
	ctx := context.Background()

	if p.closed.Load() {
		return ErrClosed
	}

	if len(payload)+len(key) > p.opts.MaxMessageSize {
		p.metrics.RecordError(ctx, t.Name(), "message_too_large")
		return ErrMessageTooLarge
	}

	if !p.gate.TryAcquire() {
		p.metrics.RecordError(ctx, t.Name(), "queue_full")
		return ErrQueueFull
	}

	ref, codec, err := p.buildPayload(flags, payload)
	if err != nil {
		p.gate.Release()
		p.metrics.RecordError(ctx, t.Name(), "compression")
		return fmt.Errorf("payload compression failed: %w", err)
	}

	msg := newMessage(t.Name(), partition, ref, len(payload), key, opaque, codec,
		time.Now().Add(p.opts.MessageTimeout), p.gate)

	if err := p.router.Assign(t, msg, locked); err != nil {
		msg.Destroy()
		err = mapRouteErr(err)
		p.metrics.RecordError(ctx, t.Name(), errKind(err))
		return err
	}

	p.metrics.RecordProduce(ctx, t.Name(), len(payload)+len(key))
	return nil
}

// buildPayload applies the ownership mode implied by flags. Copy semantics
// dominate ownership transfer, so MsgFlagCopy|MsgFlagFree copies and leaves
// the caller's slice alone.
func (p *Producer) buildPayload(flags MsgFlags, payload []byte) (payloadRef, Compression, error) {
	switch {
	case flags&MsgFlagCopy != 0:
		data := payload
		codec := CompressionNone
		if p.comp != nil {
			compressed, err := p.comp.compress(payload)
			if err != nil {
				return nil, CompressionNone, err
			}
			data = compressed
			codec = p.opts.Compression
		}
		return copiedPayload{buf: p.pool.GetWithData(data)}, codec, nil
	case flags&MsgFlagFree != 0:
		return ownedPayload{buf: p.pool.Adopt(payload)}, CompressionNone, nil
	default:
		return borrowedPayload{data: payload}, CompressionNone, nil
	}
}

// Enqueue implements Sink: it appends the routed message to the resolved
// partition's queue under that queue's lock.
func (p *Producer) Enqueue(ref *metadata.Partition, msg *Message) error {
	q := p.queueFor(ref.Topic(), ref.Index())
	q.mu.Lock()
	q.messages.Enqueue(msg)
	q.mu.Unlock()
	return nil
}

// Dequeue removes up to max buffered messages from one partition's queue,
// in enqueue order. It is the hand-off point for the transport: ownership
// of the returned messages transfers to the caller, which must Destroy
// each one once transmission completes or fails.
func (p *Producer) Dequeue(topic string, partition int32, max int) []*Message {
	q := p.lookupQueue(topic, partition)
	if q == nil {
		return nil
	}

	var msgs []*Message
	q.mu.Lock()
	for len(msgs) < max {
		m := q.messages.Dequeue()
		if m == nil {
			break
		}
		msgs = append(msgs, m)
	}
	q.mu.Unlock()
	return msgs
}

// QueueDepth returns the number of messages buffered for one partition.
func (p *Producer) QueueDepth(topic string, partition int32) int {
	q := p.lookupQueue(topic, partition)
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.messages.Count()
}

// Purge destroys every buffered message, reporting each through the
// delivery failure callback with ErrClosed, and returns the number purged.
func (p *Producer) Purge() int {
	purged := 0
	for _, q := range p.snapshotQueues() {
		var drained MessageQueue
		q.mu.Lock()
		drained.Concat(&q.messages)
		q.mu.Unlock()

		for m := drained.Dequeue(); m != nil; m = drained.Dequeue() {
			if p.opts.OnDeliveryFailure != nil {
				p.opts.OnDeliveryFailure(m, ErrClosed)
			}
			m.Destroy()
			purged++
		}
	}
	return purged
}

// SweepExpired moves every message that aged past its deadline at now to
// the timed-out path: the delivery failure callback observes it with
// ErrMessageTimedOut, then it is destroyed. Returns the number of messages
// timed out. The background sweeper calls this on every tick; tests and
// shutdown paths may call it directly.
func (p *Producer) SweepExpired(now time.Time) int {
	ctx := context.Background()
	total := 0

	for topic, q := range p.snapshotTopicQueues() {
		perTopic := 0
		for _, pq := range q {
			var timedout MessageQueue
			pq.mu.Lock()
			n := pq.messages.AgeScan(&timedout, now)
			pq.mu.Unlock()
			if n == 0 {
				continue
			}
			perTopic += n

			for m := timedout.Dequeue(); m != nil; m = timedout.Dequeue() {
				if p.opts.OnDeliveryFailure != nil {
					p.opts.OnDeliveryFailure(m, ErrMessageTimedOut)
				}
				m.Destroy()
			}
		}
		if perTopic > 0 {
			p.metrics.RecordTimeout(ctx, topic, perTopic)
			p.logger.Debug("messages timed out before transmission",
				"topic", topic,
				"count", perTopic)
			total += perTopic
		}
	}
	return total
}

func (p *Producer) sweepLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			p.SweepExpired(now)
		}
	}
}

func (p *Producer) queueFor(topic string, index int32) *partitionQueue {
	if q := p.lookupQueue(topic, index); q != nil {
		return q
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	byIndex, ok := p.queues[topic]
	if !ok {
		byIndex = make(map[int32]*partitionQueue)
		p.queues[topic] = byIndex
	}
	q, ok := byIndex[index]
	if !ok {
		q = &partitionQueue{}
		byIndex[index] = q
	}
	return q
}

func (p *Producer) lookupQueue(topic string, index int32) *partitionQueue {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.queues[topic][index]
}

func (p *Producer) snapshotQueues() []*partitionQueue {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var qs []*partitionQueue
	for _, byIndex := range p.queues {
		for _, q := range byIndex {
			qs = append(qs, q)
		}
	}
	return qs
}

func (p *Producer) snapshotTopicQueues() map[string][]*partitionQueue {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := make(map[string][]*partitionQueue, len(p.queues))
	for topic, byIndex := range p.queues {
		qs := make([]*partitionQueue, 0, len(byIndex))
		for _, q := range byIndex {
			qs = append(qs, q)
		}
		snap[topic] = qs
	}
	return snap
}

// mapRouteErr translates routing failures to the produce error taxonomy.
// Anything outside the known set indicates a logic defect and surfaces as
// ErrInvalidState.
func mapRouteErr(err error) error {
	switch {
	case errors.Is(err, ErrUnknownTopic), errors.Is(err, ErrUnknownPartition):
		return err
	default:
		return ErrInvalidState
	}
}

func errKind(err error) string {
	switch {
	case errors.Is(err, ErrUnknownTopic):
		return "unknown_topic"
	case errors.Is(err, ErrUnknownPartition):
		return "unknown_partition"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrMessageTooLarge):
		return "message_too_large"
	default:
		return "invalid_state"
	}
}
