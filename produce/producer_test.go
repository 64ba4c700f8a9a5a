// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package produce

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kineticmq/kinetic/core"
	"github.com/kineticmq/kinetic/metadata"
)

func newTestProducer(t *testing.T, opts Options) *Producer {
	t.Helper()
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(Options{MaxMessageSize: -1})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestNew_GeneratesClientID(t *testing.T) {
	p := newTestProducer(t, Options{})
	assert.NotEmpty(t, p.ID())

	p2 := newTestProducer(t, Options{ClientID: "my-producer"})
	assert.Equal(t, "my-producer", p2.ID())
}

func TestProducer_ProduceToKnownPartition(t *testing.T) {
	p := newTestProducer(t, Options{})
	p.Metadata().Update("orders", 4, time.Now())

	err := p.Produce("orders", 2, MsgFlagCopy, []byte("payload"), []byte("key"), "tok")
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.InFlight())
	assert.Equal(t, 1, p.QueueDepth("orders", 2))

	msgs := p.Dequeue("orders", 2, 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("payload"), msgs[0].Payload())
	assert.Equal(t, []byte("key"), msgs[0].Key())
	assert.Equal(t, "tok", msgs[0].Opaque())

	msgs[0].Destroy()
	assert.Equal(t, int64(0), p.InFlight())
}

func TestProducer_MessageTooLargeLeavesCounterUnchanged(t *testing.T) {
	p := newTestProducer(t, Options{MaxMessageSize: 10})
	p.Metadata().Update("orders", 1, time.Now())

	tests := []struct {
		name    string
		payload []byte
		key     []byte
	}{
		{"payload alone", make([]byte, 11), nil},
		{"payload plus key", make([]byte, 6), make([]byte, 5)},
		{"key alone", nil, make([]byte, 11)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Produce("orders", 0, MsgFlagCopy, tt.payload, tt.key, nil)
			assert.ErrorIs(t, err, ErrMessageTooLarge)
			assert.Equal(t, int64(0), p.InFlight())
		})
	}

	// Exactly at the limit is admitted.
	err := p.Produce("orders", 0, MsgFlagCopy, make([]byte, 5), make([]byte, 5), nil)
	assert.NoError(t, err)
}

func TestProducer_QueueFullAtCeiling(t *testing.T) {
	const ceiling = 5
	p := newTestProducer(t, Options{QueueBufferingMaxMessages: ceiling})
	p.Metadata().Update("orders", 1, time.Now())

	for i := 0; i < ceiling; i++ {
		require.NoError(t, p.Produce("orders", 0, MsgFlagCopy, []byte("m"), nil, nil))
	}

	err := p.Produce("orders", 0, MsgFlagCopy, []byte("m"), nil, nil)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(ceiling), p.InFlight())

	// Draining one message frees one slot.
	msgs := p.Dequeue("orders", 0, 1)
	require.Len(t, msgs, 1)
	msgs[0].Destroy()
	assert.NoError(t, p.Produce("orders", 0, MsgFlagCopy, []byte("m"), nil, nil))
}

func TestProducer_RoutingFailureReleasesSlot(t *testing.T) {
	p := newTestProducer(t, Options{})
	p.Metadata().Update("orders", 4, time.Now())

	err := p.Produce("orders", 9, MsgFlagCopy, []byte("payload"), nil, nil)
	assert.ErrorIs(t, err, ErrUnknownPartition)
	assert.Equal(t, int64(0), p.InFlight())
}

func TestProducer_UnknownTopicFreshMetadata(t *testing.T) {
	p := newTestProducer(t, Options{})
	p.Metadata().MarkUnknown("ghost", time.Now())

	err := p.Produce("ghost", metadata.PartitionAny, MsgFlagCopy, []byte("m"), nil, nil)
	assert.ErrorIs(t, err, ErrUnknownTopic)
	assert.Equal(t, int64(0), p.InFlight())
}

func TestProducer_StaleMetadataDemotesForcedPartition(t *testing.T) {
	p := newTestProducer(t, Options{})
	// Metadata far beyond the 3x refresh-interval trust window.
	p.Metadata().Update("orders", 4, time.Now().Add(-10*time.Minute))

	err := p.Produce("orders", 9, MsgFlagCopy, []byte("m"), nil, nil)
	require.NoError(t, err)

	// Parked on the pending-assignment queue rather than rejected.
	assert.Equal(t, 1, p.QueueDepth("orders", metadata.PartitionAny))
	assert.Equal(t, int64(1), p.InFlight())
}

func TestProducer_NeverSeenTopicParksOnUnassigned(t *testing.T) {
	p := newTestProducer(t, Options{})

	err := p.Produce("brand-new", metadata.PartitionAny, MsgFlagCopy, []byte("m"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.QueueDepth("brand-new", metadata.PartitionAny))
}

func TestProducer_UnassignedDistributionTouchesAllPartitions(t *testing.T) {
	p := newTestProducer(t, Options{})
	p.Metadata().Update("orders", 4, time.Now())

	for i := 0; i < 1000; i++ {
		require.NoError(t, p.Produce("orders", metadata.PartitionAny, MsgFlagCopy, []byte("m"), nil, nil))
	}

	total := 0
	for idx := int32(0); idx < 4; idx++ {
		depth := p.QueueDepth("orders", idx)
		assert.Greater(t, depth, 0, "partition %d starved", idx)
		total += depth
	}
	assert.Equal(t, 1000, total)
	assert.Equal(t, 0, p.QueueDepth("orders", metadata.PartitionAny))
}

func TestProducer_BorrowedPayloadAliased(t *testing.T) {
	p := newTestProducer(t, Options{})
	p.Metadata().Update("orders", 1, time.Now())

	payload := []byte("borrowed")
	require.NoError(t, p.Produce("orders", 0, MsgFlagNone, payload, nil, nil))

	msgs := p.Dequeue("orders", 0, 1)
	require.Len(t, msgs, 1)
	assert.Same(t, &payload[0], &msgs[0].Payload()[0])
	msgs[0].Destroy()
}

func TestProducer_CopiedPayloadIsPrivate(t *testing.T) {
	p := newTestProducer(t, Options{})
	p.Metadata().Update("orders", 1, time.Now())

	payload := []byte("copy me")
	require.NoError(t, p.Produce("orders", 0, MsgFlagCopy, payload, nil, nil))

	payload[0] = 'X'
	msgs := p.Dequeue("orders", 0, 1)
	require.Len(t, msgs, 1)
	assert.Equal(t, byte('c'), msgs[0].Payload()[0])
	msgs[0].Destroy()
}

func TestProducer_OwnedPayloadRecycledOnDestroy(t *testing.T) {
	pool := core.NewBufferPool()
	p := newTestProducer(t, Options{BufferPool: pool})
	p.Metadata().Update("orders", 1, time.Now())

	payload := make([]byte, 64, 1024)
	require.NoError(t, p.Produce("orders", 0, MsgFlagFree, payload, nil, nil))

	msgs := p.Dequeue("orders", 0, 1)
	require.Len(t, msgs, 1)
	msgs[0].Destroy()

	reused := pool.Get(64)
	assert.Same(t, &payload[0], &reused.Bytes()[0])
}

func TestProducer_CopyFlagDominatesFree(t *testing.T) {
	pool := core.NewBufferPool()
	p := newTestProducer(t, Options{BufferPool: pool})
	p.Metadata().Update("orders", 1, time.Now())

	payload := make([]byte, 64, 1024)
	require.NoError(t, p.Produce("orders", 0, MsgFlagCopy|MsgFlagFree, payload, nil, nil))

	msgs := p.Dequeue("orders", 0, 1)
	require.Len(t, msgs, 1)
	assert.NotSame(t, &payload[0], &msgs[0].Payload()[0])
	msgs[0].Destroy()

	// The caller's slice was never adopted into the pool.
	fresh := pool.Get(64)
	assert.NotSame(t, &payload[0], &fresh.Bytes()[0])
}

func TestProducer_CompressionAppliedToCopies(t *testing.T) {
	p := newTestProducer(t, Options{Compression: CompressionSnappy})
	p.Metadata().Update("orders", 1, time.Now())

	payload := bytes.Repeat([]byte("telemetry "), 100)
	require.NoError(t, p.Produce("orders", 0, MsgFlagCopy, payload, nil, nil))

	msgs := p.Dequeue("orders", 0, 1)
	require.Len(t, msgs, 1)
	assert.Equal(t, CompressionSnappy, msgs[0].Codec())
	assert.Less(t, len(msgs[0].Payload()), len(payload))
	// Len still reports the original payload length.
	assert.Equal(t, len(payload), msgs[0].Len())
	msgs[0].Destroy()

	// Borrowed payloads are never rewritten.
	require.NoError(t, p.Produce("orders", 0, MsgFlagNone, payload, nil, nil))
	borrowed := p.Dequeue("orders", 0, 1)
	require.Len(t, borrowed, 1)
	assert.Equal(t, CompressionNone, borrowed[0].Codec())
	borrowed[0].Destroy()
}

func TestProducer_SweepExpiredMovesDeadlinePrefix(t *testing.T) {
	var (
		mu     sync.Mutex
		failed []any
	)
	p := newTestProducer(t, Options{
		MessageTimeout: 50 * time.Millisecond,
		OnDeliveryFailure: func(msg *Message, reason error) {
			assert.ErrorIs(t, reason, ErrMessageTimedOut)
			mu.Lock()
			failed = append(failed, msg.Opaque())
			mu.Unlock()
		},
	})
	p.Metadata().Update("orders", 1, time.Now())

	require.NoError(t, p.Produce("orders", 0, MsgFlagCopy, []byte("m"), nil, "first"))
	require.NoError(t, p.Produce("orders", 0, MsgFlagCopy, []byte("m"), nil, "second"))

	// Nothing expired yet.
	assert.Equal(t, 0, p.SweepExpired(time.Now()))

	moved := p.SweepExpired(time.Now().Add(time.Second))
	assert.Equal(t, 2, moved)
	assert.Equal(t, []any{"first", "second"}, failed)
	assert.Equal(t, 0, p.QueueDepth("orders", 0))
	assert.Equal(t, int64(0), p.InFlight())

	// Idempotent with respect to the already-processed prefix.
	assert.Equal(t, 0, p.SweepExpired(time.Now().Add(time.Second)))
}

func TestProducer_BackgroundSweeper(t *testing.T) {
	done := make(chan struct{})
	var once sync.Once
	p := newTestProducer(t, Options{
		MessageTimeout: 10 * time.Millisecond,
		SweepInterval:  10 * time.Millisecond,
		OnDeliveryFailure: func(msg *Message, reason error) {
			once.Do(func() { close(done) })
		},
	})
	p.Metadata().Update("orders", 1, time.Now())
	p.Start()
	defer p.Close()

	require.NoError(t, p.Produce("orders", 0, MsgFlagCopy, []byte("m"), nil, nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never timed out the message")
	}
}

func TestProducer_ProduceBatchSingleLock(t *testing.T) {
	p := newTestProducer(t, Options{})
	p.Metadata().Update("orders", 4, time.Now())

	records := []Record{
		{Partition: 0, Flags: MsgFlagCopy, Payload: []byte("a")},
		{Partition: metadata.PartitionAny, Flags: MsgFlagCopy, Payload: []byte("b"), Key: []byte("k")},
		{Partition: 9, Flags: MsgFlagCopy, Payload: []byte("c")},
		{Partition: 1, Flags: MsgFlagCopy, Payload: []byte("d")},
	}

	produced := p.ProduceBatch("orders", records)

	assert.Equal(t, 3, produced)
	assert.NoError(t, records[0].Err)
	assert.NoError(t, records[1].Err)
	assert.ErrorIs(t, records[2].Err, ErrUnknownPartition)
	assert.NoError(t, records[3].Err)
	assert.Equal(t, int64(3), p.InFlight())
}

func TestProducer_DequeueRespectsMax(t *testing.T) {
	p := newTestProducer(t, Options{})
	p.Metadata().Update("orders", 1, time.Now())

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Produce("orders", 0, MsgFlagCopy, []byte{byte(i)}, nil, i))
	}

	first := p.Dequeue("orders", 0, 2)
	require.Len(t, first, 2)
	assert.Equal(t, 0, first[0].Opaque())
	assert.Equal(t, 1, first[1].Opaque())

	rest := p.Dequeue("orders", 0, 100)
	require.Len(t, rest, 3)

	for _, m := range append(first, rest...) {
		m.Destroy()
	}

	assert.Nil(t, p.Dequeue("orders", 0, 1))
	assert.Nil(t, p.Dequeue("unknown", 0, 1))
}

func TestProducer_CloseRejectsProduceAndPurges(t *testing.T) {
	var purged int
	var mu sync.Mutex
	p := newTestProducer(t, Options{
		OnDeliveryFailure: func(msg *Message, reason error) {
			assert.ErrorIs(t, reason, ErrClosed)
			mu.Lock()
			purged++
			mu.Unlock()
		},
	})
	p.Metadata().Update("orders", 1, time.Now())
	p.Start()

	require.NoError(t, p.Produce("orders", 0, MsgFlagCopy, []byte("m"), nil, nil))
	require.NoError(t, p.Produce("orders", 0, MsgFlagCopy, []byte("m"), nil, nil))

	p.Close()

	assert.Equal(t, 2, purged)
	assert.Equal(t, int64(0), p.InFlight())
	assert.ErrorIs(t, p.Produce("orders", 0, MsgFlagCopy, []byte("m"), nil, nil), ErrClosed)
}

func TestProducer_ConcurrentProduce(t *testing.T) {
	p := newTestProducer(t, Options{})
	p.Metadata().Update("orders", 4, time.Now())

	const (
		goroutines = 8
		perWorker  = 100
	)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				assert.NoError(t, p.Produce("orders", metadata.PartitionAny, MsgFlagCopy, []byte("m"), nil, nil))
			}
		}()
	}
	wg.Wait()

	total := 0
	for idx := int32(0); idx < 4; idx++ {
		total += p.QueueDepth("orders", idx)
	}
	assert.Equal(t, goroutines*perWorker, total)
	assert.Equal(t, int64(goroutines*perWorker), p.InFlight())
}
