// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"sync/atomic"
)

// Buffer is a reference-counted payload buffer. When a buffer is created
// its reference count is 1. Retain() increments the count, and Release()
// decrements it. When the count reaches 0, the buffer is returned to the pool.
//
// Copied message payloads are drawn from the pool; payloads handed over by
// the application in ownership-transfer mode are adopted into the pool's
// lifecycle so their memory is recycled once the message is destroyed.
type Buffer struct {
	data     []byte
	refCount atomic.Int32
	pool     *BufferPool
}

// NewBuffer creates a new buffer wrapping the given data.
// The buffer starts with a reference count of 1.
func NewBuffer(data []byte, pool *BufferPool) *Buffer {
	buf := &Buffer{
		data: data,
		pool: pool,
	}
	buf.refCount.Store(1)
	return buf
}

// Bytes returns the underlying byte slice.
// The slice must not be modified after the buffer is shared.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len returns the length of the buffer.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Retain increments the reference count.
// Must be called before sharing the buffer with another goroutine.
func (b *Buffer) Retain() {
	if b == nil {
		return
	}
	b.refCount.Add(1)
}

// Release decrements the reference count.
// When the count reaches 0, the buffer is returned to the pool.
// Must be called by every holder of the buffer when done.
func (b *Buffer) Release() {
	if b == nil {
		return
	}

	newCount := b.refCount.Add(-1)
	if newCount == 0 {
		if b.pool != nil {
			b.pool.Put(b)
		}
	} else if newCount < 0 {
		// Should never happen - indicates a bug
		panic("core: negative buffer reference count")
	}
}

// RefCount returns the current reference count (for testing/debugging).
func (b *Buffer) RefCount() int32 {
	if b == nil {
		return 0
	}
	return b.refCount.Load()
}

// BufferPool manages a pool of reusable Buffers organized into size classes
// to reduce allocation overhead on the produce hot path.
type BufferPool struct {
	small  chan *Buffer // <1KB
	medium chan *Buffer // 1KB-64KB
	large  chan *Buffer // 64KB-1MB

	smallCap  int
	mediumCap int
	largeCap  int

	stats BufferPoolStats
}

// BufferPoolStats tracks pool performance metrics.
type BufferPoolStats struct {
	SmallHits    atomic.Uint64
	MediumHits   atomic.Uint64
	LargeHits    atomic.Uint64
	SmallMisses  atomic.Uint64
	MediumMisses atomic.Uint64
	LargeMisses  atomic.Uint64
}

// NewBufferPool creates a new buffer pool with default capacity.
func NewBufferPool() *BufferPool {
	return NewBufferPoolWithCapacity(1000, 500, 100)
}

// NewBufferPoolWithCapacity creates a new buffer pool with custom capacity for each size class.
func NewBufferPoolWithCapacity(smallCap, mediumCap, largeCap int) *BufferPool {
	return &BufferPool{
		small:     make(chan *Buffer, smallCap),
		medium:    make(chan *Buffer, mediumCap),
		large:     make(chan *Buffer, largeCap),
		smallCap:  smallCap,
		mediumCap: mediumCap,
		largeCap:  largeCap,
	}
}

// Get retrieves a buffer of the requested size from the pool.
// If no suitable buffer is available, allocates a new one.
func (p *BufferPool) Get(size int) *Buffer {
	var pool chan *Buffer
	var bufSize int
	var hits, misses *atomic.Uint64

	switch {
	case size <= 1024:
		pool = p.small
		bufSize = 1024
		hits = &p.stats.SmallHits
		misses = &p.stats.SmallMisses
	case size <= 65536:
		pool = p.medium
		bufSize = 65536
		hits = &p.stats.MediumHits
		misses = &p.stats.MediumMisses
	case size <= 1048576:
		pool = p.large
		bufSize = 1048576
		hits = &p.stats.LargeHits
		misses = &p.stats.LargeMisses
	default:
		// Very large buffers are not pooled
		misses = &p.stats.LargeMisses
		misses.Add(1)
		return NewBuffer(make([]byte, size), p)
	}

	select {
	case buf := <-pool:
		// Adopted buffers may carry less capacity than the class size.
		if cap(buf.data) < size {
			misses.Add(1)
			return NewBuffer(make([]byte, size, bufSize), p)
		}
		hits.Add(1)
		buf.data = buf.data[:size]
		buf.refCount.Store(1)
		return buf
	default:
		misses.Add(1)
		return NewBuffer(make([]byte, size, bufSize), p)
	}
}

// GetWithData creates a new buffer containing a copy of the provided data.
func (p *BufferPool) GetWithData(data []byte) *Buffer {
	buf := p.Get(len(data))
	copy(buf.data, data)
	return buf
}

// Adopt takes ownership of the caller's slice and wraps it in a pooled
// buffer. The caller must not reuse the slice afterwards; its memory is
// recycled into the matching size class once the buffer is released.
func (p *BufferPool) Adopt(data []byte) *Buffer {
	return NewBuffer(data, p)
}

// Put returns a buffer to the pool for reuse.
// Called automatically by Buffer.Release() when the refcount reaches 0.
func (p *BufferPool) Put(buf *Buffer) {
	if buf == nil {
		return
	}

	var pool chan *Buffer
	c := cap(buf.data)

	switch {
	case c <= 1024:
		pool = p.small
	case c <= 65536:
		pool = p.medium
	case c <= 1048576:
		pool = p.large
	default:
		// Very large buffers are not pooled, just GC them
		return
	}

	select {
	case pool <- buf:
	default:
		// Pool full, let GC handle it
	}
}

// Stats returns current pool statistics.
func (p *BufferPool) Stats() *BufferPoolStats {
	return &p.stats
}

// Clear empties all pools. Useful for testing.
func (p *BufferPool) Clear() {
	for {
		select {
		case <-p.small:
		case <-p.medium:
		case <-p.large:
		default:
			return
		}
	}
}

// DefaultBufferPool is a process-wide buffer pool instance used when a
// producer is not configured with its own pool.
var DefaultBufferPool = NewBufferPool()
