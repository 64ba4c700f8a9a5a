// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package produce

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kineticmq/kinetic/core"
)

// ErrInvalidOptions indicates invalid producer options.
var ErrInvalidOptions = errors.New("invalid producer options")

// Default values.
const (
	DefaultMaxMessageSize            = 1000000
	DefaultQueueBufferingMaxMessages = 100000
	DefaultMessageTimeout            = 5 * time.Minute
	DefaultMetadataRefreshInterval   = time.Minute
	DefaultSweepInterval             = time.Second
)

// DeliveryFailureFn is invoked by the expiry sweeper for every message that
// aged past its deadline before transmission, with ErrMessageTimedOut as the
// reason. The callback may read the message and its opaque token but must
// not retain it: the sweeper destroys the message right after the call.
type DeliveryFailureFn func(msg *Message, reason error)

// Options configures a Producer.
type Options struct {
	// ClientID identifies this producer instance in logs and metrics.
	// Defaults to a generated id.
	ClientID string

	// MaxMessageSize bounds payload plus key size per message, in bytes.
	MaxMessageSize int

	// QueueBufferingMaxMessages is the in-flight admission ceiling.
	QueueBufferingMaxMessages int64

	// MessageTimeout is the per-message expiry horizon: messages still
	// queued after this long are handed to OnDeliveryFailure.
	MessageTimeout time.Duration

	// MetadataRefreshInterval is how often the metadata refresher is
	// expected to run. Three intervals form the staleness trust window.
	MetadataRefreshInterval time.Duration

	// SweepInterval is how often the expiry sweeper scans the queues.
	SweepInterval time.Duration

	// Partitioner assigns partitions to messages produced without one.
	// Defaults to RandomPartitioner.
	Partitioner Partitioner

	// Compression is applied to copy-mode payloads before enqueueing.
	Compression Compression

	// OnDeliveryFailure receives timed-out messages. Optional.
	OnDeliveryFailure DeliveryFailureFn

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// BufferPool supplies copied payload buffers and recycles owned ones.
	// Defaults to core.DefaultBufferPool.
	BufferPool *core.BufferPool
}

// Validate checks the options for invalid values.
func (o *Options) Validate() error {
	if o.MaxMessageSize < 0 {
		return fmt.Errorf("%w: max message size must not be negative", ErrInvalidOptions)
	}
	if o.QueueBufferingMaxMessages < 0 {
		return fmt.Errorf("%w: queue buffering max messages must not be negative", ErrInvalidOptions)
	}
	if o.MessageTimeout < 0 {
		return fmt.Errorf("%w: message timeout must not be negative", ErrInvalidOptions)
	}
	if o.MetadataRefreshInterval < 0 {
		return fmt.Errorf("%w: metadata refresh interval must not be negative", ErrInvalidOptions)
	}
	if o.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep interval must not be negative", ErrInvalidOptions)
	}
	if err := o.Compression.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// withDefaults returns a copy of the options with zero values replaced by
// defaults.
func (o Options) withDefaults() Options {
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.QueueBufferingMaxMessages == 0 {
		o.QueueBufferingMaxMessages = DefaultQueueBufferingMaxMessages
	}
	if o.MessageTimeout == 0 {
		o.MessageTimeout = DefaultMessageTimeout
	}
	if o.MetadataRefreshInterval == 0 {
		o.MetadataRefreshInterval = DefaultMetadataRefreshInterval
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.Partitioner == nil {
		o.Partitioner = RandomPartitioner{}
	}
	if o.Compression == "" {
		o.Compression = CompressionNone
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.BufferPool == nil {
		o.BufferPool = core.DefaultBufferPool
	}
	return o
}
