// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package produce

import "errors"

// Produce path errors. All are detected synchronously inside Produce and
// returned to the caller; the producer performs no internal retries.
var (
	// ErrMessageTooLarge means payload plus key exceed the configured
	// maximum message size. No admission slot was taken.
	ErrMessageTooLarge = errors.New("message size exceeds maximum message size")

	// ErrQueueFull means the in-flight message ceiling was reached.
	// The caller may retry once queued messages drain.
	ErrQueueFull = errors.New("producer queue is full")

	// ErrUnknownTopic means the topic is not present in trusted cluster
	// metadata.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrUnknownPartition means a forced partition does not exist on the
	// cluster according to trusted metadata.
	ErrUnknownPartition = errors.New("unknown partition")

	// ErrInvalidState covers any other routing failure. It indicates a
	// logic defect rather than a runtime condition.
	ErrInvalidState = errors.New("invalid producer state")

	// ErrMessageTimedOut is reported through the delivery failure callback
	// for messages that aged past their deadline before transmission.
	ErrMessageTimedOut = errors.New("message timed out before transmission")

	// ErrClosed is returned by Produce after the producer has been closed.
	ErrClosed = errors.New("producer has been closed")
)
