// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package produce

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry metric instruments for the produce path.
// Without a registered global meter provider the instruments are no-ops.
type Metrics struct {
	meter metric.Meter

	// Counters
	messagesProduced metric.Int64Counter
	bytesProduced    metric.Int64Counter
	messagesTimedOut metric.Int64Counter
	produceErrors    metric.Int64Counter

	// Gauges
	messagesInFlight metric.Int64ObservableUpDownCounter

	// Histograms
	messageSize metric.Int64Histogram
}

// NewMetrics creates a new Metrics instance with all instruments
// initialized. The in-flight gauge observes gate directly, so it stays
// accurate no matter which collaborator destroys a message.
func NewMetrics(gate *AdmissionGate) (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("kinetic-producer"),
	}

	var err error

	m.messagesProduced, err = m.meter.Int64Counter(
		"producer.messages.produced.total",
		metric.WithDescription("Total messages admitted and enqueued"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesProduced counter: %w", err)
	}

	m.bytesProduced, err = m.meter.Int64Counter(
		"producer.bytes.produced.total",
		metric.WithDescription("Total payload bytes admitted"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bytesProduced counter: %w", err)
	}

	m.messagesTimedOut, err = m.meter.Int64Counter(
		"producer.messages.timedout.total",
		metric.WithDescription("Total messages that aged past their deadline before transmission"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesTimedOut counter: %w", err)
	}

	m.produceErrors, err = m.meter.Int64Counter(
		"producer.errors.total",
		metric.WithDescription("Total produce calls rejected, by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create produceErrors counter: %w", err)
	}

	m.messagesInFlight, err = m.meter.Int64ObservableUpDownCounter(
		"producer.messages.inflight",
		metric.WithDescription("Messages constructed but not yet completed"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(gate.InFlight())
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesInFlight gauge: %w", err)
	}

	m.messageSize, err = m.meter.Int64Histogram(
		"producer.message.size.bytes",
		metric.WithDescription("Distribution of produced message sizes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageSize histogram: %w", err)
	}

	return m, nil
}

// RecordProduce records a successfully enqueued message of the given
// payload-plus-key size for topic.
func (m *Metrics) RecordProduce(ctx context.Context, topic string, size int) {
	attrs := metric.WithAttributes(attribute.String("topic", topic))
	m.messagesProduced.Add(ctx, 1, attrs)
	m.bytesProduced.Add(ctx, int64(size), attrs)
	m.messageSize.Record(ctx, int64(size), attrs)
}

// RecordError records a rejected produce call.
func (m *Metrics) RecordError(ctx context.Context, topic, kind string) {
	m.produceErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("kind", kind),
	))
}

// RecordTimeout records n messages moved to the timed-out path for topic.
func (m *Metrics) RecordTimeout(ctx context.Context, topic string, n int) {
	m.messagesTimedOut.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("topic", topic),
	))
}
