// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

package produce

import "sync/atomic"

// AdmissionGate bounds the number of in-flight messages for one producer:
// constructed but not yet transmitted, timed out or failed. The counter is
// owned by the producer instance and shared with every Message it creates,
// never a process-wide global.
type AdmissionGate struct {
	inFlight atomic.Int64
	max      int64
}

// NewAdmissionGate creates a gate with the given in-flight ceiling.
func NewAdmissionGate(max int64) *AdmissionGate {
	return &AdmissionGate{max: max}
}

// TryAcquire reserves one in-flight slot. It returns false without holding
// a slot when the reservation would exceed the ceiling.
func (g *AdmissionGate) TryAcquire() bool {
	if g.inFlight.Add(1) > g.max {
		g.inFlight.Add(-1)
		return false
	}
	return true
}

// Release returns one in-flight slot.
func (g *AdmissionGate) Release() {
	if g.inFlight.Add(-1) < 0 {
		panic("produce: admission gate released below zero")
	}
}

// InFlight returns the current number of reserved slots.
func (g *AdmissionGate) InFlight() int64 {
	return g.inFlight.Load()
}

// Max returns the configured ceiling.
func (g *AdmissionGate) Max() int64 {
	return g.max
}
