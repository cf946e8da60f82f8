// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

// Package link implements the connected-mode AX.25 data link: modular
// sequence counters, adaptive retransmission timers, the per-peer
// session state machine, and the session manager that binds state
// machines to real transports and timers.
//
// The protocol core is synchronous and free of I/O. Every state
// machine event returns an ordered action list; the Manager executes
// actions against injected collaborator interfaces. Correctness
// depends on a single logical sequence of calls per session, so the
// package performs no internal locking: callers serialize access,
// typically with one event-loop goroutine per Manager.
package link

// SeqState holds the per-session sequence variables: V(S) next to
// send, V(R) next expected, V(A) oldest unacknowledged. All arithmetic
// is modulo the session modulus, fixed at creation.
type SeqState struct {
	VS      int
	VR      int
	VA      int
	Modulus int
}

// NewSeqState creates zeroed sequence state for the given modulus
// (8 or 128).
func NewSeqState(modulus int) SeqState {
	return SeqState{Modulus: modulus}
}

// Reset zeroes all three counters, as required on (re-)establishment.
func (s *SeqState) Reset() {
	s.VS, s.VR, s.VA = 0, 0, 0
}

// IncVS advances the send counter with wraparound.
func (s *SeqState) IncVS() {
	s.VS = (s.VS + 1) % s.Modulus
}

// IncVR advances the receive counter with wraparound.
func (s *SeqState) IncVR() {
	s.VR = (s.VR + 1) % s.Modulus
}

// Outstanding returns the number of sent but unacknowledged frames,
// (V(S) − V(A)) mod modulus.
func (s *SeqState) Outstanding() int {
	return (s.VS - s.VA + s.Modulus) % s.Modulus
}

// CanSend reports whether another frame fits inside the window.
func (s *SeqState) CanSend(window int) bool {
	return s.Outstanding() < window
}

// AckUpTo advances V(A) to nr and reports whether it moved. The
// distance is computed modularly so that a wrapped acknowledgment
// (e.g. V(A)=6, N(R)=2 under modulo 8 acknowledging 6,7,0,1) works.
// An nr outside the outstanding range, including nr == V(A), never
// moves V(A) backward and reports no progress.
func (s *SeqState) AckUpTo(nr int) bool {
	dist := (nr - s.VA + s.Modulus) % s.Modulus
	if dist == 0 || dist > s.Outstanding() {
		return false
	}
	s.VA = nr % s.Modulus
	return true
}

// RecvDistance returns the forward modular distance from V(R) to ns:
// 0 means in sequence, values below the window size mean a gap, and
// anything else is an already-acknowledged duplicate.
func (s *SeqState) RecvDistance(ns int) int {
	return (ns - s.VR + s.Modulus) % s.Modulus
}

// ClampWindow bounds a window size to at most modulus−1, the largest
// window for which sequence numbers remain unambiguous.
func ClampWindow(window, modulus int) int {
	if window < 1 {
		return 1
	}
	if window > modulus-1 {
		return modulus - 1
	}
	return window
}
