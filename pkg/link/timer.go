// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package link

import "time"

// Retransmission timer bounds. The RTO is always clamped into this
// range, including after backoff.
const (
	MinRTO     = 1 * time.Second
	MaxRTO     = 30 * time.Second
	DefaultRTO = 3 * time.Second
)

// DefaultT3 is the idle-link keepalive probe interval.
const DefaultT3 = 180 * time.Second

// RetryTimer computes the adaptive T1 retransmission interval from
// smoothed round-trip time and variance, with exponential backoff on
// consecutive timeouts.
type RetryTimer struct {
	srtt      time.Duration
	rttvar    time.Duration
	rto       time.Duration
	hasSample bool
}

// NewRetryTimer returns a timer at the default interval, before any
// RTT sample has arrived.
func NewRetryTimer() RetryTimer {
	return RetryTimer{rto: DefaultRTO}
}

// UpdateRTT folds a round-trip sample into the smoothed estimate. The
// first sample initializes srtt directly; later samples blend with
// gains 1/8 for srtt and 1/4 for rttvar. RTO becomes
// srtt + 4×rttvar, clamped to [MinRTO, MaxRTO].
func (t *RetryTimer) UpdateRTT(sample time.Duration) {
	if !t.hasSample {
		t.srtt = sample
		t.rttvar = sample / 2
		t.hasSample = true
	} else {
		diff := t.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		t.rttvar = (3*t.rttvar + diff) / 4
		t.srtt = (7*t.srtt + sample) / 8
	}
	t.rto = clampRTO(t.srtt + 4*t.rttvar)
}

// Backoff doubles the current interval, keeping it under the ceiling.
func (t *RetryTimer) Backoff() {
	t.rto = clampRTO(t.rto * 2)
}

// RTO returns the current retransmission interval.
func (t *RetryTimer) RTO() time.Duration {
	return t.rto
}

// SRTT returns the smoothed round-trip time estimate (zero before the
// first sample).
func (t *RetryTimer) SRTT() time.Duration {
	return t.srtt
}

func clampRTO(d time.Duration) time.Duration {
	if d < MinRTO {
		return MinRTO
	}
	if d > MaxRTO {
		return MaxRTO
	}
	return d
}
