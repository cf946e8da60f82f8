// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package link

import (
	"fmt"
	"time"
)

// Stats tracks per-session frame and byte counters. Transient link
// errors never surface to the caller except through these counters.
type Stats struct {
	StartTime time.Time

	FramesSent     uint64
	FramesReceived uint64
	BytesSent      uint64
	BytesReceived  uint64

	IFramesSent     uint64
	IFramesReceived uint64

	Retransmissions uint64
	DuplicatesRcvd  uint64
	RejectsSent     uint64
}

// NewStats creates a zeroed tracker stamped with the current time.
func NewStats() Stats {
	return Stats{StartTime: time.Now()}
}

// String returns a formatted statistics summary.
func (s *Stats) String() string {
	elapsed := time.Since(s.StartTime)

	var retransPercent float64
	if s.IFramesSent > 0 {
		retransPercent = float64(s.Retransmissions) * 100.0 / float64(s.IFramesSent)
	}

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames Sent:     %8d (%d bytes)\n", s.FramesSent, s.BytesSent)
	result += fmt.Sprintf("Frames Received: %8d (%d bytes)\n", s.FramesReceived, s.BytesReceived)
	result += fmt.Sprintf("I Frames:        %8d sent, %d received\n", s.IFramesSent, s.IFramesReceived)
	if s.Retransmissions > 0 {
		result += fmt.Sprintf("Retransmissions: %8d (%.1f%%)\n", s.Retransmissions, retransPercent)
	}
	if s.DuplicatesRcvd > 0 {
		result += fmt.Sprintf("Duplicates Rcvd: %8d\n", s.DuplicatesRcvd)
	}
	if s.RejectsSent > 0 {
		result += fmt.Sprintf("Rejects Sent:    %8d\n", s.RejectsSent)
	}
	result += "======================================\n"
	return result
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	*s = NewStats()
}
