// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package axdp

// dupKey identifies one message for duplicate suppression.
type dupKey struct {
	session uint32
	message uint32
}

// DupTracker is a bounded recent-message tracker. Radio-level
// retransmission re-delivers whole messages; chat and file handlers
// consult the tracker to avoid double-display and double-write.
type DupTracker struct {
	capacity int
	seen     map[dupKey]struct{}
	order    []dupKey
}

// NewDupTracker creates a tracker remembering up to capacity entries,
// with FIFO eviction once full.
func NewDupTracker(capacity int) *DupTracker {
	if capacity < 1 {
		capacity = 1
	}
	return &DupTracker{
		capacity: capacity,
		seen:     make(map[dupKey]struct{}, capacity),
	}
}

// Seen records the (session id, message id) pair and reports whether
// it was already present.
func (d *DupTracker) Seen(sessionID, messageID uint32) bool {
	k := dupKey{session: sessionID, message: messageID}
	if _, dup := d.seen[k]; dup {
		return true
	}
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.seen[k] = struct{}{}
	d.order = append(d.order, k)
	return false
}

// Len reports how many entries are tracked.
func (d *DupTracker) Len() int {
	return len(d.order)
}
