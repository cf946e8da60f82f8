// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package link

import (
	"strings"
	"time"

	"github.com/radiogear/paxterm/pkg/ax25"
)

// SessionKey identifies one data-link session by peer address,
// digipeater path, and TNC port.
type SessionKey struct {
	Peer string
	Path string
	Port uint8
}

func newSessionKey(remote ax25.Address, path []ax25.Address, port uint8) SessionKey {
	return SessionKey{
		Peer: ax25.Address{Call: remote.Call, SSID: remote.SSID}.String(),
		Path: pathString(path),
		Port: port,
	}
}

// pathString canonicalizes a digipeater path for keying, ignoring the
// has-been-repeated flags, which change in flight.
func pathString(path []ax25.Address) string {
	if len(path) == 0 {
		return ""
	}
	parts := make([]string, len(path))
	for i, a := range path {
		parts[i] = ax25.Address{Call: a.Call, SSID: a.SSID}.String()
	}
	return strings.Join(parts, ",")
}

func (k SessionKey) String() string {
	s := k.Peer
	if k.Path != "" {
		s += " via " + k.Path
	}
	return s
}

// sentFrame is one unacknowledged outbound payload. The payload is
// preserved as first built; only the N(R) stamp is refreshed when the
// frame is retransmitted.
type sentFrame struct {
	payload       []byte
	sentAt        time.Time
	retransmitted bool
}

// Session holds everything the manager tracks for one peer: the state
// machine, the retransmission timer, the send buffer keyed by
// sequence number, the queue of payloads waiting for window space,
// and statistics.
type Session struct {
	Key    SessionKey
	Remote ax25.Address
	Path   []ax25.Address
	Port   uint8

	M     *Machine
	T1    RetryTimer
	Stats Stats

	sendBuf map[int]*sentFrame
	pending [][]byte

	// Timer generations invalidate in-flight timeout callbacks: a
	// delivered token with a stale generation is dropped.
	t1Gen, t3Gen         uint64
	t1Running, t3Running bool
}

func newSession(key SessionKey, remote ax25.Address, path []ax25.Address, port uint8, cfg Config) *Session {
	return &Session{
		Key:     key,
		Remote:  remote,
		Path:    path,
		Port:    port,
		M:       NewMachine(cfg.Modulus, cfg.Window, cfg.MaxRetries),
		T1:      NewRetryTimer(),
		Stats:   NewStats(),
		sendBuf: make(map[int]*sentFrame),
	}
}

// State returns the session's link state.
func (s *Session) State() State {
	return s.M.State
}

// PendingLen reports how many payloads wait for window space.
func (s *Session) PendingLen() int {
	return len(s.pending)
}

// OutstandingLen reports the send buffer size, which always equals the
// sequence state's outstanding count.
func (s *Session) OutstandingLen() int {
	return len(s.sendBuf)
}

// FramesToRetransmit returns the sequence numbers of buffered frames
// in the outstanding range starting at from, in transmission order
// across modulus wraparound.
func (s *Session) FramesToRetransmit(from int) []int {
	mod := s.M.Seq.Modulus
	var out []int
	for ns := from % mod; ns != s.M.Seq.VS; ns = (ns + 1) % mod {
		if _, ok := s.sendBuf[ns]; ok {
			out = append(out, ns)
		}
		if len(out) > mod {
			break
		}
	}
	return out
}

// AcknowledgeUpTo removes exactly the send buffer entries with
// sequence numbers in [va, nr), handling wraparound (VA=6, NR=2 under
// modulo 8 removes 6,7,0,1). It returns the removed frames in
// acknowledgment order.
func (s *Session) AcknowledgeUpTo(va, nr int) []*sentFrame {
	mod := s.M.Seq.Modulus
	var removed []*sentFrame
	for ns := va % mod; ns != nr%mod; ns = (ns + 1) % mod {
		if f, ok := s.sendBuf[ns]; ok {
			removed = append(removed, f)
			delete(s.sendBuf, ns)
		}
		if len(removed) > mod {
			break
		}
	}
	return removed
}

// resetSendSide drops retransmission bookkeeping after a link reset.
// Queued payloads survive; they will be sent on the fresh link.
func (s *Session) resetSendSide() {
	s.sendBuf = make(map[int]*sentFrame)
}
