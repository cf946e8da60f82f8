// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package link

// State is the connected-mode link state.
type State int

// Link states. Error is terminal until an explicit new connect
// attempt.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	}
	return "unknown"
}

// DefaultMaxRetries is the retry budget for T1-driven recovery.
const DefaultMaxRetries = 10

// Machine is the pure state/event/action reducer for one peer. It
// owns the sequence state and the receive reorder buffer; it performs
// no I/O and knows nothing about timers beyond emitting start/stop
// actions.
type Machine struct {
	State      State
	Seq        SeqState
	Window     int
	MaxRetries int

	// Retries counts consecutive T1 expiries. It resets to zero only
	// when V(A) advances, never on a duplicate acknowledgment.
	Retries int

	// rejSent is true while a REJ for the current receive gap is
	// outstanding; it blocks duplicate REJs until the gap fills.
	rejSent bool

	// peerBusy is set by RNR and cleared by RR/REJ.
	peerBusy bool

	// reorder buffers out-of-sequence payloads keyed by N(S).
	reorder      map[int][]byte
	reorderLimit int
}

// NewMachine creates a disconnected machine. The window is clamped to
// modulus−1; the reorder buffer is bounded by the window size.
func NewMachine(modulus, window, maxRetries int) *Machine {
	w := ClampWindow(window, modulus)
	return &Machine{
		Seq:          NewSeqState(modulus),
		Window:       w,
		MaxRetries:   maxRetries,
		reorder:      make(map[int][]byte),
		reorderLimit: w,
	}
}

// PeerBusy reports whether the peer last signalled RNR.
func (m *Machine) PeerBusy() bool {
	return m.peerBusy
}

// NextSend allocates the next send sequence number if the link is up,
// the window has room, and the peer is not busy. On success it
// advances V(S); the caller must transmit an I frame with the
// returned N(S) and buffer it for retransmission.
func (m *Machine) NextSend() (ns int, ok bool) {
	if m.State != StateConnected || m.peerBusy || !m.Seq.CanSend(m.Window) {
		return 0, false
	}
	ns = m.Seq.VS
	m.Seq.IncVS()
	return ns, true
}

// Handle processes one event and returns the ordered action list the
// caller must execute. It mutates only the machine's own fields.
func (m *Machine) Handle(ev Event) []Action {
	switch m.State {
	case StateDisconnected, StateError:
		return m.handleDown(ev)
	case StateConnecting:
		return m.handleConnecting(ev)
	case StateConnected:
		return m.handleConnected(ev)
	case StateDisconnecting:
		return m.handleDisconnecting(ev)
	}
	return nil
}

func (m *Machine) handleDown(ev Event) []Action {
	switch ev.Kind {
	case EvConnect:
		m.State = StateConnecting
		m.Retries = 0
		return []Action{{Kind: ActSendSABM}, {Kind: ActStartT1}}

	case EvSABM:
		// Peer-initiated connection.
		m.resetLink()
		m.State = StateConnected
		return []Action{
			{Kind: ActResetBuffers},
			{Kind: ActSendUA, Final: ev.PF},
			{Kind: ActStartT3},
			{Kind: ActNotifyConnected},
		}

	case EvDM:
		if m.State == StateError {
			return nil
		}
		return []Action{{Kind: ActStopT1}, notifyError("link refused by peer (DM)")}

	case EvRecoverLateUA:
		// Manager-level override: trust a UA that arrived after the
		// connect attempt was given up.
		m.resetLink()
		m.State = StateConnected
		return []Action{
			{Kind: ActResetBuffers},
			{Kind: ActStopT1},
			{Kind: ActStartT3},
			{Kind: ActNotifyConnected},
		}
	}
	// Unsolicited UA and everything else: no transition, no actions.
	return nil
}

func (m *Machine) handleConnecting(ev Event) []Action {
	switch ev.Kind {
	case EvUA:
		m.resetLink()
		m.State = StateConnected
		return []Action{
			{Kind: ActResetBuffers},
			{Kind: ActStopT1},
			{Kind: ActStartT3},
			{Kind: ActNotifyConnected},
		}

	case EvSABM:
		// Simultaneous connect attempts: accept the peer's.
		m.resetLink()
		m.State = StateConnected
		return []Action{
			{Kind: ActResetBuffers},
			{Kind: ActSendUA, Final: ev.PF},
			{Kind: ActStopT1},
			{Kind: ActStartT3},
			{Kind: ActNotifyConnected},
		}

	case EvDM:
		m.State = StateDisconnected
		return []Action{{Kind: ActStopT1}, notifyError("connection refused (DM)")}

	case EvT1Expired:
		m.Retries++
		if m.Retries > m.MaxRetries {
			m.State = StateError
			return []Action{{Kind: ActStopT1}, notifyError("connection attempt timed out")}
		}
		return []Action{{Kind: ActSendSABM}, {Kind: ActStartT1}}

	case EvDisconnect, EvForceDisconnect:
		m.State = StateDisconnected
		return []Action{{Kind: ActStopT1}, {Kind: ActNotifyDisconnected}}
	}
	return nil
}

func (m *Machine) handleConnected(ev Event) []Action {
	switch ev.Kind {
	case EvSABM:
		// Link re-establishment: zero the sequence state and drop any
		// buffered out-of-order frames, then confirm.
		m.resetLink()
		return []Action{
			{Kind: ActResetBuffers},
			{Kind: ActSendUA, Final: ev.PF},
			{Kind: ActStartT3},
		}

	case EvDisconnect:
		m.State = StateDisconnecting
		m.Retries = 0
		return []Action{{Kind: ActSendDISC}, {Kind: ActStopT3}, {Kind: ActStartT1}}

	case EvForceDisconnect:
		m.State = StateDisconnected
		return []Action{{Kind: ActStopT1}, {Kind: ActStopT3}, {Kind: ActNotifyDisconnected}}

	case EvDISC:
		m.State = StateDisconnected
		return []Action{
			{Kind: ActSendUA, Final: ev.PF},
			{Kind: ActStopT1},
			{Kind: ActStopT3},
			{Kind: ActNotifyDisconnected},
		}

	case EvDM:
		m.State = StateDisconnected
		return []Action{{Kind: ActStopT1}, {Kind: ActStopT3}, notifyError("link reset by peer (DM)")}

	case EvFRMR:
		m.State = StateError
		return []Action{{Kind: ActStopT1}, {Kind: ActStopT3}, notifyError("frame rejected by peer (FRMR)")}

	case EvRR:
		m.peerBusy = false
		return m.handleAck(ev.NR, false)

	case EvRNR:
		m.peerBusy = true
		acts := []Action{{Kind: ActStopT3}}
		return append(acts, m.handleAck(ev.NR, true)...)

	case EvREJ:
		m.peerBusy = false
		acts := m.handleAck(ev.NR, true)
		if m.Seq.Outstanding() > 0 {
			acts = append(acts, Action{Kind: ActRetransmit})
		}
		// REJ demands immediate retransmission whether or not V(A)
		// advanced.
		return append(acts, Action{Kind: ActStartT1})

	case EvIFrame:
		return m.handleIFrame(ev)

	case EvT1Expired:
		return m.handleT1Connected()

	case EvT3Expired:
		// Idle-link probe.
		return []Action{sendRR(m.Seq.VR, true), {Kind: ActStartT1}}
	}
	return nil
}

func (m *Machine) handleDisconnecting(ev Event) []Action {
	switch ev.Kind {
	case EvUA, EvDM:
		m.State = StateDisconnected
		return []Action{{Kind: ActStopT1}, {Kind: ActNotifyDisconnected}}

	case EvT1Expired:
		m.Retries++
		if m.Retries > m.MaxRetries {
			// The peer's silence is evidence the link is already
			// gone: soft success, not an error.
			m.State = StateDisconnected
			return []Action{{Kind: ActStopT1}, {Kind: ActNotifyDisconnected}}
		}
		return []Action{{Kind: ActSendDISC}, {Kind: ActStartT1}}

	case EvForceDisconnect:
		m.State = StateDisconnected
		return []Action{{Kind: ActStopT1}, {Kind: ActStopT3}, {Kind: ActNotifyDisconnected}}
	}
	return nil
}

// handleAck applies a received N(R) to the send side. suppressT3
// keeps the idle probe quiet for RNR and REJ, which are not evidence
// of an idle healthy link.
func (m *Machine) handleAck(nr int, suppressT3 bool) []Action {
	progressed := m.Seq.AckUpTo(nr)
	if progressed {
		m.Retries = 0
	}
	var acts []Action
	outstanding := m.Seq.Outstanding()
	switch {
	case outstanding == 0 && progressed:
		acts = append(acts, Action{Kind: ActStopT1})
		if !suppressT3 {
			acts = append(acts, Action{Kind: ActStartT3})
		}
	case outstanding > 0 && progressed:
		// Partial acknowledgment: T1 restarts, it never merely keeps
		// running, and it is never stopped here.
		acts = append(acts, Action{Kind: ActStartT1})
	}
	return acts
}

func (m *Machine) handleIFrame(ev Event) []Action {
	// The piggy-backed N(R) is processed exactly like a standalone RR.
	acts := m.handleAck(ev.NR, false)

	dist := m.Seq.RecvDistance(ev.NS)
	switch {
	case dist == 0:
		// In sequence: deliver, advance, drain any buffered frames
		// the arrival unblocked, then acknowledge the new V(R).
		m.rejSent = false
		acts = append(acts, Action{Kind: ActDeliver, Payload: ev.Payload})
		m.Seq.IncVR()
		for {
			p, ok := m.reorder[m.Seq.VR]
			if !ok {
				break
			}
			delete(m.reorder, m.Seq.VR)
			acts = append(acts, Action{Kind: ActDeliver, Payload: p})
			m.Seq.IncVR()
		}
		acts = append(acts, sendRR(m.Seq.VR, ev.PF))
		acts = append(acts, Action{Kind: ActStartT3})

	case dist < m.Window:
		// A gap: buffer the frame and reject once per gap.
		m.bufferOutOfSeq(ev.NS, ev.Payload)
		if !m.rejSent {
			m.rejSent = true
			acts = append(acts, sendREJ(m.Seq.VR, ev.PF))
		} else {
			acts = append(acts, sendRR(m.Seq.VR, ev.PF))
		}

	default:
		// Already-acknowledged duplicate: re-acknowledge only.
		acts = append(acts, sendRR(m.Seq.VR, ev.PF))
	}
	return acts
}

// bufferOutOfSeq stores an out-of-sequence payload. An exact
// re-delivery never overwrites the buffered copy. When the buffer is
// full the entry farthest from V(R) is evicted, keeping the frames
// nearest completion. Forward modular distance is unique per sequence
// number, so the farthest entry is unambiguous; the incoming frame
// itself loses if it is the farthest.
func (m *Machine) bufferOutOfSeq(ns int, payload []byte) {
	if _, dup := m.reorder[ns]; dup {
		return
	}
	if len(m.reorder) >= m.reorderLimit {
		farthest, fdist := -1, -1
		for k := range m.reorder {
			if d := m.Seq.RecvDistance(k); d > fdist {
				farthest, fdist = k, d
			}
		}
		if m.Seq.RecvDistance(ns) > fdist {
			return // incoming frame is the farthest; drop it
		}
		delete(m.reorder, farthest)
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.reorder[ns] = buf
}

func (m *Machine) handleT1Connected() []Action {
	if m.Seq.Outstanding() == 0 {
		// An idle link has nothing to retransmit and must not
		// spuriously probe.
		return nil
	}
	m.Retries++
	if m.Retries > m.MaxRetries {
		m.State = StateError
		return []Action{{Kind: ActStopT3}, notifyError("retry limit exceeded")}
	}
	// Resend everything outstanding, stamped with the current V(R),
	// and poll the peer to reveal its state.
	return []Action{
		{Kind: ActRetransmit},
		sendRR(m.Seq.VR, true),
		{Kind: ActStartT1},
	}
}

// resetLink zeroes sequence state and reception bookkeeping for a new
// or re-established connection.
func (m *Machine) resetLink() {
	m.Seq.Reset()
	m.Retries = 0
	m.rejSent = false
	m.peerBusy = false
	m.reorder = make(map[int][]byte)
}

// ReorderLen reports how many out-of-sequence payloads are buffered.
func (m *Machine) ReorderLen() int {
	return len(m.reorder)
}
