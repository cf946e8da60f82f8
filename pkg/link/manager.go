// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package link

import (
	"fmt"
	"time"

	"github.com/radiogear/paxterm/pkg/ax25"
	"github.com/radiogear/paxterm/pkg/kiss"
)

// Transport sends already-framed wire bytes. Implementations wrap a
// serial port, TCP socket, or WebSocket; the manager never blocks on
// anything beyond the Send call itself.
type Transport interface {
	Send(p []byte) error
}

// TimerID distinguishes the two logical timers of a session.
type TimerID int

// Session timers
const (
	TimerT1 TimerID = iota // retransmission
	TimerT3                // idle-link keepalive
)

// TimerToken identifies one scheduled timeout. The generation makes
// restarts cancel stale in-flight callbacks: the manager drops any
// delivered token whose generation no longer matches the session's.
type TimerToken struct {
	Key SessionKey
	ID  TimerID
	Gen uint64
}

// TimerService owns real timers on behalf of the core. Timeout
// delivery must feed the token back through the same serialized event
// stream that carries inbound frames.
type TimerService interface {
	Schedule(d time.Duration, token TimerToken)
	Cancel(token TimerToken)
}

// Callbacks receive fire-and-forget notifications. Nil members are
// skipped. The manager never queries callbacks synchronously.
type Callbacks struct {
	OnData        func(key SessionKey, payload []byte)
	OnStateChange func(key SessionKey, state State, reason string)
	// OnUI receives connectionless UI frames, which carry no session.
	OnUI func(port uint8, f *ax25.Frame)
	// Telemetry taps for monitor views.
	OnFrameSent     func(port uint8, f *ax25.Frame)
	OnFrameReceived func(port uint8, f *ax25.Frame)
}

// Config carries the tunable link parameters.
type Config struct {
	Modulus         int           // 8 or 128; default 8
	Window          int           // outstanding frame limit; default 4
	MaxRetries      int           // T1 retry budget; default 10
	MaxFramePayload int           // I frame payload limit; default 256
	T3Interval      time.Duration // keepalive probe interval
}

func (c Config) withDefaults() Config {
	if c.Modulus == 0 {
		c.Modulus = ax25.Modulus8
	}
	if c.Window == 0 {
		c.Window = 4
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxFramePayload == 0 {
		c.MaxFramePayload = 256
	}
	if c.T3Interval == 0 {
		c.T3Interval = DefaultT3
	}
	return c
}

// Manager owns one state machine per (peer, path, port) key and
// executes their action lists against the injected transport, timer
// service, and callbacks. It performs no locking: all calls for a
// given manager must come from one logical event sequence.
type Manager struct {
	local     ax25.Address
	cfg       Config
	transport Transport
	timers    TimerService
	cb        Callbacks
	sessions  map[SessionKey]*Session
}

// NewManager creates a manager for the given local station identity.
func NewManager(local ax25.Address, cfg Config, transport Transport, timers TimerService, cb Callbacks) *Manager {
	return &Manager{
		local:     local,
		cfg:       cfg.withDefaults(),
		transport: transport,
		timers:    timers,
		cb:        cb,
		sessions:  make(map[SessionKey]*Session),
	}
}

// Local returns the local station address.
func (m *Manager) Local() ax25.Address {
	return m.local
}

// SetLocal changes the local identity. Every existing session is
// addressed to the old identity so all of them are purged, with a
// forced disconnect for any that are not idle.
func (m *Manager) SetLocal(addr ax25.Address) {
	m.PurgeAll()
	m.local = addr
}

// PurgeAll force-disconnects and removes every session.
func (m *Manager) PurgeAll() {
	for key, s := range m.sessions {
		if s.M.State != StateDisconnected && s.M.State != StateError {
			m.exec(s, s.M.Handle(Event{Kind: EvForceDisconnect}))
		}
		m.stopTimer(s, TimerT1)
		m.stopTimer(s, TimerT3)
		delete(m.sessions, key)
	}
}

// Session returns the session for a key, if one exists.
func (m *Manager) Session(key SessionKey) (*Session, bool) {
	s, ok := m.sessions[key]
	return s, ok
}

// Keys returns the keys of all live sessions.
func (m *Manager) Keys() []SessionKey {
	keys := make([]SessionKey, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	return keys
}

// Connect starts (or restarts) a connection attempt to the peer.
func (m *Manager) Connect(remote ax25.Address, path []ax25.Address, port uint8) (SessionKey, error) {
	if len(path) > ax25.MaxDigipeaters {
		return SessionKey{}, fmt.Errorf("digipeater path too long")
	}
	key := newSessionKey(remote, path, port)
	s, ok := m.sessions[key]
	if !ok {
		s = newSession(key, remote, path, port, m.cfg)
		m.sessions[key] = s
	}
	switch s.M.State {
	case StateDisconnected, StateError:
		m.exec(s, s.M.Handle(Event{Kind: EvConnect}))
		return key, nil
	case StateConnecting, StateConnected:
		return key, nil
	default:
		return key, fmt.Errorf("session %s is %s", key, s.M.State)
	}
}

// Disconnect starts an orderly disconnect.
func (m *Manager) Disconnect(key SessionKey) error {
	s, ok := m.sessions[key]
	if !ok {
		return fmt.Errorf("no session %s", key)
	}
	m.exec(s, s.M.Handle(Event{Kind: EvDisconnect}))
	return nil
}

// ForceDisconnect hard-resets a session without sending DISC.
func (m *Manager) ForceDisconnect(key SessionKey) error {
	s, ok := m.sessions[key]
	if !ok {
		return fmt.Errorf("no session %s", key)
	}
	m.exec(s, s.M.Handle(Event{Kind: EvForceDisconnect}))
	return nil
}

// RecoverLateUA forces a Disconnected or Error session into Connected
// state, for the case where a UA arrives after the connect attempt
// was abandoned and the operator chooses to trust it.
func (m *Manager) RecoverLateUA(key SessionKey) error {
	s, ok := m.sessions[key]
	if !ok {
		return fmt.Errorf("no session %s", key)
	}
	m.exec(s, s.M.Handle(Event{Kind: EvRecoverLateUA}))
	return nil
}

// SendData queues a payload for reliable delivery. Payloads larger
// than the frame limit are fragmented; fragments beyond the window go
// to the pending queue and drain automatically as acknowledgments
// free window space. Chunking with application semantics is the
// transfer layer's job, not the link's.
func (m *Manager) SendData(key SessionKey, payload []byte) error {
	s, ok := m.sessions[key]
	if !ok {
		return fmt.Errorf("no session %s", key)
	}
	switch s.M.State {
	case StateConnected, StateConnecting:
	default:
		return fmt.Errorf("session %s is %s", key, s.M.State)
	}
	for len(payload) > 0 {
		n := len(payload)
		if n > m.cfg.MaxFramePayload {
			n = m.cfg.MaxFramePayload
		}
		frag := make([]byte, n)
		copy(frag, payload[:n])
		s.pending = append(s.pending, frag)
		payload = payload[n:]
	}
	m.drainSend(s)
	return nil
}

// HandleFrame feeds one decoded inbound frame into the matching
// session. Frames for other stations are ignored; UI frames go to the
// OnUI callback; a supervisory or information frame with no matching
// session is silently dropped, never answered with DM and never
// allowed to create a session.
func (m *Manager) HandleFrame(port uint8, f *ax25.Frame) {
	if !f.Destination.EqualCall(m.local) {
		return
	}
	if m.cb.OnFrameReceived != nil {
		m.cb.OnFrameReceived(port, f)
	}

	if f.Control.Class == ax25.ClassU && f.Control.UType == ax25.UUI {
		if m.cb.OnUI != nil {
			m.cb.OnUI(port, f)
		}
		return
	}

	s := m.lookupSession(port, f)
	if s == nil {
		if f.Control.Class == ax25.ClassU && f.Control.UType == ax25.USABM {
			s = m.acceptIncoming(port, f)
		} else {
			return
		}
	}

	ev, ok := frameEvent(f)
	if !ok {
		return
	}
	s.Stats.FramesReceived++
	s.Stats.BytesReceived += uint64(len(f.Payload))
	if ev.Kind == EvIFrame {
		s.Stats.IFramesReceived++
	}
	m.exec(s, s.M.Handle(ev))
}

// lookupSession finds the session for an inbound frame. An exact key
// match wins; otherwise a station-id mismatch is tolerated provided
// the callsign and path match.
func (m *Manager) lookupSession(port uint8, f *ax25.Frame) *Session {
	key := newSessionKey(f.Source, f.Path, port)
	if s, ok := m.sessions[key]; ok {
		return s
	}
	for _, s := range m.sessions {
		if s.Port == port && s.Remote.EqualCall(f.Source) && s.Key.Path == pathString(f.Path) {
			return s
		}
	}
	return nil
}

// acceptIncoming creates a session for a peer-initiated SABM. The
// reply path is the inbound path reversed with repeated flags cleared.
func (m *Manager) acceptIncoming(port uint8, f *ax25.Frame) *Session {
	path := make([]ax25.Address, len(f.Path))
	for i, digi := range f.Path {
		path[len(f.Path)-1-i] = ax25.Address{Call: digi.Call, SSID: digi.SSID}
	}
	key := newSessionKey(f.Source, path, port)
	s := newSession(key, f.Source, path, port, m.cfg)
	m.sessions[key] = s
	return s
}

// frameEvent maps a decoded frame onto a state machine event. SREJ is
// handled as REJ: the machine recovers go-back-N style either way.
func frameEvent(f *ax25.Frame) (Event, bool) {
	c := f.Control
	switch c.Class {
	case ax25.ClassI:
		return Event{Kind: EvIFrame, NS: c.NS, NR: c.NR, PF: c.PF, Payload: f.Payload}, true
	case ax25.ClassS:
		kinds := map[ax25.SType]EventKind{
			ax25.SRR:   EvRR,
			ax25.SRNR:  EvRNR,
			ax25.SREJ:  EvREJ,
			ax25.SSREJ: EvREJ,
		}
		return Event{Kind: kinds[c.SType], NR: c.NR, PF: c.PF}, true
	case ax25.ClassU:
		kinds := map[ax25.UType]EventKind{
			ax25.USABM: EvSABM,
			ax25.UUA:   EvUA,
			ax25.UDISC: EvDISC,
			ax25.UDM:   EvDM,
			ax25.UFRMR: EvFRMR,
		}
		k, ok := kinds[c.UType]
		if !ok {
			return Event{}, false
		}
		return Event{Kind: k, PF: c.PF}, true
	}
	return Event{}, false
}

// HandleTimer processes a delivered timeout token. Stale generations
// are dropped, so a restarted timer can never race its own callback
// into a duplicate retransmission.
func (m *Manager) HandleTimer(token TimerToken) {
	s, ok := m.sessions[token.Key]
	if !ok {
		return
	}
	switch token.ID {
	case TimerT1:
		if !s.t1Running || token.Gen != s.t1Gen {
			return
		}
		s.t1Running = false
		s.T1.Backoff()
		m.exec(s, s.M.Handle(Event{Kind: EvT1Expired}))
	case TimerT3:
		if !s.t3Running || token.Gen != s.t3Gen {
			return
		}
		s.t3Running = false
		m.exec(s, s.M.Handle(Event{Kind: EvT3Expired}))
	}
}

// exec reconciles send-buffer state with the machine's V(A), then
// executes the action list, then drains the pending queue into any
// freed window space.
func (m *Manager) exec(s *Session, acts []Action) {
	m.reconcileAcks(s)
	for _, act := range acts {
		m.execOne(s, act)
	}
	m.drainSend(s)
}

func (m *Manager) execOne(s *Session, act Action) {
	switch act.Kind {
	case ActSendSABM:
		m.sendU(s, ax25.USABM, true)
	case ActSendUA:
		m.sendU(s, ax25.UUA, act.Final)
	case ActSendDISC:
		m.sendU(s, ax25.UDISC, true)
	case ActSendRR:
		m.sendS(s, ax25.SRR, act.NR, act.Final)
	case ActSendREJ:
		s.Stats.RejectsSent++
		m.sendS(s, ax25.SREJ, act.NR, act.Final)

	case ActStartT1:
		m.startT1(s)
	case ActStopT1:
		m.stopTimer(s, TimerT1)
	case ActStartT3:
		m.startT3(s)
	case ActStopT3:
		m.stopTimer(s, TimerT3)

	case ActDeliver:
		if m.cb.OnData != nil {
			m.cb.OnData(s.Key, act.Payload)
		}
	case ActRetransmit:
		m.retransmit(s)
	case ActResetBuffers:
		s.resetSendSide()

	case ActNotifyConnected:
		if m.cb.OnStateChange != nil {
			m.cb.OnStateChange(s.Key, StateConnected, "")
		}
	case ActNotifyDisconnected:
		if m.cb.OnStateChange != nil {
			m.cb.OnStateChange(s.Key, StateDisconnected, "")
		}
	case ActNotifyError:
		if m.cb.OnStateChange != nil {
			m.cb.OnStateChange(s.Key, s.M.State, act.Reason)
		}
	}
}

// reconcileAcks removes newly acknowledged frames from the send
// buffer and feeds an RTT sample from the freshest frame that was
// never retransmitted (retransmitted frames give ambiguous samples).
func (m *Manager) reconcileAcks(s *Session) {
	va := s.M.Seq.VA
	removed := s.AcknowledgeUpTo(ackBase(s), va)
	if len(removed) == 0 {
		return
	}
	now := time.Now()
	for i := len(removed) - 1; i >= 0; i-- {
		if !removed[i].retransmitted {
			s.T1.UpdateRTT(now.Sub(removed[i].sentAt))
			break
		}
	}
}

// ackBase finds the oldest sequence number still in the send buffer,
// i.e. the V(A) the buffer believes in. With an empty buffer it
// returns the machine's V(A), making reconciliation a no-op.
func ackBase(s *Session) int {
	mod := s.M.Seq.Modulus
	if len(s.sendBuf) == 0 {
		return s.M.Seq.VA
	}
	// Walk backward from V(S): the oldest buffered frame is the last
	// one found before the contiguous run breaks.
	base := s.M.Seq.VS
	for i := 0; i < mod; i++ {
		prev := (base - 1 + mod) % mod
		if _, ok := s.sendBuf[prev]; !ok {
			break
		}
		base = prev
	}
	return base
}

// retransmit resends every outstanding frame, stamped with the
// session's current V(R), never the N(R) captured at first build.
func (m *Manager) retransmit(s *Session) {
	for _, ns := range s.FramesToRetransmit(s.M.Seq.VA) {
		f := s.sendBuf[ns]
		f.retransmitted = true
		s.Stats.Retransmissions++
		m.sendI(s, ns, f.payload)
	}
}

// drainSend moves pending payloads into the window until it closes.
func (m *Manager) drainSend(s *Session) {
	sent := false
	for len(s.pending) > 0 {
		ns, ok := s.M.NextSend()
		if !ok {
			break
		}
		payload := s.pending[0]
		s.pending = s.pending[1:]
		s.sendBuf[ns] = &sentFrame{payload: payload, sentAt: time.Now()}
		s.Stats.IFramesSent++
		m.sendI(s, ns, payload)
		sent = true
	}
	if sent && !s.t1Running {
		m.startT1(s)
	}
}

func (m *Manager) sendI(s *Session, ns int, payload []byte) {
	f := &ax25.Frame{
		Destination: s.Remote,
		Source:      m.local,
		Path:        s.Path,
		Control:     ax25.Control{Class: ax25.ClassI, NS: ns, NR: s.M.Seq.VR},
		PID:         ax25.PIDNoLayer3,
		Payload:     payload,
	}
	m.sendFrame(s, f)
}

func (m *Manager) sendS(s *Session, st ax25.SType, nr int, final bool) {
	f := &ax25.Frame{
		Destination: s.Remote,
		Source:      m.local,
		Path:        s.Path,
		Control:     ax25.Control{Class: ax25.ClassS, SType: st, NR: nr, PF: final},
	}
	m.sendFrame(s, f)
}

func (m *Manager) sendU(s *Session, ut ax25.UType, pf bool) {
	f := &ax25.Frame{
		Destination: s.Remote,
		Source:      m.local,
		Path:        s.Path,
		Control:     ax25.Control{Class: ax25.ClassU, UType: ut, PF: pf},
	}
	m.sendFrame(s, f)
}

// sendFrame encodes through the frame codec and the framer, then
// hands the wire bytes to the transport. Send failures are absorbed
// into statistics; the retransmission machinery recovers the data.
func (m *Manager) sendFrame(s *Session, f *ax25.Frame) {
	wire, err := f.Encode()
	if err != nil {
		return
	}
	s.Stats.FramesSent++
	s.Stats.BytesSent += uint64(len(f.Payload))
	if m.cb.OnFrameSent != nil {
		m.cb.OnFrameSent(s.Port, f)
	}
	_ = m.transport.Send(kiss.Encode(s.Port, wire))
}

// SendUI transmits a connectionless UI frame outside any session.
func (m *Manager) SendUI(dest ax25.Address, path []ax25.Address, port uint8, payload []byte) error {
	f := &ax25.Frame{
		Destination: dest,
		Source:      m.local,
		Path:        path,
		Control:     ax25.Control{Class: ax25.ClassU, UType: ax25.UUI},
		PID:         ax25.PIDNoLayer3,
		Payload:     payload,
	}
	wire, err := f.Encode()
	if err != nil {
		return err
	}
	if m.cb.OnFrameSent != nil {
		m.cb.OnFrameSent(port, f)
	}
	return m.transport.Send(kiss.Encode(port, wire))
}

func (m *Manager) startT1(s *Session) {
	if s.t1Running {
		m.timers.Cancel(TimerToken{Key: s.Key, ID: TimerT1, Gen: s.t1Gen})
	}
	s.t1Gen++
	s.t1Running = true
	m.timers.Schedule(s.T1.RTO(), TimerToken{Key: s.Key, ID: TimerT1, Gen: s.t1Gen})
}

func (m *Manager) startT3(s *Session) {
	if s.t3Running {
		m.timers.Cancel(TimerToken{Key: s.Key, ID: TimerT3, Gen: s.t3Gen})
	}
	s.t3Gen++
	s.t3Running = true
	m.timers.Schedule(m.cfg.T3Interval, TimerToken{Key: s.Key, ID: TimerT3, Gen: s.t3Gen})
}

func (m *Manager) stopTimer(s *Session, id TimerID) {
	switch id {
	case TimerT1:
		if s.t1Running {
			m.timers.Cancel(TimerToken{Key: s.Key, ID: TimerT1, Gen: s.t1Gen})
			s.t1Running = false
		}
		s.t1Gen++
	case TimerT3:
		if s.t3Running {
			m.timers.Cancel(TimerToken{Key: s.Key, ID: TimerT3, Gen: s.t3Gen})
			s.t3Running = false
		}
		s.t3Gen++
	}
}
