// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package link

import (
	"bytes"
	"testing"
	"time"

	"github.com/radiogear/paxterm/pkg/ax25"
	"github.com/radiogear/paxterm/pkg/kiss"
)

// recordTransport captures every wire transmission for inspection.
type recordTransport struct {
	sent [][]byte
}

func (rt *recordTransport) Send(p []byte) error {
	buf := make([]byte, len(p))
	copy(buf, p)
	rt.sent = append(rt.sent, buf)
	return nil
}

// frames decodes everything sent so far back through the framer and
// frame codec.
func (rt *recordTransport) frames(t *testing.T) []*ax25.Frame {
	t.Helper()
	fr := kiss.NewFramer()
	var out []*ax25.Frame
	for _, wire := range rt.sent {
		for _, kf := range fr.Feed(wire) {
			f, err := ax25.Decode(kf.Payload)
			if err != nil {
				t.Fatalf("sent frame does not decode: %v", err)
			}
			out = append(out, f)
		}
	}
	return out
}

func (rt *recordTransport) reset() { rt.sent = nil }

type scheduledTimer struct {
	d     time.Duration
	token TimerToken
}

// recordTimers captures schedule and cancel calls without running any
// real timers; tests deliver expiries by calling HandleTimer directly.
type recordTimers struct {
	scheduled []scheduledTimer
	cancelled []TimerToken
}

func (rt *recordTimers) Schedule(d time.Duration, token TimerToken) {
	rt.scheduled = append(rt.scheduled, scheduledTimer{d, token})
}

func (rt *recordTimers) Cancel(token TimerToken) {
	rt.cancelled = append(rt.cancelled, token)
}

func (rt *recordTimers) last(t *testing.T, id TimerID) scheduledTimer {
	t.Helper()
	for i := len(rt.scheduled) - 1; i >= 0; i-- {
		if rt.scheduled[i].token.ID == id {
			return rt.scheduled[i]
		}
	}
	t.Fatalf("no timer with id %d scheduled", id)
	return scheduledTimer{}
}

func mustAddr(t *testing.T, s string) ax25.Address {
	t.Helper()
	a, err := ax25.ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress(%q): %v", s, err)
	}
	return a
}

type managerFixture struct {
	m      *Manager
	tr     *recordTransport
	timers *recordTimers
	remote ax25.Address

	states   []State
	reasons  []string
	received [][]byte
	ui       []*ax25.Frame
}

func newFixture(t *testing.T, cfg Config) *managerFixture {
	t.Helper()
	fx := &managerFixture{
		tr:     &recordTransport{},
		timers: &recordTimers{},
		remote: mustAddr(t, "K4ABC-1"),
	}
	cb := Callbacks{
		OnData: func(_ SessionKey, payload []byte) {
			buf := make([]byte, len(payload))
			copy(buf, payload)
			fx.received = append(fx.received, buf)
		},
		OnStateChange: func(_ SessionKey, state State, reason string) {
			fx.states = append(fx.states, state)
			fx.reasons = append(fx.reasons, reason)
		},
		OnUI: func(_ uint8, f *ax25.Frame) {
			fx.ui = append(fx.ui, f)
		},
	}
	fx.m = NewManager(mustAddr(t, "N0CALL"), cfg, fx.tr, fx.timers, cb)
	return fx
}

// inbound builds a frame from the remote peer addressed to the local
// station and feeds it in.
func (fx *managerFixture) inbound(ctrl ax25.Control, payload []byte) {
	fx.m.HandleFrame(0, &ax25.Frame{
		Destination: fx.m.Local(),
		Source:      fx.remote,
		Control:     ctrl,
		PID:         ax25.PIDNoLayer3,
		Payload:     payload,
	})
}

// connect drives the fixture through the SABM/UA handshake.
func (fx *managerFixture) connect(t *testing.T) SessionKey {
	t.Helper()
	key, err := fx.m.Connect(fx.remote, nil, 0)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	fx.inbound(ax25.Control{Class: ax25.ClassU, UType: ax25.UUA, PF: true}, nil)
	s, ok := fx.m.Session(key)
	if !ok || s.State() != StateConnected {
		t.Fatalf("handshake failed: session=%v state=%v", ok, s.State())
	}
	fx.tr.reset()
	return key
}

func sentIFrames(t *testing.T, tr *recordTransport) []*ax25.Frame {
	t.Helper()
	var out []*ax25.Frame
	for _, f := range tr.frames(t) {
		if f.Control.Class == ax25.ClassI {
			out = append(out, f)
		}
	}
	return out
}

func TestManager_ConnectHandshake(t *testing.T) {
	fx := newFixture(t, Config{})
	key, err := fx.m.Connect(fx.remote, nil, 0)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	frames := fx.tr.frames(t)
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1 SABM", len(frames))
	}
	sabm := frames[0]
	if sabm.Control.UType != ax25.USABM || !sabm.Control.PF {
		t.Errorf("first frame = %s, want polled SABM", sabm)
	}
	if !sabm.Destination.Equal(fx.remote) {
		t.Errorf("SABM addressed to %s", sabm.Destination)
	}
	t1 := fx.timers.last(t, TimerT1)
	if t1.d != DefaultRTO {
		t.Errorf("T1 interval = %v, want %v", t1.d, DefaultRTO)
	}

	fx.inbound(ax25.Control{Class: ax25.ClassU, UType: ax25.UUA, PF: true}, nil)
	s, _ := fx.m.Session(key)
	if s.State() != StateConnected {
		t.Fatalf("state = %v after UA", s.State())
	}
	if len(fx.states) != 1 || fx.states[0] != StateConnected {
		t.Errorf("state changes = %v", fx.states)
	}
	fx.timers.last(t, TimerT3) // keepalive must be armed
	if len(fx.timers.cancelled) == 0 || fx.timers.cancelled[len(fx.timers.cancelled)-1].ID != TimerT1 {
		t.Error("T1 not cancelled after UA")
	}
}

func TestManager_SendDataFragmentsToWindow(t *testing.T) {
	fx := newFixture(t, Config{Window: 4, MaxFramePayload: 10})
	key := fx.connect(t)

	payload := bytes.Repeat([]byte("x"), 55) // 6 fragments of <= 10
	if err := fx.m.SendData(key, payload); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	iframes := sentIFrames(t, fx.tr)
	if len(iframes) != 4 {
		t.Fatalf("sent %d I frames, want window of 4", len(iframes))
	}
	for i, f := range iframes {
		if f.Control.NS != i {
			t.Errorf("frame %d has N(S)=%d", i, f.Control.NS)
		}
		if len(f.Payload) != 10 {
			t.Errorf("frame %d payload length %d", i, len(f.Payload))
		}
	}
	s, _ := fx.m.Session(key)
	if s.PendingLen() != 2 || s.OutstandingLen() != 4 {
		t.Errorf("pending=%d outstanding=%d, want 2/4", s.PendingLen(), s.OutstandingLen())
	}

	// Acknowledging two frames frees window space: the pending queue
	// drains and the buffer keeps only the unacknowledged tail.
	fx.tr.reset()
	fx.inbound(ax25.Control{Class: ax25.ClassS, SType: ax25.SRR, NR: 2}, nil)
	iframes = sentIFrames(t, fx.tr)
	if len(iframes) != 2 {
		t.Fatalf("drained %d I frames after ack, want 2", len(iframes))
	}
	if iframes[0].Control.NS != 4 || iframes[1].Control.NS != 5 {
		t.Errorf("drained N(S) = %d,%d, want 4,5", iframes[0].Control.NS, iframes[1].Control.NS)
	}
	if s.PendingLen() != 0 || s.OutstandingLen() != 4 {
		t.Errorf("pending=%d outstanding=%d after drain", s.PendingLen(), s.OutstandingLen())
	}
}

func TestManager_AckRemovesExactlyAcknowledgedFrames(t *testing.T) {
	fx := newFixture(t, Config{Window: 7, MaxFramePayload: 1})
	key := fx.connect(t)

	if err := fx.m.SendData(key, []byte("abcdefg")); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	s, _ := fx.m.Session(key)
	if s.OutstandingLen() != 7 {
		t.Fatalf("outstanding = %d", s.OutstandingLen())
	}

	fx.inbound(ax25.Control{Class: ax25.ClassS, SType: ax25.SRR, NR: 4}, nil)
	if s.OutstandingLen() != 3 {
		t.Fatalf("outstanding = %d after RR(4), want 3", s.OutstandingLen())
	}
	if got := s.FramesToRetransmit(4); len(got) != 3 || got[0] != 4 || got[1] != 5 || got[2] != 6 {
		t.Errorf("retained frames = %v, want [4 5 6]", got)
	}

	// Successive acks up to and past the wrap empty the buffer.
	for _, nr := range []int{5, 6, 7} {
		fx.inbound(ax25.Control{Class: ax25.ClassS, SType: ax25.SRR, NR: nr}, nil)
	}
	if s.OutstandingLen() != 0 {
		t.Errorf("outstanding = %d after full ack", s.OutstandingLen())
	}
}

func TestSession_AcknowledgeUpToWraparound(t *testing.T) {
	s := newSession(SessionKey{Peer: "K4ABC-1"}, ax25.Address{Call: "K4ABC", SSID: 1}, nil, 0, Config{}.withDefaults())
	s.M.Seq.VA, s.M.Seq.VS = 6, 2
	for _, ns := range []int{6, 7, 0, 1} {
		s.sendBuf[ns] = &sentFrame{payload: []byte{byte(ns)}}
	}

	removed := s.AcknowledgeUpTo(6, 2)
	if len(removed) != 4 {
		t.Fatalf("removed %d frames, want 4", len(removed))
	}
	for i, want := range []byte{6, 7, 0, 1} {
		if removed[i].payload[0] != want {
			t.Errorf("removed[%d] = %d, want %d", i, removed[i].payload[0], want)
		}
	}
	if s.OutstandingLen() != 0 {
		t.Errorf("buffer not empty: %d", s.OutstandingLen())
	}
}

func TestSession_FramesToRetransmitWraparound(t *testing.T) {
	s := newSession(SessionKey{Peer: "K4ABC-1"}, ax25.Address{Call: "K4ABC", SSID: 1}, nil, 0, Config{}.withDefaults())
	s.M.Seq.VA, s.M.Seq.VS = 6, 2
	for _, ns := range []int{6, 7, 0, 1} {
		s.sendBuf[ns] = &sentFrame{payload: []byte{byte(ns)}}
	}
	got := s.FramesToRetransmit(6)
	want := []int{6, 7, 0, 1}
	if len(got) != len(want) {
		t.Fatalf("FramesToRetransmit = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FramesToRetransmit = %v, want %v", got, want)
		}
	}
}

func TestManager_NoSessionSilentIgnore(t *testing.T) {
	fx := newFixture(t, Config{})

	// Supervisory and information frames with no matching session are
	// dropped without a DM response and without creating state.
	fx.inbound(ax25.Control{Class: ax25.ClassS, SType: ax25.SRR, NR: 3}, nil)
	fx.inbound(ax25.Control{Class: ax25.ClassI, NS: 0, NR: 0}, []byte("stray"))
	fx.inbound(ax25.Control{Class: ax25.ClassU, UType: ax25.UDISC, PF: true}, nil)

	if len(fx.tr.sent) != 0 {
		t.Errorf("responded to sessionless frames: %d transmissions", len(fx.tr.sent))
	}
	if len(fx.m.Keys()) != 0 {
		t.Errorf("sessions created: %v", fx.m.Keys())
	}
}

func TestManager_IncomingSABMCreatesSession(t *testing.T) {
	fx := newFixture(t, Config{})
	digi := mustAddr(t, "RELAY-2")
	digi.Repeated = true
	fx.m.HandleFrame(0, &ax25.Frame{
		Destination: fx.m.Local(),
		Source:      fx.remote,
		Path:        []ax25.Address{digi, mustAddr(t, "WIDE1-1")},
		Control:     ax25.Control{Class: ax25.ClassU, UType: ax25.USABM, PF: true},
	})

	keys := fx.m.Keys()
	if len(keys) != 1 {
		t.Fatalf("sessions = %v", keys)
	}
	s, _ := fx.m.Session(keys[0])
	if s.State() != StateConnected {
		t.Errorf("state = %v", s.State())
	}
	// Reply path is the inbound path reversed, repeated flags cleared.
	if len(s.Path) != 2 || s.Path[0].Call != "WIDE1" || s.Path[1].Call != "RELAY" {
		t.Errorf("reply path = %v", s.Path)
	}
	for _, a := range s.Path {
		if a.Repeated {
			t.Errorf("repeated flag kept on %s", a)
		}
	}

	frames := fx.tr.frames(t)
	if len(frames) != 1 || frames[0].Control.UType != ax25.UUA || !frames[0].Control.PF {
		t.Fatalf("response = %v, want final UA", frames)
	}
}

func TestManager_SSIDMismatchTolerated(t *testing.T) {
	fx := newFixture(t, Config{})
	key, err := fx.m.Connect(fx.remote, nil, 0) // K4ABC-1
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The UA comes back from K4ABC-2; callsign and path still match.
	fx.m.HandleFrame(0, &ax25.Frame{
		Destination: fx.m.Local(),
		Source:      mustAddr(t, "K4ABC-2"),
		Control:     ax25.Control{Class: ax25.ClassU, UType: ax25.UUA, PF: true},
	})

	s, _ := fx.m.Session(key)
	if s.State() != StateConnected {
		t.Errorf("state = %v, want connected despite station-id mismatch", s.State())
	}
	if len(fx.m.Keys()) != 1 {
		t.Errorf("sessions = %v, want exactly the original", fx.m.Keys())
	}
}

func TestManager_REJRetransmitsWithCurrentVR(t *testing.T) {
	fx := newFixture(t, Config{Window: 4, MaxFramePayload: 4})
	key := fx.connect(t)

	if err := fx.m.SendData(key, []byte("aaaabbbbcccc")); err != nil { // N(S) 0,1,2
		t.Fatalf("SendData: %v", err)
	}

	// An I frame from the peer advances our V(R) to 1 before the REJ
	// arrives.
	fx.inbound(ax25.Control{Class: ax25.ClassI, NS: 0, NR: 1}, []byte("peer"))
	fx.tr.reset()

	fx.inbound(ax25.Control{Class: ax25.ClassS, SType: ax25.SREJ, NR: 1}, nil)
	iframes := sentIFrames(t, fx.tr)
	if len(iframes) != 2 {
		t.Fatalf("retransmitted %d frames, want 2", len(iframes))
	}
	for i, f := range iframes {
		if f.Control.NS != i+1 {
			t.Errorf("retransmission %d has N(S)=%d, want %d", i, f.Control.NS, i+1)
		}
		if f.Control.NR != 1 {
			t.Errorf("retransmission N(S)=%d stamped N(R)=%d, want current V(R) 1", f.Control.NS, f.Control.NR)
		}
	}
	s, _ := fx.m.Session(key)
	if s.Stats.Retransmissions != 2 {
		t.Errorf("retransmission count = %d", s.Stats.Retransmissions)
	}
}

func TestManager_SREJHandledAsREJ(t *testing.T) {
	fx := newFixture(t, Config{MaxFramePayload: 4})
	key := fx.connect(t)
	if err := fx.m.SendData(key, []byte("aaaabbbb")); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	fx.tr.reset()

	fx.inbound(ax25.Control{Class: ax25.ClassS, SType: ax25.SSREJ, NR: 0}, nil)
	if got := len(sentIFrames(t, fx.tr)); got != 2 {
		t.Errorf("SREJ triggered %d retransmissions, want go-back-N over both", got)
	}
}

func TestManager_T1ExpiryRetransmitsAndBacksOff(t *testing.T) {
	fx := newFixture(t, Config{MaxFramePayload: 8})
	key := fx.connect(t)
	if err := fx.m.SendData(key, []byte("payload")); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	token := fx.timers.last(t, TimerT1).token
	fx.tr.reset()

	fx.m.HandleTimer(token)

	frames := fx.tr.frames(t)
	var sawI, sawPoll bool
	for _, f := range frames {
		if f.Control.Class == ax25.ClassI {
			sawI = true
		}
		if f.Control.Class == ax25.ClassS && f.Control.SType == ax25.SRR && f.Control.PF {
			sawPoll = true
		}
	}
	if !sawI || !sawPoll {
		t.Errorf("timeout recovery frames = %v, want retransmission plus RR poll", frames)
	}
	rearm := fx.timers.last(t, TimerT1)
	if rearm.d != 2*DefaultRTO {
		t.Errorf("rearmed T1 = %v, want backed-off %v", rearm.d, 2*DefaultRTO)
	}
	s, _ := fx.m.Session(key)
	if s.M.Retries != 1 {
		t.Errorf("retries = %d", s.M.Retries)
	}
}

func TestManager_StaleTimerTokenDropped(t *testing.T) {
	fx := newFixture(t, Config{})
	if _, err := fx.m.Connect(fx.remote, nil, 0); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	stale := fx.timers.last(t, TimerT1).token

	// The UA stops T1 and bumps the generation; the in-flight expiry
	// must be discarded rather than resend SABM.
	fx.inbound(ax25.Control{Class: ax25.ClassU, UType: ax25.UUA, PF: true}, nil)
	fx.tr.reset()

	fx.m.HandleTimer(stale)
	if len(fx.tr.sent) != 0 {
		t.Errorf("stale timer caused %d transmissions", len(fx.tr.sent))
	}
}

func TestManager_NoRTTSampleFromRetransmittedFrame(t *testing.T) {
	fx := newFixture(t, Config{MaxFramePayload: 8})
	key := fx.connect(t)
	if err := fx.m.SendData(key, []byte("payload")); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	fx.m.HandleTimer(fx.timers.last(t, TimerT1).token) // retransmits frame 0

	fx.inbound(ax25.Control{Class: ax25.ClassS, SType: ax25.SRR, NR: 1}, nil)
	s, _ := fx.m.Session(key)
	if s.OutstandingLen() != 0 {
		t.Fatalf("outstanding = %d", s.OutstandingLen())
	}
	if s.T1.SRTT() != 0 {
		t.Errorf("SRTT = %v, want no sample from a retransmitted frame", s.T1.SRTT())
	}
}

func TestManager_InboundDataDelivered(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.connect(t)

	fx.inbound(ax25.Control{Class: ax25.ClassI, NS: 0, NR: 0, PF: true}, []byte("hello"))
	if len(fx.received) != 1 || string(fx.received[0]) != "hello" {
		t.Fatalf("delivered %q", fx.received)
	}
	frames := fx.tr.frames(t)
	var rr *ax25.Frame
	for _, f := range frames {
		if f.Control.Class == ax25.ClassS && f.Control.SType == ax25.SRR {
			rr = f
		}
	}
	if rr == nil || rr.Control.NR != 1 || !rr.Control.PF {
		t.Errorf("acknowledgment = %v, want final RR(1)", rr)
	}
}

func TestManager_UIFrameBypassesSessions(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.inbound(ax25.Control{Class: ax25.ClassU, UType: ax25.UUI}, []byte(">Status beacon"))

	if len(fx.ui) != 1 || string(fx.ui[0].Payload) != ">Status beacon" {
		t.Fatalf("UI frames = %v", fx.ui)
	}
	if len(fx.m.Keys()) != 0 {
		t.Error("UI frame created a session")
	}
}

func TestManager_SendUI(t *testing.T) {
	fx := newFixture(t, Config{})
	dest := mustAddr(t, "BEACON")
	if err := fx.m.SendUI(dest, nil, 0, []byte("hi all")); err != nil {
		t.Fatalf("SendUI: %v", err)
	}
	frames := fx.tr.frames(t)
	if len(frames) != 1 {
		t.Fatalf("sent %d frames", len(frames))
	}
	f := frames[0]
	if f.Control.UType != ax25.UUI || string(f.Payload) != "hi all" || f.PID != ax25.PIDNoLayer3 {
		t.Errorf("UI frame = %s", f)
	}
}

func TestManager_FrameForOtherStationIgnored(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.m.HandleFrame(0, &ax25.Frame{
		Destination: mustAddr(t, "W1XYZ"),
		Source:      fx.remote,
		Control:     ax25.Control{Class: ax25.ClassU, UType: ax25.USABM, PF: true},
	})
	if len(fx.tr.sent) != 0 || len(fx.m.Keys()) != 0 {
		t.Error("reacted to a frame for another station")
	}
}

func TestManager_DisconnectSendsDISC(t *testing.T) {
	fx := newFixture(t, Config{})
	key := fx.connect(t)

	if err := fx.m.Disconnect(key); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	frames := fx.tr.frames(t)
	if len(frames) != 1 || frames[0].Control.UType != ax25.UDISC || !frames[0].Control.PF {
		t.Fatalf("sent %v, want polled DISC", frames)
	}

	fx.inbound(ax25.Control{Class: ax25.ClassU, UType: ax25.UUA, PF: true}, nil)
	s, _ := fx.m.Session(key)
	if s.State() != StateDisconnected {
		t.Errorf("state = %v", s.State())
	}
	if fx.states[len(fx.states)-1] != StateDisconnected {
		t.Errorf("state changes = %v", fx.states)
	}
}

func TestManager_PurgeAllForcesDown(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.connect(t)

	fx.m.PurgeAll()
	if len(fx.m.Keys()) != 0 {
		t.Errorf("sessions remain: %v", fx.m.Keys())
	}
	if fx.states[len(fx.states)-1] != StateDisconnected {
		t.Errorf("state changes = %v", fx.states)
	}
	// A forced teardown never transmits DISC.
	for _, f := range fx.tr.frames(t) {
		if f.Control.Class == ax25.ClassU && f.Control.UType == ax25.UDISC {
			t.Error("PurgeAll sent DISC")
		}
	}
}

func TestManager_SetLocalPurgesSessions(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.connect(t)

	next := mustAddr(t, "N0CALL-7")
	fx.m.SetLocal(next)
	if len(fx.m.Keys()) != 0 {
		t.Errorf("sessions survived identity change: %v", fx.m.Keys())
	}
	if !fx.m.Local().Equal(next) {
		t.Errorf("local = %s", fx.m.Local())
	}
}

func TestManager_RecoverLateUA(t *testing.T) {
	fx := newFixture(t, Config{MaxRetries: 1})
	key, err := fx.m.Connect(fx.remote, nil, 0)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Exhaust the connect retries.
	for i := 0; i < 2; i++ {
		fx.m.HandleTimer(fx.timers.last(t, TimerT1).token)
	}
	s, _ := fx.m.Session(key)
	if s.State() != StateError {
		t.Fatalf("state = %v, want error after exhaustion", s.State())
	}

	// The operator decides to trust the late UA.
	if err := fx.m.RecoverLateUA(key); err != nil {
		t.Fatalf("RecoverLateUA: %v", err)
	}
	if s.State() != StateConnected {
		t.Errorf("state = %v", s.State())
	}
	if fx.states[len(fx.states)-1] != StateConnected {
		t.Errorf("state changes = %v", fx.states)
	}
}

func TestManager_ConnectPathTooLong(t *testing.T) {
	fx := newFixture(t, Config{})
	path := make([]ax25.Address, ax25.MaxDigipeaters+1)
	for i := range path {
		path[i] = ax25.Address{Call: "RELAY", SSID: uint8(i)}
	}
	if _, err := fx.m.Connect(fx.remote, path, 0); err == nil {
		t.Error("oversized digipeater path accepted")
	}
}
