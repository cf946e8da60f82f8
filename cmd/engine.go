// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/radiogear/paxterm/pkg/ax25"
	"github.com/radiogear/paxterm/pkg/kiss"
	"github.com/radiogear/paxterm/pkg/link"
)

// engineEvent is one item on the engine's serialized event stream.
// Exactly one of the members is set: raw connection bytes, a timer
// expiration, or a closure to run on the loop goroutine.
type engineEvent struct {
	data  []byte
	timer *link.TimerToken
	fn    func()
}

// timerService delivers expirations back onto the engine's event
// stream. The link manager's generation check makes late deliveries
// after a Cancel harmless, so cancellation here is best-effort.
type timerService struct {
	mu     sync.Mutex
	timers map[link.TimerToken]*time.Timer
	events chan<- engineEvent
}

func newTimerService(events chan<- engineEvent) *timerService {
	return &timerService{
		timers: make(map[link.TimerToken]*time.Timer),
		events: events,
	}
}

func (ts *timerService) Schedule(d time.Duration, token link.TimerToken) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.timers[token] = time.AfterFunc(d, func() {
		ts.mu.Lock()
		delete(ts.timers, token)
		ts.mu.Unlock()
		tok := token
		select {
		case ts.events <- engineEvent{timer: &tok}:
		default:
			// Event queue full: drop the expiration. The next frame
			// or timer that drains the queue will restart recovery.
		}
	})
}

func (ts *timerService) Cancel(token link.TimerToken) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[token]; ok {
		t.Stop()
		delete(ts.timers, token)
	}
}

// connTransport adapts a Connection to the link manager's Transport.
type connTransport struct {
	conn Connection
}

func (t *connTransport) Send(p []byte) error {
	_, err := t.conn.Write(p)
	return err
}

// engine ties a Connection to a link manager: one goroutine reads the
// connection, a second runs the event loop that owns the manager. All
// manager access from command code goes through do(), which marshals
// the closure onto the loop goroutine.
type engine struct {
	conn   Connection
	Mgr    *link.Manager
	events chan engineEvent
	framer *kiss.Framer

	// Err receives the terminal read error when the connection drops.
	Err chan error
}

func newEngine(conn Connection, local ax25.Address, cfg link.Config, cb link.Callbacks) *engine {
	events := make(chan engineEvent, 256)
	e := &engine{
		conn:   conn,
		events: events,
		framer: kiss.NewFramer(),
		Err:    make(chan error, 1),
	}
	e.Mgr = link.NewManager(local, cfg, &connTransport{conn: conn}, newTimerService(events), cb)
	return e
}

// run starts the reader and the event loop, blocking until the context
// is cancelled or the connection read fails.
func (e *engine) run(ctx context.Context) error {
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := e.conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case e.events <- engineEvent{data: data}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			select {
			case e.Err <- err:
			default:
			}
			return err
		case ev := <-e.events:
			e.dispatch(ev)
		}
	}
}

func (e *engine) dispatch(ev engineEvent) {
	switch {
	case ev.fn != nil:
		ev.fn()
	case ev.timer != nil:
		e.Mgr.HandleTimer(*ev.timer)
	case ev.data != nil:
		for _, kf := range e.framer.Feed(ev.data) {
			f, err := ax25.Decode(kf.Payload)
			if err != nil {
				log.WithError(err).Debug("dropped undecodable frame")
				continue
			}
			e.Mgr.HandleFrame(kf.Port, f)
		}
	}
}

// do runs fn on the event loop goroutine and waits for it to finish.
func (e *engine) do(fn func()) {
	done := make(chan struct{})
	e.events <- engineEvent{fn: func() {
		fn()
		close(done)
	}}
	<-done
}

// post runs fn on the event loop goroutine without waiting. Safe to
// call from manager callbacks, which already run on the loop.
func (e *engine) post(fn func()) {
	select {
	case e.events <- engineEvent{fn: fn}:
	default:
		go func() { e.events <- engineEvent{fn: fn} }()
	}
}
