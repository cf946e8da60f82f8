// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package kiss

// MaxFrameSize bounds the accumulation buffer. A frame exceeding this
// is discarded and the framer resynchronizes on the next FEND.
const MaxFrameSize = 4096

// Framer extracts KISS frames from a continuous byte stream. It is
// stateful across calls to Feed: a frame, an escape pair, or even the
// delimiter itself may arrive split across arbitrarily many reads.
type Framer struct {
	buf     []byte
	inFrame bool
	esc     bool
	overrun bool
}

// NewFramer creates a framer waiting for the first delimiter.
func NewFramer() *Framer {
	return &Framer{buf: make([]byte, 0, 256)}
}

// Reset discards any partial frame and returns to the hunting state.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.inFrame = false
	f.esc = false
	f.overrun = false
}

// Feed consumes a chunk of stream bytes and returns all data frames
// completed by it. Bytes before the first FEND are noise and are
// dropped. Runs of FENDs (idle-line filler) complete only empty
// frames, which are discarded. Command frames (low nibble != 0) are
// consumed but not returned.
func (f *Framer) Feed(p []byte) []Frame {
	var frames []Frame
	for _, b := range p {
		if b == FEND {
			if f.inFrame {
				if fr, ok := f.complete(); ok {
					frames = append(frames, fr)
				}
			}
			// A FEND both ends the current frame and begins the next.
			f.buf = f.buf[:0]
			f.inFrame = true
			f.esc = false
			f.overrun = false
			continue
		}
		if !f.inFrame {
			continue
		}
		if f.overrun {
			continue
		}
		if f.esc {
			f.esc = false
			switch b {
			case TFEND:
				f.append(FEND)
			case TFESC:
				f.append(FESC)
			default:
				// Invalid escape: pass the byte through literally.
				f.append(b)
			}
			continue
		}
		if b == FESC {
			f.esc = true
			continue
		}
		f.append(b)
	}
	return frames
}

func (f *Framer) append(b byte) {
	if len(f.buf) >= MaxFrameSize {
		f.overrun = true
		return
	}
	f.buf = append(f.buf, b)
}

// complete finalizes the accumulated frame body. The leading command
// byte is stripped; empty frames, oversized frames, and non-data
// commands yield no frame.
func (f *Framer) complete() (Frame, bool) {
	if f.overrun || len(f.buf) == 0 {
		return Frame{}, false
	}
	cmd := f.buf[0]
	if cmd&0x0F != CmdData {
		return Frame{}, false
	}
	if len(f.buf) == 1 {
		return Frame{}, false
	}
	payload := make([]byte, len(f.buf)-1)
	copy(payload, f.buf[1:])
	return Frame{Port: cmd >> 4, Payload: payload}, true
}
