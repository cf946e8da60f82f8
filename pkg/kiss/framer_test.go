// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package kiss

import (
	"bytes"
	"testing"
)

func TestEncode_Simple(t *testing.T) {
	frame := Encode(0, []byte{0x01, 0x02, 0x03})
	expected := []byte{FEND, 0x00, 0x01, 0x02, 0x03, FEND}
	if !bytes.Equal(frame, expected) {
		t.Errorf("Encode = % X, want % X", frame, expected)
	}
}

func TestEncode_EscapesSpecialBytes(t *testing.T) {
	frame := Encode(0, []byte{FEND, FESC})
	expected := []byte{FEND, 0x00, FESC, TFEND, FESC, TFESC, FEND}
	if !bytes.Equal(frame, expected) {
		t.Errorf("Encode = % X, want % X", frame, expected)
	}
}

func TestEncode_PortNibble(t *testing.T) {
	frame := Encode(3, []byte{0xAA})
	if frame[1] != 0x30 {
		t.Errorf("command byte = 0x%02X, want 0x30", frame[1])
	}
}

func TestUnescape_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"plain", []byte("hello")},
		{"delimiter only", []byte{FEND}},
		{"escape only", []byte{FESC}},
		{"mixed", []byte{0x00, FEND, 0x7F, FESC, FEND, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := unescape(escape(tt.data))
			if !bytes.Equal(got, tt.data) {
				t.Errorf("unescape(escape(% X)) = % X", tt.data, got)
			}
		})
	}
}

func TestUnescape_AllByteValues(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	got := unescape(escape(data))
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip of all byte values failed")
	}
}

func TestFramer_SingleFrame(t *testing.T) {
	f := NewFramer()
	frames := f.Feed(Encode(0, []byte("test")))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, []byte("test")) {
		t.Errorf("payload = %q", frames[0].Payload)
	}
	if frames[0].Port != 0 {
		t.Errorf("port = %d, want 0", frames[0].Port)
	}
}

func TestFramer_SplitAcrossFeeds(t *testing.T) {
	wire := Encode(0, []byte{0x01, FEND, 0x02, FESC, 0x03})
	// Feed one byte at a time, which splits inside the escape pairs.
	f := NewFramer()
	var frames []Frame
	for _, b := range wire {
		frames = append(frames, f.Feed([]byte{b})...)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	expected := []byte{0x01, FEND, 0x02, FESC, 0x03}
	if !bytes.Equal(frames[0].Payload, expected) {
		t.Errorf("payload = % X, want % X", frames[0].Payload, expected)
	}
}

func TestFramer_EverySplitPoint(t *testing.T) {
	payload := []byte{FESC, FEND, 0x42, FESC, TFEND, FEND}
	wire := Encode(1, payload)
	for split := 0; split <= len(wire); split++ {
		f := NewFramer()
		frames := f.Feed(wire[:split])
		frames = append(frames, f.Feed(wire[split:])...)
		if len(frames) != 1 {
			t.Fatalf("split %d: got %d frames, want 1", split, len(frames))
		}
		if !bytes.Equal(frames[0].Payload, payload) {
			t.Errorf("split %d: payload = % X", split, frames[0].Payload)
		}
	}
}

func TestFramer_NoiseBeforeFirstDelimiter(t *testing.T) {
	f := NewFramer()
	noise := []byte{0x12, 0x34, FESC, 0x56}
	frames := f.Feed(noise)
	if len(frames) != 0 {
		t.Fatalf("noise yielded %d frames", len(frames))
	}
	frames = f.Feed(Encode(0, []byte("ok")))
	if len(frames) != 1 || !bytes.Equal(frames[0].Payload, []byte("ok")) {
		t.Errorf("frame after noise not recovered: %v", frames)
	}
}

func TestFramer_BackToBackSharedDelimiter(t *testing.T) {
	// Two frames sharing a single FEND between them.
	wire := []byte{FEND, 0x00, 'a', FEND, 0x00, 'b', FEND}
	f := NewFramer()
	frames := f.Feed(wire)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, []byte("a")) || !bytes.Equal(frames[1].Payload, []byte("b")) {
		t.Errorf("payloads = %q, %q", frames[0].Payload, frames[1].Payload)
	}
}

func TestFramer_RepeatedDelimiters(t *testing.T) {
	// Idle-line filler: runs of FENDs complete only empty frames.
	f := NewFramer()
	frames := f.Feed([]byte{FEND, FEND, FEND, FEND})
	if len(frames) != 0 {
		t.Fatalf("idle filler yielded %d frames", len(frames))
	}
	frames = f.Feed([]byte{0x00, 'x', FEND})
	if len(frames) != 1 || !bytes.Equal(frames[0].Payload, []byte("x")) {
		t.Errorf("frame after filler not recovered: %v", frames)
	}
}

func TestFramer_EmptyDataFrameDiscarded(t *testing.T) {
	// Command byte with no payload is silently discarded.
	f := NewFramer()
	frames := f.Feed([]byte{FEND, 0x00, FEND})
	if len(frames) != 0 {
		t.Fatalf("empty frame yielded %d frames", len(frames))
	}
}

func TestFramer_CommandFramesSkipped(t *testing.T) {
	// Low nibble != 0 carries TNC configuration, not data.
	f := NewFramer()
	frames := f.Feed([]byte{FEND, 0x01, 0x08, FEND, 0x06, 0xFF, FEND})
	if len(frames) != 0 {
		t.Fatalf("command frames yielded %d data frames", len(frames))
	}
}

func TestFramer_InvalidEscapePassesThrough(t *testing.T) {
	f := NewFramer()
	frames := f.Feed([]byte{FEND, 0x00, 0x01, FESC, 0x99, 0x02, FEND})
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	expected := []byte{0x01, 0x99, 0x02}
	if !bytes.Equal(frames[0].Payload, expected) {
		t.Errorf("payload = % X, want % X", frames[0].Payload, expected)
	}
	// Framing must still be synchronized for the next frame.
	frames = f.Feed(Encode(0, []byte("next")))
	if len(frames) != 1 || !bytes.Equal(frames[0].Payload, []byte("next")) {
		t.Errorf("framer desynchronized after invalid escape")
	}
}

func TestFramer_OversizedFrameDiscarded(t *testing.T) {
	f := NewFramer()
	big := make([]byte, MaxFrameSize+16)
	wire := Encode(0, big)
	frames := f.Feed(wire)
	if len(frames) != 0 {
		t.Fatalf("oversized frame was not discarded")
	}
	frames = f.Feed(Encode(0, []byte("ok")))
	if len(frames) != 1 || !bytes.Equal(frames[0].Payload, []byte("ok")) {
		t.Errorf("framer did not recover after oversized frame")
	}
}

func TestFramer_EncodeFeedRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("chat"),
		{FEND, FESC, TFEND, TFESC},
		bytes.Repeat([]byte{FESC}, 100),
	}
	f := NewFramer()
	var wire []byte
	for _, p := range payloads {
		wire = append(wire, Encode(2, p)...)
	}
	frames := f.Feed(wire)
	if len(frames) != len(payloads) {
		t.Fatalf("got %d frames, want %d", len(frames), len(payloads))
	}
	for i, fr := range frames {
		if !bytes.Equal(fr.Payload, payloads[i]) {
			t.Errorf("frame %d: payload = % X, want % X", i, fr.Payload, payloads[i])
		}
		if fr.Port != 2 {
			t.Errorf("frame %d: port = %d, want 2", i, fr.Port)
		}
	}
}
