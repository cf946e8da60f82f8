// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package ax25

import (
	"fmt"
	"strings"
)

// Frame is one decoded AX.25 frame.
type Frame struct {
	Destination Address
	Source      Address
	Path        []Address
	Control     Control
	PID         uint8
	Payload     []byte
}

// hasPID reports whether the frame class carries a protocol id byte.
// Only I frames and UI frames do.
func (f *Frame) hasPID() bool {
	if f.Control.Class == ClassI {
		return true
	}
	return f.Control.Class == ClassU && f.Control.UType == UUI
}

// Encode serializes the frame to wire bytes (without KISS framing or
// CRC, which belong to the transport below this layer).
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Path) > MaxDigipeaters {
		return nil, fmt.Errorf("digipeater path too long: %d entries", len(f.Path))
	}
	ctrl, err := EncodeControl(f.Control)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, AddrLen*(2+len(f.Path))+2+len(f.Payload))
	out = f.Destination.encode(out, false)
	out = f.Source.encode(out, len(f.Path) == 0)
	for i, digi := range f.Path {
		out = digi.encode(out, i == len(f.Path)-1)
	}
	out = append(out, ctrl)
	if f.hasPID() {
		pid := f.PID
		if pid == 0 {
			pid = PIDNoLayer3
		}
		out = append(out, pid)
	}
	out = append(out, f.Payload...)
	return out, nil
}

// Decode parses wire bytes into a frame. Decoding fails closed: any
// truncated or malformed input yields a nil frame and an error, never
// a partially filled one.
func Decode(b []byte) (*Frame, error) {
	if len(b) < 2*AddrLen+1 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(b))
	}

	f := &Frame{}
	var err error
	var last bool

	if f.Destination, last, err = decodeAddress(b); err != nil {
		return nil, err
	}
	if last {
		return nil, fmt.Errorf("end-of-address marker inside destination")
	}
	b = b[AddrLen:]

	if f.Source, last, err = decodeAddress(b); err != nil {
		return nil, err
	}
	b = b[AddrLen:]

	for !last {
		if len(f.Path) >= MaxDigipeaters {
			return nil, fmt.Errorf("digipeater path exceeds %d entries", MaxDigipeaters)
		}
		var digi Address
		if digi, last, err = decodeAddress(b); err != nil {
			return nil, err
		}
		f.Path = append(f.Path, digi)
		b = b[AddrLen:]
	}

	if len(b) < 1 {
		return nil, fmt.Errorf("missing control field")
	}
	if f.Control, err = DecodeControl(b[0]); err != nil {
		return nil, err
	}
	b = b[1:]

	if f.hasPID() {
		if len(b) < 1 {
			return nil, fmt.Errorf("missing PID byte")
		}
		f.PID = b[0]
		b = b[1:]
	}

	if len(b) > 0 {
		f.Payload = make([]byte, len(b))
		copy(f.Payload, b)
	}
	return f, nil
}

// String renders the frame in monitor format:
// "SRC>DST,DIGI1*,DIGI2: I ns=0 nr=0 [len 12]".
func (f *Frame) String() string {
	var sb strings.Builder
	sb.WriteString(f.Source.String())
	sb.WriteByte('>')
	sb.WriteString(f.Destination.String())
	for _, digi := range f.Path {
		sb.WriteByte(',')
		sb.WriteString(digi.String())
	}
	sb.WriteString(": ")
	sb.WriteString(f.Control.String())
	if len(f.Payload) > 0 {
		fmt.Fprintf(&sb, " [len %d]", len(f.Payload))
	}
	return sb.String()
}
