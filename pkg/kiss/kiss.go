// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

// Package kiss implements KISS framing for TNC byte streams.
//
// KISS delimits variable-length frames inside a continuous serial or
// network byte stream. A single FEND byte marks both frame start and
// end, so back-to-back frames may share one delimiter. Occurrences of
// FEND and FESC inside a payload are escaped as two-byte sequences.
// Each frame begins with a command byte whose high nibble selects the
// TNC port and whose low nibble selects the command; only data frames
// (command 0) carry link-layer traffic.
package kiss

// Framing bytes
const (
	FEND  = 0xC0 // frame delimiter
	FESC  = 0xDB // escape
	TFEND = 0xDC // escaped FEND
	TFESC = 0xDD // escaped FESC
)

// Command byte low-nibble values. Everything except CmdData configures
// the TNC itself and is not link-layer traffic.
const (
	CmdData = 0x00
)

// Frame is one delimited, unescaped KISS data frame.
type Frame struct {
	Port    uint8 // TNC port from the command byte high nibble
	Payload []byte
}

// Encode wraps a payload in a KISS data frame for the given port.
func Encode(port uint8, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, FEND, port<<4|CmdData)
	out = appendEscaped(out, payload)
	out = append(out, FEND)
	return out
}

// appendEscaped appends payload to dst, escaping FEND and FESC bytes.
func appendEscaped(dst, payload []byte) []byte {
	for _, b := range payload {
		switch b {
		case FEND:
			dst = append(dst, FESC, TFEND)
		case FESC:
			dst = append(dst, FESC, TFESC)
		default:
			dst = append(dst, b)
		}
	}
	return dst
}

// escape returns the escaped form of p.
func escape(p []byte) []byte {
	return appendEscaped(make([]byte, 0, len(p)), p)
}

// unescape reverses escape. A FESC followed by anything other than
// TFEND or TFESC is dropped and the following byte passed through
// literally, so a corrupted escape never desynchronizes framing.
func unescape(p []byte) []byte {
	out := make([]byte, 0, len(p))
	esc := false
	for _, b := range p {
		if esc {
			esc = false
			switch b {
			case TFEND:
				out = append(out, FEND)
			case TFESC:
				out = append(out, FESC)
			default:
				out = append(out, b)
			}
			continue
		}
		if b == FESC {
			esc = true
			continue
		}
		out = append(out, b)
	}
	return out
}
