// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package axdp

import (
	"encoding/binary"
	"fmt"
)

// SACK is a sliding-base selective acknowledgment bitmap. Every chunk
// index below Base has been received; bit i of the bitmap covers
// chunk Base+i. Marking the chunk at Base slides the base forward
// over any contiguous run already marked.
type SACK struct {
	Base uint32
	bits []byte
}

// NewSACK creates a bitmap starting at the given base index.
func NewSACK(base uint32) *SACK {
	return &SACK{Base: base}
}

// Mark records a received chunk index. Indexes below the base are
// already covered and ignored.
func (s *SACK) Mark(index uint32) {
	if index < s.Base {
		return
	}
	off := index - s.Base
	for uint32(len(s.bits))*8 <= off {
		s.bits = append(s.bits, 0)
	}
	s.bits[off/8] |= 1 << (off % 8)
	s.advance()
}

// advance slides the base over the contiguous received prefix.
func (s *SACK) advance() {
	for len(s.bits) > 0 && s.bits[0]&1 != 0 {
		for i := 0; i < len(s.bits); i++ {
			s.bits[i] >>= 1
			if i+1 < len(s.bits) {
				s.bits[i] |= s.bits[i+1] << 7
			}
		}
		s.Base++
	}
	for len(s.bits) > 0 && s.bits[len(s.bits)-1] == 0 {
		s.bits = s.bits[:len(s.bits)-1]
	}
}

// Contains reports whether a chunk index has been received.
func (s *SACK) Contains(index uint32) bool {
	if index < s.Base {
		return true
	}
	off := index - s.Base
	if uint32(len(s.bits))*8 <= off {
		return false
	}
	return s.bits[off/8]&(1<<(off%8)) != 0
}

// Missing returns every unreceived chunk index in [Base, total).
func (s *SACK) Missing(total uint32) []uint32 {
	var out []uint32
	for i := s.Base; i < total; i++ {
		if !s.Contains(i) {
			out = append(out, i)
		}
	}
	return out
}

// Complete reports whether all of [0, total) has been received.
func (s *SACK) Complete(total uint32) bool {
	return s.Base >= total
}

// Encode produces the wire form: 4-byte big-endian base, then the
// bitmap bytes.
func (s *SACK) Encode() []byte {
	out := binary.BigEndian.AppendUint32(nil, s.Base)
	return append(out, s.bits...)
}

// DecodeSACK parses the wire form.
func DecodeSACK(b []byte) (*SACK, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("SACK block truncated: %d bytes", len(b))
	}
	return &SACK{
		Base: binary.BigEndian.Uint32(b[:4]),
		bits: append([]byte{}, b[4:]...),
	}, nil
}
