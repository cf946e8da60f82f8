// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package ax25

import (
	"fmt"
	"strconv"
	"strings"
)

// Address identifies one station: a callsign of up to six characters
// plus a 4-bit SSID. Repeated is the H bit and is meaningful only for
// digipeater path entries.
type Address struct {
	Call     string
	SSID     uint8
	Repeated bool
}

// ParseAddress parses "CALL" or "CALL-SSID" notation.
func ParseAddress(s string) (Address, error) {
	call, ssidStr, found := strings.Cut(strings.ToUpper(strings.TrimSpace(s)), "-")
	var ssid uint8
	if found {
		n, err := strconv.Atoi(ssidStr)
		if err != nil || n < 0 || n > 15 {
			return Address{}, fmt.Errorf("invalid SSID %q", ssidStr)
		}
		ssid = uint8(n)
	}
	if call == "" || len(call) > CallsignLen {
		return Address{}, fmt.Errorf("invalid callsign %q", call)
	}
	return Address{Call: call, SSID: ssid}, nil
}

// String formats the address in CALL-SSID notation, omitting a zero
// SSID, with a trailing asterisk for repeated path entries.
func (a Address) String() string {
	s := a.Call
	if a.SSID != 0 {
		s = fmt.Sprintf("%s-%d", a.Call, a.SSID)
	}
	if a.Repeated {
		s += "*"
	}
	return s
}

// EqualCall reports whether two addresses name the same callsign,
// ignoring the SSID.
func (a Address) EqualCall(b Address) bool {
	return a.Call == b.Call
}

// Equal reports whether two addresses are the same station.
func (a Address) Equal(b Address) bool {
	return a.Call == b.Call && a.SSID == b.SSID
}

// encode appends the 7-byte wire form of the address. The callsign is
// space padded and shifted left one bit; the final octet packs the
// SSID in bits 1-4, the H bit in bit 7, and the end-of-address marker
// in bit 0 when last is true.
func (a Address) encode(dst []byte, last bool) []byte {
	call := strings.ToUpper(a.Call)
	for i := 0; i < CallsignLen; i++ {
		c := byte(' ')
		if i < len(call) {
			c = call[i]
		}
		dst = append(dst, c<<1)
	}
	ssid := ssidReserved | (a.SSID&ssidMask)<<1
	if a.Repeated {
		ssid |= repeatedBit
	}
	if last {
		ssid |= eoaBit
	}
	return append(dst, ssid)
}

// decodeAddress decodes one 7-byte address field. It returns the
// address and whether the end-of-address marker was set.
func decodeAddress(b []byte) (Address, bool, error) {
	if len(b) < AddrLen {
		return Address{}, false, fmt.Errorf("address field truncated: %d bytes", len(b))
	}
	call := make([]byte, 0, CallsignLen)
	for i := 0; i < CallsignLen; i++ {
		c := b[i] >> 1
		if c == ' ' {
			continue
		}
		call = append(call, c)
	}
	addr := Address{
		Call:     string(call),
		SSID:     b[CallsignLen] >> 1 & ssidMask,
		Repeated: b[CallsignLen]&repeatedBit != 0,
	}
	return addr, b[CallsignLen]&eoaBit != 0, nil
}
