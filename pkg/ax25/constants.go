// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

// Package ax25 encodes and decodes AX.25 v2.2 frames for modulo-8
// sessions: shifted-ASCII address fields with SSID and digipeater
// path, the single-byte control field carrying frame class and
// sequence numbers, and the protocol id byte for I and UI frames.
package ax25

// FrameClass is the top-level frame classification from the control
// field: Information, Supervisory, or Unnumbered.
type FrameClass int

// Frame classes
const (
	ClassI FrameClass = iota
	ClassS
	ClassU
)

// SType is the supervisory frame subtype.
type SType int

// Supervisory subtypes, encoded in control bits 2-3.
const (
	SRR   SType = 0x0 // Receive Ready
	SRNR  SType = 0x1 // Receive Not Ready
	SREJ  SType = 0x2 // Reject
	SSREJ SType = 0x3 // Selective Reject
)

// UType is the unnumbered frame subtype.
type UType int

// Unnumbered subtypes
const (
	USABM UType = iota // connect request
	UUA                // unnumbered acknowledge
	UDISC              // disconnect
	UDM                // disconnected mode
	UFRMR              // frame reject
	UUI                // unnumbered information
)

// Unnumbered control byte patterns with P/F cleared. The P/F bit
// occupies bit 4 for every class.
const (
	ctrlSABM = 0x2F
	ctrlUA   = 0x63
	ctrlDISC = 0x43
	ctrlDM   = 0x0F
	ctrlFRMR = 0x87
	ctrlUI   = 0x03

	pfBit = 0x10
)

// Address field layout
const (
	// CallsignLen is the fixed, space-padded callsign width.
	CallsignLen = 6
	// AddrLen is the encoded size of one station address.
	AddrLen = 7
	// MaxDigipeaters bounds the digipeater path length.
	MaxDigipeaters = 8

	ssidMask     = 0x0F
	ssidReserved = 0x60 // reserved bits, always set
	repeatedBit  = 0x80 // H bit: address already digipeated
	eoaBit       = 0x01 // end-of-address marker on the last octet
)

// PIDNoLayer3 is the protocol id for traffic with no layer 3.
const PIDNoLayer3 = 0xF0

// Modulus8 is the sequence number modulus for single-byte control
// field sessions.
const Modulus8 = 8
