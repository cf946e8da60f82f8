// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package ax25

import "fmt"

// Control is the decoded single-byte control field of a modulo-8
// frame. NS and NR are meaningful only for the classes that carry
// them: NS for I frames, NR for I and S frames.
type Control struct {
	Class FrameClass
	SType SType
	UType UType
	NS    int
	NR    int
	PF    bool
}

// EncodeControl packs a control structure into its wire byte.
func EncodeControl(c Control) (byte, error) {
	pf := byte(0)
	if c.PF {
		pf = pfBit
	}
	switch c.Class {
	case ClassI:
		if c.NS < 0 || c.NS >= Modulus8 || c.NR < 0 || c.NR >= Modulus8 {
			return 0, fmt.Errorf("sequence number out of range: ns=%d nr=%d", c.NS, c.NR)
		}
		return byte(c.NR)<<5 | pf | byte(c.NS)<<1, nil
	case ClassS:
		if c.NR < 0 || c.NR >= Modulus8 {
			return 0, fmt.Errorf("sequence number out of range: nr=%d", c.NR)
		}
		return byte(c.NR)<<5 | pf | byte(c.SType)<<2 | 0x01, nil
	case ClassU:
		var base byte
		switch c.UType {
		case USABM:
			base = ctrlSABM
		case UUA:
			base = ctrlUA
		case UDISC:
			base = ctrlDISC
		case UDM:
			base = ctrlDM
		case UFRMR:
			base = ctrlFRMR
		case UUI:
			base = ctrlUI
		default:
			return 0, fmt.Errorf("unknown U frame type %d", c.UType)
		}
		return base | pf, nil
	}
	return 0, fmt.Errorf("unknown frame class %d", c.Class)
}

// DecodeControl classifies a control byte and recovers its fields.
func DecodeControl(b byte) (Control, error) {
	c := Control{PF: b&pfBit != 0}
	switch {
	case b&0x01 == 0:
		c.Class = ClassI
		c.NS = int(b >> 1 & 0x07)
		c.NR = int(b >> 5 & 0x07)
	case b&0x03 == 0x01:
		c.Class = ClassS
		c.SType = SType(b >> 2 & 0x03)
		c.NR = int(b >> 5 & 0x07)
	default:
		c.Class = ClassU
		switch b &^ pfBit {
		case ctrlSABM:
			c.UType = USABM
		case ctrlUA:
			c.UType = UUA
		case ctrlDISC:
			c.UType = UDISC
		case ctrlDM:
			c.UType = UDM
		case ctrlFRMR:
			c.UType = UFRMR
		case ctrlUI:
			c.UType = UUI
		default:
			return Control{}, fmt.Errorf("unknown U frame control byte 0x%02X", b)
		}
	}
	return c, nil
}

// String returns a short monitor-style description of the control
// field, e.g. "I ns=2 nr=5 P" or "RR nr=3".
func (c Control) String() string {
	pf := ""
	if c.PF {
		pf = " P/F"
	}
	switch c.Class {
	case ClassI:
		return fmt.Sprintf("I ns=%d nr=%d%s", c.NS, c.NR, pf)
	case ClassS:
		names := map[SType]string{SRR: "RR", SRNR: "RNR", SREJ: "REJ", SSREJ: "SREJ"}
		return fmt.Sprintf("%s nr=%d%s", names[c.SType], c.NR, pf)
	default:
		names := map[UType]string{USABM: "SABM", UUA: "UA", UDISC: "DISC", UDM: "DM", UFRMR: "FRMR", UUI: "UI"}
		return names[c.UType] + pf
	}
}
