// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

// Package axdp implements the application transfer protocol spoken
// over an established data link: a TLV message envelope, capability
// negotiation, guarded compression, duplicate suppression, selective
// acknowledgment, and the chunked file-transfer state machines.
//
// The package is a pure codec and state layer. It never touches the
// link; callers move encoded messages through whatever delivery path
// they have.
package axdp

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Magic opens every message envelope.
var Magic = []byte("AXDP")

// MessageType identifies what a message carries.
type MessageType uint8

// Message types
const (
	MsgChat MessageType = iota + 1
	MsgFileMetadata
	MsgFileChunk
	MsgAck
	MsgNack
	MsgPing
	MsgPong
)

func (t MessageType) String() string {
	switch t {
	case MsgChat:
		return "CHAT"
	case MsgFileMetadata:
		return "FILE-META"
	case MsgFileChunk:
		return "FILE-CHUNK"
	case MsgAck:
		return "ACK"
	case MsgNack:
		return "NACK"
	case MsgPing:
		return "PING"
	case MsgPong:
		return "PONG"
	}
	return fmt.Sprintf("TYPE-%d", uint8(t))
}

// Top-level TLV types. Unknown types are skipped on decode so newer
// peers can add fields without breaking older ones.
const (
	tlvMessageType  = 0x01
	tlvSessionID    = 0x02
	tlvMessageID    = 0x03
	tlvChunkIndex   = 0x04
	tlvTotalChunks  = 0x05
	tlvPayload      = 0x06
	tlvPayloadCRC   = 0x07
	tlvCompression  = 0x08
	tlvOriginalLen  = 0x09
	tlvSACK         = 0x0a
	tlvCapabilities = 0x0b
	tlvFileMeta     = 0x0c
	tlvMetrics      = 0x0d
)

// CompletionID is the reserved message id of the final transfer
// ack/nack, distinct from every ordinary chunk message id.
const CompletionID uint32 = 0xFFFFFFFF

// Message is one decoded application message. Optional blocks are nil
// when absent; Compression zero means the payload is not compressed.
type Message struct {
	Type      MessageType
	SessionID uint32
	MessageID uint32

	// File-chunk fields.
	ChunkIndex  uint32
	TotalChunks uint32
	PayloadCRC  uint32
	Compression uint8
	OriginalLen uint32

	Payload []byte

	SACK         *SACK
	Capabilities *Capabilities
	Metadata     *FileMetadata
	Metrics      *TransferMetrics
}

// ChunkCRC computes the checksum carried alongside chunk payloads.
func ChunkCRC(p []byte) uint32 {
	return crc32.ChecksumIEEE(p)
}

func appendTLV(dst []byte, typ byte, val []byte) []byte {
	dst = append(dst, typ)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(val)))
	return append(dst, val...)
}

func appendTLVU8(dst []byte, typ byte, v uint8) []byte {
	return appendTLV(dst, typ, []byte{v})
}

func appendTLVU32(dst []byte, typ byte, v uint32) []byte {
	return appendTLV(dst, typ, binary.BigEndian.AppendUint32(nil, v))
}

// Encode produces the wire form of the message.
func (m *Message) Encode() []byte {
	out := append([]byte{}, Magic...)
	out = appendTLVU8(out, tlvMessageType, uint8(m.Type))
	out = appendTLVU32(out, tlvSessionID, m.SessionID)
	out = appendTLVU32(out, tlvMessageID, m.MessageID)

	if m.Type == MsgFileChunk {
		out = appendTLVU32(out, tlvChunkIndex, m.ChunkIndex)
		out = appendTLVU32(out, tlvTotalChunks, m.TotalChunks)
		out = appendTLVU32(out, tlvPayloadCRC, m.PayloadCRC)
		if m.Compression != 0 {
			out = appendTLVU8(out, tlvCompression, m.Compression)
			out = appendTLVU32(out, tlvOriginalLen, m.OriginalLen)
		}
	}
	if m.Payload != nil {
		out = appendTLV(out, tlvPayload, m.Payload)
	}
	if m.SACK != nil {
		out = appendTLV(out, tlvSACK, m.SACK.Encode())
	}
	if m.Capabilities != nil {
		out = appendTLV(out, tlvCapabilities, m.Capabilities.Encode())
	}
	if m.Metadata != nil {
		out = appendTLV(out, tlvFileMeta, m.Metadata.Encode())
	}
	if m.Metrics != nil {
		out = appendTLV(out, tlvMetrics, m.Metrics.Encode())
	}
	return out
}

// DecodeMessage extracts exactly one message from the front of b and
// returns it with the number of bytes consumed. A second message's
// magic bytes at a record boundary terminate the scan cleanly, so a
// buffer holding back-to-back messages decodes the first one whole.
func DecodeMessage(b []byte) (*Message, int, error) {
	if len(b) < len(Magic) || string(b[:len(Magic)]) != string(Magic) {
		return nil, 0, fmt.Errorf("missing envelope magic")
	}
	m := &Message{}
	off := len(Magic)
	for off < len(b) {
		if len(b)-off >= len(Magic) && string(b[off:off+len(Magic)]) == string(Magic) {
			break // next message starts here
		}
		if len(b)-off < 3 {
			return nil, 0, fmt.Errorf("truncated TLV header at offset %d", off)
		}
		typ := b[off]
		vlen := int(binary.BigEndian.Uint16(b[off+1 : off+3]))
		off += 3
		if len(b)-off < vlen {
			return nil, 0, fmt.Errorf("TLV %#02x value truncated: want %d bytes, have %d", typ, vlen, len(b)-off)
		}
		val := b[off : off+vlen]
		off += vlen
		if err := m.applyTLV(typ, val); err != nil {
			return nil, 0, err
		}
	}
	if m.Type == 0 {
		return nil, 0, fmt.Errorf("message carries no type")
	}
	return m, off, nil
}

func (m *Message) applyTLV(typ byte, val []byte) error {
	switch typ {
	case tlvMessageType:
		v, err := tlvU8(typ, val)
		if err != nil {
			return err
		}
		m.Type = MessageType(v)
	case tlvSessionID:
		return setU32(typ, val, &m.SessionID)
	case tlvMessageID:
		return setU32(typ, val, &m.MessageID)
	case tlvChunkIndex:
		return setU32(typ, val, &m.ChunkIndex)
	case tlvTotalChunks:
		return setU32(typ, val, &m.TotalChunks)
	case tlvPayloadCRC:
		return setU32(typ, val, &m.PayloadCRC)
	case tlvCompression:
		v, err := tlvU8(typ, val)
		if err != nil {
			return err
		}
		m.Compression = v
	case tlvOriginalLen:
		return setU32(typ, val, &m.OriginalLen)
	case tlvPayload:
		m.Payload = append([]byte{}, val...)
	case tlvSACK:
		s, err := DecodeSACK(val)
		if err != nil {
			return err
		}
		m.SACK = s
	case tlvCapabilities:
		c, err := DecodeCapabilities(val)
		if err != nil {
			return err
		}
		m.Capabilities = c
	case tlvFileMeta:
		fm, err := DecodeFileMetadata(val)
		if err != nil {
			return err
		}
		m.Metadata = fm
	case tlvMetrics:
		tm, err := DecodeTransferMetrics(val)
		if err != nil {
			return err
		}
		m.Metrics = tm
	default:
		// Unknown type: skip, never fail.
	}
	return nil
}

func tlvU8(typ byte, val []byte) (uint8, error) {
	if len(val) != 1 {
		return 0, fmt.Errorf("TLV %#02x: want 1 byte, got %d", typ, len(val))
	}
	return val[0], nil
}

func setU32(typ byte, val []byte, dst *uint32) error {
	if len(val) != 4 {
		return fmt.Errorf("TLV %#02x: want 4 bytes, got %d", typ, len(val))
	}
	*dst = binary.BigEndian.Uint32(val)
	return nil
}

// scanTLVs walks a sub-TLV block, calling apply for each record.
// Unknown types are the callback's business; truncation is fatal.
func scanTLVs(b []byte, apply func(typ byte, val []byte) error) error {
	off := 0
	for off < len(b) {
		if len(b)-off < 3 {
			return fmt.Errorf("truncated sub-TLV header at offset %d", off)
		}
		typ := b[off]
		vlen := int(binary.BigEndian.Uint16(b[off+1 : off+3]))
		off += 3
		if len(b)-off < vlen {
			return fmt.Errorf("sub-TLV %#02x value truncated", typ)
		}
		if err := apply(typ, b[off:off+vlen]); err != nil {
			return err
		}
		off += vlen
	}
	return nil
}
