// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package axdp

import (
	"encoding/binary"
	"fmt"
)

// File metadata sub-TLV types
const (
	fmName        = 0x01
	fmSize        = 0x02
	fmHash        = 0x03
	fmChunkSize   = 0x04
	fmDescription = 0x05
)

// FileMetadata describes a file offered for transfer. Hash is the
// SHA-256 digest of the complete file content.
type FileMetadata struct {
	Name        string
	Size        uint64
	Hash        []byte
	ChunkSize   uint32
	Description string
}

// Encode produces the sub-TLV block carried inside a file-metadata
// message.
func (fm *FileMetadata) Encode() []byte {
	var out []byte
	out = appendTLV(out, fmName, []byte(fm.Name))
	out = appendTLV(out, fmSize, binary.BigEndian.AppendUint64(nil, fm.Size))
	if len(fm.Hash) > 0 {
		out = appendTLV(out, fmHash, fm.Hash)
	}
	out = appendTLVU32(out, fmChunkSize, fm.ChunkSize)
	if fm.Description != "" {
		out = appendTLV(out, fmDescription, []byte(fm.Description))
	}
	return out
}

// DecodeFileMetadata parses a file-metadata block.
func DecodeFileMetadata(b []byte) (*FileMetadata, error) {
	fm := &FileMetadata{}
	err := scanTLVs(b, func(typ byte, val []byte) error {
		switch typ {
		case fmName:
			fm.Name = string(val)
		case fmSize:
			if len(val) != 8 {
				return fmt.Errorf("file size field: want 8 bytes, got %d", len(val))
			}
			fm.Size = binary.BigEndian.Uint64(val)
		case fmHash:
			fm.Hash = append([]byte{}, val...)
		case fmChunkSize:
			return setU32(typ, val, &fm.ChunkSize)
		case fmDescription:
			fm.Description = string(val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if fm.Name == "" {
		return nil, fmt.Errorf("file metadata carries no name")
	}
	if fm.ChunkSize == 0 {
		return nil, fmt.Errorf("file metadata carries no chunk size")
	}
	return fm, nil
}

// Transfer metrics sub-TLV types
const (
	tmChunks     = 0x01
	tmDuplicates = 0x02
	tmBytes      = 0x03
	tmElapsedMS  = 0x04
)

// TransferMetrics is the receiver-side progress block optionally
// attached to acknowledgments.
type TransferMetrics struct {
	ChunksReceived uint32
	Duplicates     uint32
	BytesReceived  uint64
	ElapsedMS      uint32
}

func (tm *TransferMetrics) Encode() []byte {
	var out []byte
	out = appendTLVU32(out, tmChunks, tm.ChunksReceived)
	out = appendTLVU32(out, tmDuplicates, tm.Duplicates)
	out = appendTLV(out, tmBytes, binary.BigEndian.AppendUint64(nil, tm.BytesReceived))
	out = appendTLVU32(out, tmElapsedMS, tm.ElapsedMS)
	return out
}

func DecodeTransferMetrics(b []byte) (*TransferMetrics, error) {
	tm := &TransferMetrics{}
	err := scanTLVs(b, func(typ byte, val []byte) error {
		switch typ {
		case tmChunks:
			return setU32(typ, val, &tm.ChunksReceived)
		case tmDuplicates:
			return setU32(typ, val, &tm.Duplicates)
		case tmBytes:
			if len(val) != 8 {
				return fmt.Errorf("metrics bytes field: want 8 bytes, got %d", len(val))
			}
			tm.BytesReceived = binary.BigEndian.Uint64(val)
		case tmElapsedMS:
			return setU32(typ, val, &tm.ElapsedMS)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tm, nil
}
