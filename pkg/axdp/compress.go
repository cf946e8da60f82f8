// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package axdp

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// AbsoluteMaxDecompressed is the hard decompression ceiling,
// independent of anything negotiated. No declared length above it is
// ever honored.
const AbsoluteMaxDecompressed uint32 = 16 << 20

// Compress deflates a payload with zlib.
func Compress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress inflates a payload under three independent guards, all
// of which must hold before any bytes are produced: the declared
// original length must not exceed negotiatedMax (when nonzero), must
// not exceed the absolute ceiling, and the actual output must match
// the declared length exactly. A violation is a decode failure with
// no partial output.
//
// A zero negotiatedMax means no negotiation happened; decompression
// is still attempted (liberal reception) under the remaining guards.
func Decompress(algorithm uint8, p []byte, declaredLen, negotiatedMax uint32) ([]byte, error) {
	if algorithm != CompressionZlib {
		return nil, fmt.Errorf("unsupported compression algorithm %d", algorithm)
	}
	if negotiatedMax != 0 && declaredLen > negotiatedMax {
		return nil, fmt.Errorf("declared length %d exceeds negotiated limit %d", declaredLen, negotiatedMax)
	}
	if declaredLen > AbsoluteMaxDecompressed {
		return nil, fmt.Errorf("declared length %d exceeds absolute ceiling %d", declaredLen, AbsoluteMaxDecompressed)
	}

	r, err := zlib.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, fmt.Errorf("corrupt compressed payload: %w", err)
	}
	defer r.Close()

	// Read one byte past the declared length so a longer stream is
	// detected rather than silently truncated.
	out, err := io.ReadAll(io.LimitReader(r, int64(declaredLen)+1))
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	if uint32(len(out)) != declaredLen {
		return nil, fmt.Errorf("decompressed length %d does not match declared %d", len(out), declaredLen)
	}
	return out, nil
}
