// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package axdp

import (
	"time"
)

// Feature bitset values advertised in a capability block.
const (
	FeatureSACK uint32 = 1 << iota
	FeatureResume
	FeatureCompression
	FeatureExtendedMetadata
)

// Compression algorithm ids. Zero is reserved for "uncompressed".
const (
	CompressionNone uint8 = 0
	CompressionZlib uint8 = 1
)

// ProtoVersion is the protocol revision this implementation speaks.
const ProtoVersion uint8 = 1

// Capability sub-TLV types
const (
	capProtoMin     = 0x01
	capProtoMax     = 0x02
	capFeatures     = 0x03
	capAlgorithms   = 0x04
	capMaxDecompLen = 0x05
	capMaxChunkLen  = 0x06
)

// Capabilities is one side's advertisement: version range, feature
// bitset, compression algorithm ids, and length limits.
type Capabilities struct {
	ProtoMin   uint8
	ProtoMax   uint8
	Features   uint32
	Algorithms []uint8

	MaxDecompressedLen uint32
	MaxChunkLen        uint32
}

// LocalCapabilities returns what this implementation advertises.
func LocalCapabilities() Capabilities {
	return Capabilities{
		ProtoMin:           1,
		ProtoMax:           ProtoVersion,
		Features:           FeatureSACK | FeatureResume | FeatureCompression | FeatureExtendedMetadata,
		Algorithms:         []uint8{CompressionZlib},
		MaxDecompressedLen: AbsoluteMaxDecompressed,
		MaxChunkLen:        4096,
	}
}

// Encode produces the capability sub-TLV block.
func (c *Capabilities) Encode() []byte {
	var out []byte
	out = appendTLVU8(out, capProtoMin, c.ProtoMin)
	out = appendTLVU8(out, capProtoMax, c.ProtoMax)
	out = appendTLVU32(out, capFeatures, c.Features)
	out = appendTLV(out, capAlgorithms, append([]byte{}, c.Algorithms...))
	out = appendTLVU32(out, capMaxDecompLen, c.MaxDecompressedLen)
	out = appendTLVU32(out, capMaxChunkLen, c.MaxChunkLen)
	return out
}

// DecodeCapabilities parses a capability block.
func DecodeCapabilities(b []byte) (*Capabilities, error) {
	c := &Capabilities{}
	err := scanTLVs(b, func(typ byte, val []byte) error {
		switch typ {
		case capProtoMin:
			v, err := tlvU8(typ, val)
			if err != nil {
				return err
			}
			c.ProtoMin = v
		case capProtoMax:
			v, err := tlvU8(typ, val)
			if err != nil {
				return err
			}
			c.ProtoMax = v
		case capFeatures:
			return setU32(typ, val, &c.Features)
		case capAlgorithms:
			c.Algorithms = append([]uint8{}, val...)
		case capMaxDecompLen:
			return setU32(typ, val, &c.MaxDecompressedLen)
		case capMaxChunkLen:
			return setU32(typ, val, &c.MaxChunkLen)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Negotiated is the agreement computed from two advertisements.
type Negotiated struct {
	Version    uint8
	Features   uint32
	Algorithms []uint8

	MaxDecompressedLen uint32
	MaxChunkLen        uint32
}

// CompressionEnabled reports whether the pair agreed on at least one
// compression algorithm. An empty intersection disables compression
// for the pair; it is not an error.
func (n Negotiated) CompressionEnabled() bool {
	return n.Features&FeatureCompression != 0 && len(n.Algorithms) > 0
}

// Negotiate computes the agreement between a local and a remote
// advertisement: version is the lower of the two maxima, features and
// algorithms intersect, and length limits take the minimum.
func Negotiate(local, remote Capabilities) Negotiated {
	n := Negotiated{
		Version:  local.ProtoMax,
		Features: local.Features & remote.Features,
	}
	if remote.ProtoMax < n.Version {
		n.Version = remote.ProtoMax
	}
	for _, a := range local.Algorithms {
		for _, b := range remote.Algorithms {
			if a == b {
				n.Algorithms = append(n.Algorithms, a)
				break
			}
		}
	}
	n.MaxDecompressedLen = minU32(local.MaxDecompressedLen, remote.MaxDecompressedLen)
	n.MaxChunkLen = minU32(local.MaxChunkLen, remote.MaxChunkLen)
	return n
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

type capEntry struct {
	negotiated Negotiated
	stored     time.Time
}

// CapabilityCache remembers negotiation results per peer so an
// unexpired entry skips renegotiation.
type CapabilityCache struct {
	maxAge  time.Duration
	entries map[string]capEntry

	// now is swappable for tests.
	now func() time.Time
}

// NewCapabilityCache creates a cache whose entries expire after
// maxAge.
func NewCapabilityCache(maxAge time.Duration) *CapabilityCache {
	return &CapabilityCache{
		maxAge:  maxAge,
		entries: make(map[string]capEntry),
		now:     time.Now,
	}
}

// Store records the negotiation outcome for a peer.
func (cc *CapabilityCache) Store(peer string, n Negotiated) {
	cc.entries[peer] = capEntry{negotiated: n, stored: cc.now()}
}

// Lookup returns the cached agreement for a peer while it is fresh.
func (cc *CapabilityCache) Lookup(peer string) (Negotiated, bool) {
	e, ok := cc.entries[peer]
	if !ok {
		return Negotiated{}, false
	}
	if cc.now().Sub(e.stored) > cc.maxAge {
		delete(cc.entries, peer)
		return Negotiated{}, false
	}
	return e.negotiated, true
}

// NeedsNegotiation is false only while a fresh cache entry exists.
func (cc *CapabilityCache) NeedsNegotiation(peer string) bool {
	_, ok := cc.Lookup(peer)
	return !ok
}

// Forget drops a peer's cached agreement.
func (cc *CapabilityCache) Forget(peer string) {
	delete(cc.entries, peer)
}
