// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package axdp

import "testing"

func TestSACK_BaseSlidesOverContiguousRun(t *testing.T) {
	s := NewSACK(0)
	s.Mark(1)
	s.Mark(2)
	if s.Base != 0 {
		t.Fatalf("base moved to %d with chunk 0 missing", s.Base)
	}
	s.Mark(0)
	if s.Base != 3 {
		t.Errorf("base = %d, want 3 after the gap filled", s.Base)
	}
	for i := uint32(0); i < 3; i++ {
		if !s.Contains(i) {
			t.Errorf("chunk %d not covered below base", i)
		}
	}
	if s.Contains(3) {
		t.Error("chunk 3 reported received")
	}
}

func TestSACK_MarkBelowBaseIgnored(t *testing.T) {
	s := NewSACK(5)
	s.Mark(2)
	if s.Base != 5 || len(s.bits) != 0 {
		t.Errorf("state changed: base=%d bits=%v", s.Base, s.bits)
	}
	if !s.Contains(2) {
		t.Error("index below base should count as received")
	}
}

func TestSACK_Missing(t *testing.T) {
	s := NewSACK(0)
	for _, i := range []uint32{0, 1, 3, 6} {
		s.Mark(i)
	}
	got := s.Missing(8)
	want := []uint32{2, 4, 5, 7}
	if len(got) != len(want) {
		t.Fatalf("missing = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("missing = %v, want %v", got, want)
		}
	}
}

func TestSACK_Complete(t *testing.T) {
	s := NewSACK(0)
	for i := uint32(0); i < 5; i++ {
		if s.Complete(5) {
			t.Fatalf("complete before chunk %d", i)
		}
		s.Mark(i)
	}
	if !s.Complete(5) {
		t.Error("not complete after all chunks")
	}
}

func TestSACK_WireRoundTrip(t *testing.T) {
	s := NewSACK(10)
	s.Mark(12)
	s.Mark(20)
	got, err := DecodeSACK(s.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Base != s.Base {
		t.Errorf("base = %d, want %d", got.Base, s.Base)
	}
	for i := uint32(10); i <= 21; i++ {
		if got.Contains(i) != s.Contains(i) {
			t.Errorf("chunk %d: got %v, want %v", i, got.Contains(i), s.Contains(i))
		}
	}
}

func TestSACK_DecodeTruncated(t *testing.T) {
	if _, err := DecodeSACK([]byte{1, 2}); err == nil {
		t.Error("truncated SACK accepted")
	}
}

func TestDupTracker_DetectsDuplicates(t *testing.T) {
	d := NewDupTracker(16)
	if d.Seen(1, 100) {
		t.Error("fresh pair reported duplicate")
	}
	if !d.Seen(1, 100) {
		t.Error("repeat not reported duplicate")
	}
	// Same message id under another session is distinct.
	if d.Seen(2, 100) {
		t.Error("different session reported duplicate")
	}
}

func TestDupTracker_FIFOEviction(t *testing.T) {
	d := NewDupTracker(2)
	d.Seen(1, 1)
	d.Seen(1, 2)
	d.Seen(1, 3) // evicts (1,1)
	if d.Len() != 2 {
		t.Fatalf("len = %d", d.Len())
	}
	if d.Seen(1, 1) {
		t.Error("evicted pair still reported duplicate")
	}
	if !d.Seen(1, 3) {
		t.Error("retained pair not reported duplicate")
	}
}
