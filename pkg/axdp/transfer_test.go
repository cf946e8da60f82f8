// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package axdp

import (
	"bytes"
	"testing"
)

func testNegotiated() Negotiated {
	return Negotiated{
		Version:            1,
		Features:           FeatureSACK | FeatureCompression,
		Algorithms:         []uint8{CompressionZlib},
		MaxDecompressedLen: 1 << 20,
		MaxChunkLen:        4096,
	}
}

// relay round-trips a message through the wire codec, as the real
// transport path would.
func relay(t *testing.T, m *Message) *Message {
	t.Helper()
	got, _, err := DecodeMessage(m.Encode())
	if err != nil {
		t.Fatalf("relay decode: %v", err)
	}
	return got
}

// acceptedPair builds an outbound/inbound pair already through the
// offer/accept exchange.
func acceptedPair(t *testing.T, data []byte, chunkSize uint32) (*Outbound, *Inbound) {
	t.Helper()
	out := NewOutbound(11, "data.bin", "test payload", data, chunkSize, testNegotiated())
	offer, err := out.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	in, err := NewInbound(relay(t, offer), testNegotiated())
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	accept, err := in.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := out.HandleAck(relay(t, accept)); err != nil {
		t.Fatalf("handle accept: %v", err)
	}
	if out.State() != TransferSending {
		t.Fatalf("sender state = %s after acceptance", out.State())
	}
	return out, in
}

func TestTransfer_HappyPath(t *testing.T) {
	data := bytes.Repeat([]byte("QSL QSL QSL de N0CALL "), 50)
	out, in := acceptedPair(t, data, 64)

	var completion *Message
	for {
		chunk, ok := out.NextChunk()
		if !ok {
			break
		}
		resp, err := in.HandleChunk(relay(t, chunk))
		if err != nil {
			t.Fatalf("chunk %d: %v", chunk.ChunkIndex, err)
		}
		resp = relay(t, resp)
		if resp.MessageID == CompletionID {
			completion = resp
			continue // delivered to the sender after the send loop
		}
		if err := out.HandleAck(resp); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}

	// Every chunk is out, but only the receiver's completion ack may
	// finish the transfer.
	if out.State() != TransferAwaitingCompletion {
		t.Fatalf("sender state = %s after last chunk, want AwaitingCompletion", out.State())
	}
	if completion == nil {
		t.Fatal("receiver never produced a completion ack")
	}
	if err := out.HandleAck(completion); err != nil {
		t.Fatalf("completion: %v", err)
	}
	if out.State() != TransferCompleted || in.State() != TransferCompleted {
		t.Fatalf("states = %s / %s", out.State(), in.State())
	}

	got, err := in.Data()
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("assembled file differs from the original")
	}
	if completion.Metrics == nil || completion.Metrics.ChunksReceived != out.TotalChunks() {
		t.Errorf("completion metrics = %+v", completion.Metrics)
	}
}

func TestTransfer_RejectionFailsSender(t *testing.T) {
	out := NewOutbound(12, "data.bin", "", []byte("unwanted"), 64, testNegotiated())
	offer, _ := out.Start()
	in, err := NewInbound(relay(t, offer), testNegotiated())
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	nack, err := in.Reject("no space")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := out.HandleNack(relay(t, nack)); err != nil {
		t.Fatalf("handle nack: %v", err)
	}
	if out.State() != TransferFailed || in.State() != TransferFailed {
		t.Errorf("states = %s / %s", out.State(), in.State())
	}
}

func TestTransfer_PauseOnlyWhileSending(t *testing.T) {
	out := NewOutbound(13, "data.bin", "", []byte("data"), 64, testNegotiated())
	if err := out.Pause(); err == nil {
		t.Error("pause allowed in Pending")
	}
	if _, err := out.Start(); err != nil {
		t.Fatal(err)
	}
	if err := out.Pause(); err == nil {
		t.Error("pause allowed in AwaitingAcceptance")
	}

	out2, _ := acceptedPair(t, []byte("data"), 64)
	if err := out2.Pause(); err != nil {
		t.Fatalf("pause while sending: %v", err)
	}
	if _, ok := out2.NextChunk(); ok {
		t.Error("paused transfer still produced a chunk")
	}
	if err := out2.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, ok := out2.NextChunk(); !ok {
		t.Error("resumed transfer produced no chunk")
	}
}

func TestTransfer_CancelFromNonTerminalStates(t *testing.T) {
	// Pending.
	out := NewOutbound(14, "a", "", []byte("x"), 64, testNegotiated())
	if err := out.Cancel("operator abort"); err != nil {
		t.Errorf("cancel in Pending: %v", err)
	}
	if out.State() != TransferFailed {
		t.Errorf("state = %s", out.State())
	}

	// Sending.
	out2, _ := acceptedPair(t, []byte("x"), 64)
	if err := out2.Cancel("operator abort"); err != nil {
		t.Errorf("cancel in Sending: %v", err)
	}

	// Terminal states refuse.
	if err := out2.Cancel("again"); err == nil {
		t.Error("cancel allowed in Failed")
	}
}

func TestTransfer_CorruptChunkNackAndResend(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 32)
	out, in := acceptedPair(t, data, 64)

	chunk, ok := out.NextChunk()
	if !ok {
		t.Fatal("no chunk")
	}
	// Corrupt the payload in flight; the CRC no longer matches.
	bad := relay(t, chunk)
	bad.Payload[0] ^= 0xFF
	resp, err := in.HandleChunk(bad)
	if err == nil {
		t.Fatal("corrupt chunk accepted")
	}
	if resp.Type != MsgNack || resp.ChunkIndex != chunk.ChunkIndex {
		t.Fatalf("response = %v chunk=%d", resp.Type, resp.ChunkIndex)
	}

	if err := out.HandleNack(relay(t, resp)); err != nil {
		t.Fatalf("handle nack: %v", err)
	}
	// The nacked chunk comes around again before new ones.
	again, ok := out.NextChunk()
	if !ok || again.ChunkIndex != chunk.ChunkIndex {
		t.Fatalf("resend = %v/%v, want chunk %d", again, ok, chunk.ChunkIndex)
	}
}

func TestTransfer_GuardRejectedChunkResendStored(t *testing.T) {
	data := []byte("single chunk of data")
	out, in := acceptedPair(t, data, 64)

	chunk, ok := out.NextChunk()
	if !ok {
		t.Fatal("no chunk")
	}
	// A chunk declaring an inflated size past the negotiated limit is
	// nacked by the decompression guard before anything is stored.
	bad := relay(t, chunk)
	bad.Compression = CompressionZlib
	bad.OriginalLen = in.neg.MaxDecompressedLen + 1
	if _, err := in.HandleChunk(bad); err == nil {
		t.Fatal("oversized chunk accepted")
	}
	if in.ReceivedChunks() != 0 {
		t.Fatalf("stored chunks = %d after guard rejection", in.ReceivedChunks())
	}

	// The corrected resend reuses the same message id and must be
	// stored, not answered as a duplicate of the rejected one.
	resp, err := in.HandleChunk(relay(t, chunk))
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	resp = relay(t, resp)
	if resp.MessageID != CompletionID {
		t.Fatalf("response id = %#x, want completion", resp.MessageID)
	}
	if resp.Metrics == nil || resp.Metrics.Duplicates != 0 {
		t.Errorf("metrics = %+v", resp.Metrics)
	}
	if err := out.HandleAck(resp); err != nil {
		t.Fatal(err)
	}
	got, err := in.Data()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("assembled file differs from the original")
	}
}

func TestTransfer_ChunkRetryBudgetExhausted(t *testing.T) {
	out, _ := acceptedPair(t, []byte("payload"), 64)
	nack := &Message{Type: MsgNack, SessionID: 11, MessageID: 1, ChunkIndex: 0}
	var err error
	for i := 0; i <= DefaultChunkRetries; i++ {
		err = out.HandleNack(nack)
	}
	if err == nil {
		t.Fatal("retry budget never exhausted")
	}
	if out.State() != TransferFailed {
		t.Errorf("state = %s", out.State())
	}
}

func TestTransfer_LostChunkRecoveredViaSACK(t *testing.T) {
	data := bytes.Repeat([]byte("01234567"), 24) // 3 chunks of 64
	out, in := acceptedPair(t, data, 64)

	dropped := false
	for {
		chunk, ok := out.NextChunk()
		if !ok {
			break
		}
		if chunk.ChunkIndex == 1 && !dropped {
			dropped = true // lost in flight
			continue
		}
		resp, err := in.HandleChunk(relay(t, chunk))
		if err != nil {
			t.Fatalf("chunk %d: %v", chunk.ChunkIndex, err)
		}
		if err := out.HandleAck(relay(t, resp)); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}
	if out.State() != TransferAwaitingCompletion {
		t.Fatalf("state = %s", out.State())
	}

	// The completion ack is overdue; the receiver's SACK names the
	// hole and the sender requeues it.
	if n := out.ResendMissing(); n != 1 {
		t.Fatalf("requeued %d chunks, want 1", n)
	}
	if out.State() != TransferSending {
		t.Fatalf("state = %s after requeue", out.State())
	}
	chunk, ok := out.NextChunk()
	if !ok || chunk.ChunkIndex != 1 {
		t.Fatalf("resend = %v/%v", chunk, ok)
	}
	resp, err := in.HandleChunk(relay(t, chunk))
	if err != nil {
		t.Fatalf("resent chunk: %v", err)
	}
	resp = relay(t, resp)
	if resp.MessageID != CompletionID {
		t.Fatalf("response id = %#x, want completion", resp.MessageID)
	}
	if err := out.HandleAck(resp); err != nil {
		t.Fatal(err)
	}
	if out.State() != TransferCompleted {
		t.Errorf("state = %s", out.State())
	}
	got, err := in.Data()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("recovered file differs")
	}
}

func TestTransfer_DuplicateChunkCounted(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 200) // 4 chunks of 64
	out, in := acceptedPair(t, data, 64)

	chunk, _ := out.NextChunk()
	if _, err := in.HandleChunk(relay(t, chunk)); err != nil {
		t.Fatal(err)
	}
	resp, err := in.HandleChunk(relay(t, chunk)) // radio re-delivery
	if err != nil {
		t.Fatalf("duplicate rejected with error: %v", err)
	}
	if resp.Metrics == nil || resp.Metrics.Duplicates != 1 || resp.Metrics.ChunksReceived != 1 {
		t.Errorf("metrics = %+v", resp.Metrics)
	}
	if in.ReceivedChunks() != 1 {
		t.Errorf("stored chunks = %d", in.ReceivedChunks())
	}
}

func TestTransfer_HashMismatchFailsWithNack(t *testing.T) {
	out, in := acceptedPair(t, []byte("original content"), 64)
	in.Meta.Hash[0] ^= 0xFF // receiver expects a different file

	chunk, _ := out.NextChunk()
	resp, err := in.HandleChunk(relay(t, chunk))
	if err == nil {
		t.Fatal("hash mismatch accepted")
	}
	if resp.Type != MsgNack || resp.MessageID != CompletionID {
		t.Fatalf("response = %v id=%#x", resp.Type, resp.MessageID)
	}
	if in.State() != TransferFailed {
		t.Errorf("receiver state = %s", in.State())
	}
	if err := out.HandleNack(relay(t, resp)); err != nil {
		t.Fatal(err)
	}
	if out.State() != TransferFailed {
		t.Errorf("sender state = %s", out.State())
	}
}

func TestTransfer_EmptyFileStillTransfers(t *testing.T) {
	out, in := acceptedPair(t, nil, 64)
	chunk, ok := out.NextChunk()
	if !ok {
		t.Fatal("empty file produced no chunk")
	}
	resp, err := in.HandleChunk(relay(t, chunk))
	if err != nil {
		t.Fatal(err)
	}
	resp = relay(t, resp)
	if resp.MessageID != CompletionID {
		t.Fatalf("response id = %#x", resp.MessageID)
	}
	if err := out.HandleAck(resp); err != nil {
		t.Fatal(err)
	}
	got, err := in.Data()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("assembled %d bytes", len(got))
	}
}

func TestTransfer_CompressionShrinksWirePayload(t *testing.T) {
	data := bytes.Repeat([]byte("A"), 512)
	out, _ := acceptedPair(t, data, 1024)
	chunk, ok := out.NextChunk()
	if !ok {
		t.Fatal("no chunk")
	}
	if chunk.Compression != CompressionZlib {
		t.Fatalf("compression = %d", chunk.Compression)
	}
	if len(chunk.Payload) >= 512 || chunk.OriginalLen != 512 {
		t.Errorf("payload %d bytes, original %d", len(chunk.Payload), chunk.OriginalLen)
	}
	if chunk.PayloadCRC != ChunkCRC(chunk.Payload) {
		t.Error("CRC does not cover the wire payload")
	}
}
