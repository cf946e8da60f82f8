// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package axdp

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"time"
)

// TransferState is one phase of a chunked file transfer.
type TransferState int

// Transfer states. Completed and Failed are terminal.
const (
	TransferPending TransferState = iota
	TransferAwaitingAcceptance
	TransferSending
	TransferPaused
	TransferAwaitingCompletion
	TransferCompleted
	TransferFailed
)

func (s TransferState) String() string {
	switch s {
	case TransferPending:
		return "Pending"
	case TransferAwaitingAcceptance:
		return "AwaitingAcceptance"
	case TransferSending:
		return "Sending"
	case TransferPaused:
		return "Paused"
	case TransferAwaitingCompletion:
		return "AwaitingCompletion"
	case TransferCompleted:
		return "Completed"
	case TransferFailed:
		return "Failed"
	}
	return "Unknown"
}

func (s TransferState) terminal() bool {
	return s == TransferCompleted || s == TransferFailed
}

// DefaultChunkRetries bounds per-chunk resend attempts.
const DefaultChunkRetries = 8

// metadataID is the message id of the opening file-metadata message
// and of the acceptance ack/nack answering it.
const metadataID uint32 = 0

// Outbound is the sender side of one chunked file transfer. It is a
// pure state machine: the caller transmits the messages it returns
// and feeds ack/nack messages back in.
type Outbound struct {
	SessionID uint32
	Meta      FileMetadata

	chunks     [][]byte
	state      TransferState
	reason     string
	neg        Negotiated
	remote     *SACK // receiver progress, from the latest ack
	resend     []uint32
	retries    map[uint32]int
	maxRetries int
	cursor     uint32
}

// NewOutbound prepares a transfer of data under the negotiated
// agreement. The chunk size is clamped to the negotiated limit.
func NewOutbound(sessionID uint32, name, description string, data []byte, chunkSize uint32, neg Negotiated) *Outbound {
	if chunkSize == 0 {
		chunkSize = 1024
	}
	if neg.MaxChunkLen != 0 && chunkSize > neg.MaxChunkLen {
		chunkSize = neg.MaxChunkLen
	}
	sum := sha256.Sum256(data)
	var chunks [][]byte
	for off := 0; off < len(data); off += int(chunkSize) {
		end := off + int(chunkSize)
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	if len(chunks) == 0 {
		chunks = [][]byte{{}} // empty file still moves one chunk
	}
	return &Outbound{
		SessionID: sessionID,
		Meta: FileMetadata{
			Name:        name,
			Size:        uint64(len(data)),
			Hash:        sum[:],
			ChunkSize:   chunkSize,
			Description: description,
		},
		chunks:     chunks,
		state:      TransferPending,
		neg:        neg,
		remote:     NewSACK(0),
		retries:    make(map[uint32]int),
		maxRetries: DefaultChunkRetries,
	}
}

// State returns the transfer phase.
func (o *Outbound) State() TransferState { return o.state }

// Reason returns the failure reason in the Failed state.
func (o *Outbound) Reason() string { return o.reason }

// TotalChunks returns the number of chunks in the transfer.
func (o *Outbound) TotalChunks() uint32 { return uint32(len(o.chunks)) }

// AckedChunks returns how many chunks the receiver has confirmed.
func (o *Outbound) AckedChunks() uint32 {
	n := o.remote.Base
	for i := o.remote.Base; i < o.TotalChunks(); i++ {
		if o.remote.Contains(i) {
			n++
		}
	}
	return n
}

// Start emits the opening file-metadata message and moves the
// transfer to AwaitingAcceptance.
func (o *Outbound) Start() (*Message, error) {
	if o.state != TransferPending {
		return nil, fmt.Errorf("cannot start transfer in state %s", o.state)
	}
	o.state = TransferAwaitingAcceptance
	return &Message{
		Type:      MsgFileMetadata,
		SessionID: o.SessionID,
		MessageID: metadataID,
		Metadata:  &o.Meta,
	}, nil
}

// HandleAck processes an acknowledgment from the receiver.
func (o *Outbound) HandleAck(m *Message) error {
	if o.state.terminal() {
		return nil
	}
	if m.SACK != nil {
		o.remote = m.SACK
	}
	switch {
	case m.MessageID == metadataID && o.state == TransferAwaitingAcceptance:
		o.state = TransferSending
	case m.MessageID == CompletionID:
		switch o.state {
		case TransferSending, TransferAwaitingCompletion, TransferPaused:
			o.state = TransferCompleted
		}
	}
	return nil
}

// HandleNack processes a rejection. An acceptance nack or completion
// nack fails the transfer; a chunk nack queues a resend until the
// chunk's retry budget runs out.
func (o *Outbound) HandleNack(m *Message) error {
	if o.state.terminal() {
		return nil
	}
	switch m.MessageID {
	case metadataID:
		o.fail("transfer rejected by receiver")
	case CompletionID:
		o.fail("receiver reported transfer failure")
	default:
		idx := m.ChunkIndex
		o.retries[idx]++
		if o.retries[idx] > o.maxRetries {
			o.fail(fmt.Sprintf("chunk %d exceeded %d retries", idx, o.maxRetries))
			return fmt.Errorf("chunk %d exceeded retry budget", idx)
		}
		o.resend = append(o.resend, idx)
		if o.state == TransferAwaitingCompletion {
			o.state = TransferSending
		}
	}
	return nil
}

// ResendMissing queues every chunk the receiver's last SACK reports
// missing, for recovery when the completion ack is overdue. It moves
// an AwaitingCompletion transfer back to Sending when there is work.
func (o *Outbound) ResendMissing() int {
	if o.state != TransferSending && o.state != TransferAwaitingCompletion {
		return 0
	}
	queued := 0
	for _, idx := range o.remote.Missing(o.cursor) {
		o.retries[idx]++
		if o.retries[idx] > o.maxRetries {
			o.fail(fmt.Sprintf("chunk %d exceeded %d retries", idx, o.maxRetries))
			return queued
		}
		o.resend = append(o.resend, idx)
		queued++
	}
	if queued > 0 && o.state == TransferAwaitingCompletion {
		o.state = TransferSending
	}
	return queued
}

// NextChunk returns the next chunk message to transmit, or false when
// the transfer is not Sending or everything has been sent. Sending
// the final chunk moves the transfer to AwaitingCompletion: only the
// receiver's explicit completion ack completes it.
func (o *Outbound) NextChunk() (*Message, bool) {
	if o.state != TransferSending {
		return nil, false
	}
	idx, ok := o.pickChunk()
	if !ok {
		o.state = TransferAwaitingCompletion
		return nil, false
	}
	return o.chunkMessage(idx), true
}

func (o *Outbound) pickChunk() (uint32, bool) {
	for len(o.resend) > 0 {
		idx := o.resend[0]
		o.resend = o.resend[1:]
		if !o.remote.Contains(idx) {
			return idx, true
		}
	}
	for o.cursor < o.TotalChunks() {
		idx := o.cursor
		o.cursor++
		if !o.remote.Contains(idx) {
			return idx, true
		}
	}
	return 0, false
}

func (o *Outbound) chunkMessage(idx uint32) *Message {
	m := &Message{
		Type:        MsgFileChunk,
		SessionID:   o.SessionID,
		MessageID:   idx + 1,
		ChunkIndex:  idx,
		TotalChunks: o.TotalChunks(),
		Payload:     o.chunks[idx],
	}
	if o.neg.CompressionEnabled() {
		if packed, err := Compress(o.chunks[idx]); err == nil && len(packed) < len(o.chunks[idx]) {
			m.Payload = packed
			m.Compression = CompressionZlib
			m.OriginalLen = uint32(len(o.chunks[idx]))
		}
	}
	// The CRC covers the payload as it travels, compressed or not.
	m.PayloadCRC = ChunkCRC(m.Payload)
	return m
}

// Pause suspends chunk flow. Only a Sending transfer can pause.
func (o *Outbound) Pause() error {
	if o.state != TransferSending {
		return fmt.Errorf("cannot pause transfer in state %s", o.state)
	}
	o.state = TransferPaused
	return nil
}

// Resume re-enables chunk flow after a pause.
func (o *Outbound) Resume() error {
	if o.state != TransferPaused {
		return fmt.Errorf("cannot resume transfer in state %s", o.state)
	}
	o.state = TransferSending
	return nil
}

// Cancel aborts the transfer from any non-terminal state.
func (o *Outbound) Cancel(reason string) error {
	if o.state.terminal() {
		return fmt.Errorf("transfer already %s", o.state)
	}
	o.fail("cancelled: " + reason)
	return nil
}

func (o *Outbound) fail(reason string) {
	o.state = TransferFailed
	o.reason = reason
}

// Inbound is the receiver side of one chunked file transfer.
type Inbound struct {
	SessionID uint32
	Meta      FileMetadata

	total   uint32
	chunks  map[uint32][]byte
	sack    *SACK
	dup     *DupTracker
	neg     Negotiated
	state   TransferState
	reason  string
	started time.Time

	metrics TransferMetrics
}

// NewInbound builds the receiver state from an offered file-metadata
// message.
func NewInbound(m *Message, neg Negotiated) (*Inbound, error) {
	if m.Type != MsgFileMetadata || m.Metadata == nil {
		return nil, fmt.Errorf("message %s is not a file offer", m.Type)
	}
	meta := *m.Metadata
	total := uint32((meta.Size + uint64(meta.ChunkSize) - 1) / uint64(meta.ChunkSize))
	if total == 0 {
		total = 1
	}
	return &Inbound{
		SessionID: m.SessionID,
		Meta:      meta,
		total:     total,
		chunks:    make(map[uint32][]byte),
		sack:      NewSACK(0),
		dup:       NewDupTracker(1024),
		neg:       neg,
		state:     TransferPending,
		started:   time.Now(),
	}, nil
}

// State returns the transfer phase.
func (in *Inbound) State() TransferState { return in.state }

// Reason returns the failure reason in the Failed state.
func (in *Inbound) Reason() string { return in.reason }

// TotalChunks returns the expected chunk count.
func (in *Inbound) TotalChunks() uint32 { return in.total }

// ReceivedChunks returns how many distinct chunks have arrived.
func (in *Inbound) ReceivedChunks() uint32 { return uint32(len(in.chunks)) }

// Accept agrees to receive the file and returns the acceptance ack.
func (in *Inbound) Accept() (*Message, error) {
	if in.state != TransferPending {
		return nil, fmt.Errorf("cannot accept transfer in state %s", in.state)
	}
	in.state = TransferSending
	return &Message{Type: MsgAck, SessionID: in.SessionID, MessageID: metadataID}, nil
}

// Reject declines the offer and returns the rejection nack.
func (in *Inbound) Reject(reason string) (*Message, error) {
	if in.state != TransferPending {
		return nil, fmt.Errorf("cannot reject transfer in state %s", in.state)
	}
	in.fail("rejected: " + reason)
	return &Message{Type: MsgNack, SessionID: in.SessionID, MessageID: metadataID}, nil
}

// HandleChunk verifies and stores one chunk message and returns the
// response to transmit: a SACK-bearing ack, a nack for a corrupt
// chunk, or the completion ack/nack once the last chunk lands.
func (in *Inbound) HandleChunk(m *Message) (*Message, error) {
	if in.state != TransferSending {
		return nil, fmt.Errorf("chunk received in state %s", in.state)
	}
	if m.ChunkIndex >= in.total {
		return in.nack(m), fmt.Errorf("chunk index %d out of range (total %d)", m.ChunkIndex, in.total)
	}
	if ChunkCRC(m.Payload) != m.PayloadCRC {
		return in.nack(m), fmt.Errorf("chunk %d checksum mismatch", m.ChunkIndex)
	}

	payload := m.Payload
	if m.Compression != CompressionNone {
		out, err := Decompress(m.Compression, m.Payload, m.OriginalLen, in.neg.MaxDecompressedLen)
		if err != nil {
			return in.nack(m), fmt.Errorf("chunk %d: %w", m.ChunkIndex, err)
		}
		payload = out
	}

	// Record only chunks that survive every guard, so a nacked chunk's
	// corrected resend is not mistaken for a duplicate.
	if in.dup.Seen(m.SessionID, m.MessageID) {
		in.metrics.Duplicates++
		return in.ack(m.MessageID), nil
	}

	in.chunks[m.ChunkIndex] = append([]byte{}, payload...)
	in.sack.Mark(m.ChunkIndex)
	in.metrics.ChunksReceived++
	in.metrics.BytesReceived += uint64(len(payload))

	if in.sack.Complete(in.total) {
		return in.finish()
	}
	return in.ack(m.MessageID), nil
}

// finish assembles the file, checks the hash, and emits the explicit
// completion ack or nack.
func (in *Inbound) finish() (*Message, error) {
	var buf bytes.Buffer
	for i := uint32(0); i < in.total; i++ {
		buf.Write(in.chunks[i])
	}
	in.metrics.ElapsedMS = uint32(time.Since(in.started).Milliseconds())

	if len(in.Meta.Hash) > 0 {
		sum := sha256.Sum256(buf.Bytes())
		if !bytes.Equal(sum[:], in.Meta.Hash) {
			in.fail("assembled file hash mismatch")
			return &Message{
				Type:      MsgNack,
				SessionID: in.SessionID,
				MessageID: CompletionID,
				Metrics:   &in.metrics,
			}, fmt.Errorf("assembled file hash mismatch")
		}
	}
	in.state = TransferCompleted
	return &Message{
		Type:      MsgAck,
		SessionID: in.SessionID,
		MessageID: CompletionID,
		SACK:      in.sack,
		Metrics:   &in.metrics,
	}, nil
}

// Data returns the assembled file after completion.
func (in *Inbound) Data() ([]byte, error) {
	if in.state != TransferCompleted {
		return nil, fmt.Errorf("transfer is %s", in.state)
	}
	var buf bytes.Buffer
	for i := uint32(0); i < in.total; i++ {
		buf.Write(in.chunks[i])
	}
	return buf.Bytes(), nil
}

// Cancel aborts reception from any non-terminal state.
func (in *Inbound) Cancel(reason string) error {
	if in.state.terminal() {
		return fmt.Errorf("transfer already %s", in.state)
	}
	in.fail("cancelled: " + reason)
	return nil
}

func (in *Inbound) ack(messageID uint32) *Message {
	return &Message{
		Type:      MsgAck,
		SessionID: in.SessionID,
		MessageID: messageID,
		SACK:      in.sack,
		Metrics:   &in.metrics,
	}
}

func (in *Inbound) nack(m *Message) *Message {
	return &Message{
		Type:       MsgNack,
		SessionID:  in.SessionID,
		MessageID:  m.MessageID,
		ChunkIndex: m.ChunkIndex,
	}
}

func (in *Inbound) fail(reason string) {
	in.state = TransferFailed
	in.reason = reason
}
