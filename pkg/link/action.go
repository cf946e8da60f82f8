// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package link

// ActionKind discriminates the actions a state machine hands back to
// its caller. The machine itself performs no I/O; the Manager turns
// actions into frames, timer operations, and callbacks.
type ActionKind int

// Action kinds
const (
	ActSendSABM ActionKind = iota
	ActSendUA
	ActSendDISC
	ActSendRR
	ActSendREJ

	ActStartT1
	ActStopT1
	ActStartT3
	ActStopT3

	// ActDeliver hands an in-sequence payload to the application.
	ActDeliver
	// ActRetransmit resends every outstanding frame from the send
	// buffer, each stamped with the session's current V(R).
	ActRetransmit
	// ActResetBuffers clears the caller's send-side bookkeeping after
	// a link re-establishment reset the sequence state.
	ActResetBuffers

	ActNotifyConnected
	ActNotifyDisconnected
	ActNotifyError
)

// Action is one entry of a state machine's ordered action list.
// NR and Final apply to the send kinds; Payload to ActDeliver;
// Reason to ActNotifyError.
type Action struct {
	Kind    ActionKind
	NR      int
	Final   bool
	Payload []byte
	Reason  string
}

func sendRR(nr int, final bool) Action {
	return Action{Kind: ActSendRR, NR: nr, Final: final}
}

func sendREJ(nr int, final bool) Action {
	return Action{Kind: ActSendREJ, NR: nr, Final: final}
}

func notifyError(reason string) Action {
	return Action{Kind: ActNotifyError, Reason: reason}
}
