// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package link

// EventKind discriminates state machine events. Local requests,
// decoded inbound frames, and timer expiries all feed the machine
// through the same ordered event stream.
type EventKind int

// Event kinds
const (
	// Local requests
	EvConnect EventKind = iota
	EvDisconnect
	EvForceDisconnect
	// EvRecoverLateUA forces a Disconnected or Error session to
	// Connected when the manager decides a late UA is trustworthy.
	// Ordinary unsolicited UAs are ignored.
	EvRecoverLateUA

	// Inbound unnumbered frames
	EvSABM
	EvUA
	EvDM
	EvDISC
	EvFRMR

	// Inbound supervisory frames
	EvRR
	EvRNR
	EvREJ

	// Inbound information frame
	EvIFrame

	// Timer expiries
	EvT1Expired
	EvT3Expired
)

// Event is one state machine input. NS, NR, PF and Payload are
// populated only for the frame kinds that carry them.
type Event struct {
	Kind    EventKind
	NS      int
	NR      int
	PF      bool
	Payload []byte
}

func (k EventKind) String() string {
	names := map[EventKind]string{
		EvConnect:         "connect",
		EvDisconnect:      "disconnect",
		EvForceDisconnect: "force-disconnect",
		EvRecoverLateUA:   "recover-late-ua",
		EvSABM:            "sabm",
		EvUA:              "ua",
		EvDM:              "dm",
		EvDISC:            "disc",
		EvFRMR:            "frmr",
		EvRR:              "rr",
		EvRNR:             "rnr",
		EvREJ:             "rej",
		EvIFrame:          "iframe",
		EvT1Expired:       "t1-expired",
		EvT3Expired:       "t3-expired",
	}
	if s, ok := names[k]; ok {
		return s
	}
	return "unknown"
}
