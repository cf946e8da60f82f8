// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs
//
// Paxterm - Packet Radio Terminal
//
// A terminal for AX.25 packet radio over KISS TNCs: channel
// monitoring, connected-mode sessions, and reliable file transfer.

package main

import "github.com/radiogear/paxterm/cmd"

func main() {
	cmd.Execute()
}
