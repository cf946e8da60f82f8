// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/radiogear/paxterm/pkg/ax25"
	"github.com/radiogear/paxterm/pkg/axdp"
	"github.com/radiogear/paxterm/pkg/link"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping <remote-callsign>",
	Short: "Test a connected-mode link by exchanging application pings",
	Long: `Establish a connected-mode AX.25 link to the remote station and
exchange application-level ping/pong messages over it.

Each ping is delivered reliably by the link layer, so the measured
round-trip time includes any link-layer retransmissions. This verifies
the full path: KISS framing, AX.25 connected mode, and the application
protocol at the far end.

Exit codes:
  0 - All pings answered
  1 - One or more pings timed out
  2 - Connection or link establishment error`,
	Args: cobra.ExactArgs(1),
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 30, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	local, err := localStation()
	if err != nil {
		return err
	}
	remote, err := ax25.ParseAddress(args[0])
	if err != nil {
		return fmt.Errorf("invalid remote callsign %q: %v", args[0], err)
	}
	path, err := viaAddresses()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Paxterm - Link Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Link: %s -> %s\n", local, remote)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	connected := make(chan string, 1)
	pongs := make(chan uint32, 16)

	cb := link.Callbacks{
		OnStateChange: func(key link.SessionKey, state link.State, reason string) {
			switch state {
			case link.StateConnected:
				select {
				case connected <- "":
				default:
				}
			default:
				if reason != "" {
					select {
					case connected <- reason:
					default:
					}
				}
			}
		},
		OnData: func(key link.SessionKey, payload []byte) {
			for len(payload) > 0 {
				msg, n, err := axdp.DecodeMessage(payload)
				if err != nil {
					return
				}
				if msg.Type == axdp.MsgPong {
					select {
					case pongs <- msg.MessageID:
					default:
					}
				}
				payload = payload[n:]
			}
		},
	}

	e := newEngine(conn, local, sessionConfig(), cb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.run(ctx) }()

	var key link.SessionKey
	e.do(func() {
		key, err = e.Mgr.Connect(remote, path, channel)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connect error: %v\n", err)
		os.Exit(2)
	}

	select {
	case reason := <-connected:
		if reason != "" {
			fmt.Fprintf(os.Stderr, "Link failed: %s\n", reason)
			os.Exit(2)
		}
		fmt.Printf("Link established\n\n")
	case <-time.After(time.Duration(pingTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: link not established in %ds\n", pingTimeout)
		os.Exit(2)
	}

	successCount := 0
	failCount := 0
	sessionID := uint32(time.Now().Unix())

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		msg := &axdp.Message{Type: axdp.MsgPing, SessionID: sessionID, MessageID: uint32(i)}
		startTime := time.Now()
		var sendErr error
		e.do(func() {
			sendErr = e.Mgr.SendData(key, msg.Encode())
		})
		if sendErr != nil {
			fmt.Printf("SEND FAILED: %v\n", sendErr)
			failCount++
			continue
		}

		deadline := time.After(time.Duration(pingTimeout) * time.Second)
	wait:
		for {
			select {
			case id := <-pongs:
				if id != uint32(i) {
					continue // stale pong from an earlier timed-out ping
				}
				rtt := time.Since(startTime)
				fmt.Printf("PONG from %s, rtt=%v\n", remote, rtt.Round(time.Millisecond))
				successCount++
				break wait
			case <-deadline:
				fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
				failCount++
				break wait
			}
		}
	}

	var linkStats string
	e.do(func() {
		if s, ok := e.Mgr.Session(key); ok {
			linkStats = s.Stats.String()
		}
		_ = e.Mgr.Disconnect(key)
	})

	fmt.Printf("\n%s", linkStats)
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
