// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/radiogear/paxterm/pkg/ax25"
	"github.com/radiogear/paxterm/pkg/kiss"
)

var (
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for a valid AX.25 frame",
	Long: `Wait for a valid AX.25 frame on the connection until timeout.

This command connects to a TNC and waits for any frame that passes KISS
framing and AX.25 decoding. Invalid bytes and undecodable frames are
ignored.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for verifying that the TNC is attached to an active channel.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 30, "Timeout in seconds to wait for a frame")
}

func runProbe(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Paxterm - Channel Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for valid AX.25 frame...\n\n")

	frameChan := make(chan *ax25.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		framer := kiss.NewFramer()
		buf := make([]byte, 4096)
		rejected := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for _, kf := range framer.Feed(buf[:n]) {
				f, decodeErr := ax25.Decode(kf.Payload)
				if decodeErr != nil {
					rejected++
					continue
				}
				if rejected > 0 {
					fmt.Printf("(skipped %d undecodable frames before sync)\n", rejected)
				}
				frameChan <- f
				return
			}
		}
	}()

	select {
	case f := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  From: %s\n", f.Source)
		fmt.Printf("  To: %s\n", f.Destination)
		fmt.Printf("  Type: %s\n", f.Control)
		fmt.Printf("  Payload: %d bytes\n", len(f.Payload))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(probeTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", probeTimeout)
		os.Exit(1)
	}

	return nil
}
