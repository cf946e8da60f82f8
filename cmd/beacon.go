// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/radiogear/paxterm/pkg/ax25"
	"github.com/radiogear/paxterm/pkg/kiss"
)

var (
	beaconDest     string
	beaconInterval time.Duration
	beaconCount    int
)

var beaconCmd = &cobra.Command{
	Use:   "beacon <text>",
	Short: "Transmit periodic UI beacon frames",
	Long: `Transmit the given text as connectionless UI frames at a fixed interval.

Beacons are addressed to the destination given with --dest (default ID)
and routed through any digipeaters given with --via. With --count 0 the
beacon repeats until interrupted; otherwise it stops after the given
number of transmissions.

The first beacon is sent immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runBeacon,
}

func init() {
	beaconCmd.Flags().StringVar(&beaconDest, "dest", "ID", "Destination address for the beacon")
	beaconCmd.Flags().DurationVar(&beaconInterval, "interval", 10*time.Minute, "Time between beacons")
	beaconCmd.Flags().IntVar(&beaconCount, "count", 0, "Number of beacons to send (0 = until interrupted)")
	rootCmd.AddCommand(beaconCmd)
}

func runBeacon(cmd *cobra.Command, args []string) error {
	local, err := localStation()
	if err != nil {
		return err
	}
	dest, err := ax25.ParseAddress(beaconDest)
	if err != nil {
		return fmt.Errorf("invalid destination %q: %v", beaconDest, err)
	}
	path, err := viaAddresses()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	f := &ax25.Frame{
		Destination: dest,
		Source:      local,
		Path:        path,
		Control:     ax25.Control{Class: ax25.ClassU, UType: ax25.UUI},
		PID:         ax25.PIDNoLayer3,
		Payload:     []byte(args[0]),
	}
	wire, err := f.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode beacon: %v", err)
	}

	fmt.Printf("Paxterm - Beacon\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Beacon: %s>%s every %s\n\n", local, dest, beaconInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(beaconInterval)
	defer ticker.Stop()

	sent := 0
	for {
		if _, err := conn.Write(kiss.Encode(channel, wire)); err != nil {
			return fmt.Errorf("transmit failed: %v", err)
		}
		sent++
		log.WithField("count", sent).Info("Beacon transmitted")
		if beaconCount > 0 && sent >= beaconCount {
			return nil
		}
		select {
		case <-ticker.C:
		case <-sigCh:
			fmt.Printf("\nSent %d beacon(s)\n", sent)
			return nil
		}
	}
}
