// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package cmd

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/radiogear/paxterm/pkg/ax25"
	"github.com/radiogear/paxterm/pkg/kiss"
)

var (
	monitorCborLog       string
	monitorShowHex       bool
	monitorPortOnly      int
	monitorStatsInterval int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display decoded AX.25 traffic in human-readable format",
	Long: `Continuously decode and display AX.25 frames as they arrive.

Every frame heard on the channel is shown with a timestamp, the source
and destination callsigns, the digipeater path, the frame type with its
sequence numbers, and any payload. Frames that fail to decode are
reported and skipped; the byte stream resynchronizes on the next KISS
delimiter.

With --cbor-log, every decoded frame is also appended to a CBOR capture
file for later analysis.

Supports serial, TCP, and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&monitorCborLog, "cbor-log", "", "Append decoded frames to a CBOR capture file")
	monitorCmd.Flags().BoolVar(&monitorShowHex, "hex", false, "Show payloads as hex instead of text")
	monitorCmd.Flags().IntVar(&monitorPortOnly, "only-port", -1, "Show only frames from this TNC port")
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 0, "Print a statistics summary every N seconds (0 = never)")
	rootCmd.AddCommand(monitorCmd)
}

// capturedFrame is the CBOR capture record for one heard frame.
type capturedFrame struct {
	Time        time.Time `cbor:"time"`
	Port        uint8     `cbor:"port"`
	Source      string    `cbor:"src"`
	Destination string    `cbor:"dst"`
	Path        []string  `cbor:"path,omitempty"`
	Control     string    `cbor:"ctl"`
	Payload     []byte    `cbor:"payload,omitempty"`
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	var capture *cbor.Encoder
	if monitorCborLog != "" {
		f, err := os.OpenFile(monitorCborLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open capture file: %v", err)
		}
		defer f.Close()
		capture = cbor.NewEncoder(f)
	}

	fmt.Printf("Paxterm - Channel Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var frames, bytes, bad atomic.Uint64
	if monitorStatsInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(monitorStatsInterval) * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				fmt.Printf("--- %d frames, %d payload bytes, %d undecodable ---\n",
					frames.Load(), bytes.Load(), bad.Load())
			}
		}()
	}

	framer := kiss.NewFramer()
	buf := make([]byte, 4096)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if err == ErrConnectionClosed {
				log.Info("Connection closed")
				return nil
			}
			log.WithError(err).Error("Read error")
			continue
		}

		for _, kf := range framer.Feed(buf[:n]) {
			if monitorPortOnly >= 0 && int(kf.Port) != monitorPortOnly {
				continue
			}
			f, err := ax25.Decode(kf.Payload)
			if err != nil {
				bad.Add(1)
				fmt.Printf("[%s] [port %d] undecodable frame (%d bytes): %v\n",
					time.Now().Format("15:04:05.000"), kf.Port, len(kf.Payload), err)
				continue
			}
			frames.Add(1)
			bytes.Add(uint64(len(f.Payload)))
			printFrame(kf.Port, f)
			if capture != nil {
				if err := capture.Encode(captureRecord(kf.Port, f)); err != nil {
					log.WithError(err).Error("Capture write failed")
					capture = nil
				}
			}
		}
	}
}

func captureRecord(port uint8, f *ax25.Frame) capturedFrame {
	rec := capturedFrame{
		Time:        time.Now(),
		Port:        port,
		Source:      f.Source.String(),
		Destination: f.Destination.String(),
		Control:     f.Control.String(),
		Payload:     f.Payload,
	}
	for _, digi := range f.Path {
		rec.Path = append(rec.Path, digi.String())
	}
	return rec
}

func printFrame(port uint8, f *ax25.Frame) {
	ts := time.Now().Format("15:04:05.000")
	path := ""
	for _, digi := range f.Path {
		path += "," + digi.String()
	}
	fmt.Printf("[%s] [port %d] %s>%s%s <%s>", ts, port, f.Source, f.Destination, path, f.Control)
	if len(f.Payload) > 0 {
		if monitorShowHex || !printable(f.Payload) {
			fmt.Printf(" % x", f.Payload)
		} else {
			fmt.Printf(" %s", f.Payload)
		}
	}
	fmt.Println()
}

// printable reports whether a payload is safe to print as text.
func printable(p []byte) bool {
	for _, b := range p {
		if (b < 0x20 || b > 0x7e) && b != '\r' && b != '\n' && b != '\t' {
			return false
		}
	}
	return true
}
