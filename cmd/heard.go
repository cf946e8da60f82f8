// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/radiogear/paxterm/pkg/ax25"
	"github.com/radiogear/paxterm/pkg/kiss"
)

var (
	heardDuration int
)

var heardCmd = &cobra.Command{
	Use:   "heard",
	Short: "Listen passively and list stations heard on the channel",
	Long: `Listen to the channel for a fixed duration and report every station
heard, with frame counts and the time each was last heard.

Only source addresses of directly decoded frames are counted; stations
known only as digipeater path entries are not listed.

Exit codes:
  0 - At least one station heard
  1 - No stations heard within the listen window
  2 - Connection error`,
	RunE: runHeard,
}

func init() {
	rootCmd.AddCommand(heardCmd)
	heardCmd.Flags().IntVar(&heardDuration, "duration", 60, "Listen duration in seconds")
}

type heardStation struct {
	call      string
	frames    int
	bytes     int
	lastHeard time.Time
	viaDigi   bool
}

func runHeard(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Paxterm - Stations Heard\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Listening for %d seconds...\n\n", heardDuration)

	stations := make(map[string]*heardStation)
	framesCh := make(chan *ax25.Frame, 16)
	errChan := make(chan error, 1)

	go func() {
		framer := kiss.NewFramer()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			for _, kf := range framer.Feed(buf[:n]) {
				f, decodeErr := ax25.Decode(kf.Payload)
				if decodeErr != nil {
					continue
				}
				framesCh <- f
			}
		}
	}()

	deadline := time.After(time.Duration(heardDuration) * time.Second)

collect:
	for {
		select {
		case f := <-framesCh:
			call := f.Source.String()
			st, ok := stations[call]
			if !ok {
				st = &heardStation{call: call}
				stations[call] = st
				fmt.Printf("New station: %s\n", call)
			}
			st.frames++
			st.bytes += len(f.Payload)
			st.lastHeard = time.Now()
			// A frame arriving through a used digipeater marks the
			// source as not directly reachable.
			for _, digi := range f.Path {
				if digi.Repeated {
					st.viaDigi = true
					break
				}
			}
		case err := <-errChan:
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)
		case <-deadline:
			break collect
		}
	}

	fmt.Printf("\n--- Stations heard ---\n")
	if len(stations) == 0 {
		fmt.Printf("No stations heard in %d seconds.\n", heardDuration)
		os.Exit(1)
	}

	sorted := make([]*heardStation, 0, len(stations))
	for _, st := range stations {
		sorted = append(sorted, st)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].frames > sorted[j].frames
	})

	fmt.Printf("%-12s %8s %8s %10s %s\n", "STATION", "FRAMES", "BYTES", "LAST", "PATH")
	for _, st := range sorted {
		path := "direct"
		if st.viaDigi {
			path = "digipeated"
		}
		fmt.Printf("%-12s %8d %8d %10s %s\n",
			st.call, st.frames, st.bytes, st.lastHeard.Format("15:04:05"), path)
	}
	return nil
}
