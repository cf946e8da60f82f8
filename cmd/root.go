// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// TCP connection flags
	tcpAddr string

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Station flags
	callsign string
	channel  uint8
	viaPath  []string

	configPath string
	debug      bool

	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "paxterm",
	Short: "AX.25 Packet-Radio Terminal",
	Long: `Paxterm - a terminal for AX.25 packet radio over a KISS TNC.

Provides connected-mode sessions with reliable sliding-window delivery,
file transfer, chat, beaconing, and a promiscuous channel monitor.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 57600]
  TCP:       --tcp host:8001 (Direwolf, ser2net, most software TNCs)
  WebSocket: --url ws://host/path [--username user]

Most commands need a station identity: --callsign N0CALL-1, or set
callsign in ~/.paxterm.toml. Digipeater paths are given with --via.

For WebSocket authentication, the password is read from the PAXTERM_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version: "1.0.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			log.SetLevel(logrus.DebugLevel)
		}
		return applyConfigFile(cmd)
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial KISS TNC device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 57600, "Baud rate (serial only)")

	// TCP connection flags
	rootCmd.PersistentFlags().StringVarP(&tcpAddr, "tcp", "t", "", "KISS-over-TCP address (host:port)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Station flags
	rootCmd.PersistentFlags().StringVarP(&callsign, "callsign", "c", "", "Local station callsign (CALL or CALL-SSID)")
	rootCmd.PersistentFlags().Uint8Var(&channel, "channel", 0, "TNC channel (KISS port number)")
	rootCmd.PersistentFlags().StringSliceVar(&viaPath, "via", nil, "Digipeater path (repeatable or comma separated)")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.paxterm.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
