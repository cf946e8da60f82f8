// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/radiogear/paxterm/pkg/link"
)

// fileConfig mirrors ~/.paxterm.toml. Flags given on the command line
// always win over file values.
type fileConfig struct {
	Callsign string `toml:"callsign"`
	Port     string `toml:"port"`
	Baud     int    `toml:"baud"`
	TCP      string `toml:"tcp"`
	URL      string `toml:"url"`
	Username string `toml:"username"`

	Link linkConfig `toml:"link"`
}

type linkConfig struct {
	Window          int `toml:"window"`
	MaxRetries      int `toml:"max_retries"`
	MaxFramePayload int `toml:"max_frame_payload"`
	T3Seconds       int `toml:"t3_seconds"`
}

var cfgFile fileConfig

// applyConfigFile loads the optional config file and fills in any
// connection/station flag the user did not set explicitly.
func applyConfigFile(cmd *cobra.Command) error {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".paxterm.toml")
		if _, err := os.Stat(path); err != nil {
			return nil // default config is optional
		}
	}

	if _, err := toml.DecodeFile(path, &cfgFile); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	log.WithField("path", path).Debug("loaded config file")

	flags := cmd.Flags()
	if !flags.Changed("callsign") && cfgFile.Callsign != "" {
		callsign = cfgFile.Callsign
	}
	if !flags.Changed("port") && cfgFile.Port != "" {
		portName = cfgFile.Port
	}
	if !flags.Changed("baud") && cfgFile.Baud != 0 {
		baudRate = cfgFile.Baud
	}
	if !flags.Changed("tcp") && cfgFile.TCP != "" {
		tcpAddr = cfgFile.TCP
	}
	if !flags.Changed("url") && cfgFile.URL != "" {
		wsURL = cfgFile.URL
	}
	if !flags.Changed("username") && cfgFile.Username != "" {
		wsUsername = cfgFile.Username
	}
	return nil
}

// sessionConfig builds the link tunables from the config file; zero
// values fall through to the manager's defaults.
func sessionConfig() link.Config {
	cfg := link.Config{
		Window:          cfgFile.Link.Window,
		MaxRetries:      cfgFile.Link.MaxRetries,
		MaxFramePayload: cfgFile.Link.MaxFramePayload,
	}
	if cfgFile.Link.T3Seconds > 0 {
		cfg.T3Interval = time.Duration(cfgFile.Link.T3Seconds) * time.Second
	}
	return cfg
}
