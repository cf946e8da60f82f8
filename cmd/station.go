// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package cmd

import (
	"fmt"

	"github.com/radiogear/paxterm/pkg/ax25"
)

// localStation parses the --callsign flag. Every connected-mode and
// beacon command needs a source identity; monitor-style commands do not.
func localStation() (ax25.Address, error) {
	if callsign == "" {
		return ax25.Address{}, fmt.Errorf("--callsign is required")
	}
	addr, err := ax25.ParseAddress(callsign)
	if err != nil {
		return ax25.Address{}, fmt.Errorf("invalid callsign %q: %v", callsign, err)
	}
	return addr, nil
}

// viaAddresses parses the --via digipeater list in order.
func viaAddresses() ([]ax25.Address, error) {
	if len(viaPath) == 0 {
		return nil, nil
	}
	if len(viaPath) > ax25.MaxDigipeaters {
		return nil, fmt.Errorf("digipeater path too long: %d (max %d)", len(viaPath), ax25.MaxDigipeaters)
	}
	path := make([]ax25.Address, len(viaPath))
	for i, v := range viaPath {
		addr, err := ax25.ParseAddress(v)
		if err != nil {
			return nil, fmt.Errorf("invalid digipeater %q: %v", v, err)
		}
		path[i] = addr
	}
	return path, nil
}
