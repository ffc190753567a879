// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// ledlink - LED remote control over a packet radio link
//
// Master and slave nodes of a small remote-control protocol, plus the tools
// to run them over a serial radio modem or a simulated air hub.

package main

import (
	"os"

	"github.com/Thermoquad/ledlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
