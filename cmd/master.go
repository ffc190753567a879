// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/Thermoquad/ledlink/pkg/ledlink"
	"github.com/spf13/cobra"
)

var masterTUI bool

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Run the master node",
	Long: `Run the master node of the LED remote-control protocol.

The master sends a color command for every recognized console key and waits
for the addressed slave's echo. In the background it probes the slaves one
at a time with a heartbeat and reports every change in connectivity.

Console keys (single-device variant):
  r, g, b  toggle the red, green or blue LED of device 0
  s        print the connectivity table

The multi-device variant maps keys 1-9 to (device, color) pairs.

Supports both serial and WebSocket connections.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(ledlink.Master(), masterTUI)
	},
}

func init() {
	rootCmd.AddCommand(masterCmd)
	masterCmd.Flags().Int("timeout-ms", 500, "Heartbeat reply timeout (milliseconds)")
	masterCmd.Flags().String("variant", ledlink.VariantSingle, "Console key table (single or multi)")
	masterCmd.Flags().Int("tx-warmup-ms", 2, "Transmitter warm-up before a frame goes on air (milliseconds)")
	masterCmd.Flags().BoolVar(&masterTUI, "tui", false, "Use terminal UI")
}
