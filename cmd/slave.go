// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/Thermoquad/ledlink/pkg/ledlink"
	"github.com/spf13/cobra"
)

var slaveTUI bool

var slaveCmd = &cobra.Command{
	Use:   "slave",
	Short: "Run a slave node",
	Long: `Run a slave node of the LED remote-control protocol.

The slave listens for frames addressed to its device id. A color command
toggles the matching LED and is echoed back; a heartbeat is answered with
a heartbeat. Frames for other devices are ignored.

Supports both serial and WebSocket connections.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(ledlink.Slave(uint8(appConfig.DeviceID)), slaveTUI)
	},
}

func init() {
	rootCmd.AddCommand(slaveCmd)
	slaveCmd.Flags().Int("device", 0, "Device id of this slave (0-2)")
	slaveCmd.Flags().Int("tx-warmup-ms", 2, "Transmitter warm-up before a frame goes on air (milliseconds)")
	slaveCmd.Flags().BoolVar(&slaveTUI, "tui", false, "Use terminal UI")
}
