// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Configuration and logging
	configPath string
	logFile    string

	appConfig *Config
)

var rootCmd = &cobra.Command{
	Use:   "ledlink",
	Short: "LED remote control over a packet radio link",
	Long: `ledlink - Master and slave nodes of the LED remote-control protocol.

A master turns console keys into color commands for up to three slaves and
continuously checks which slaves are reachable with a round-robin heartbeat.
Slaves toggle their LEDs and echo every command addressed to them.

Nodes talk over a simulated Generic FSK link: a serial port to a radio
modem, or a WebSocket connection to a "ledlink hub" that plays the shared
air medium.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host:8765/air [--username user]

For WebSocket authentication, the password is read from the LEDLINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings are layered: built-in defaults, then the --config YAML file, then
LEDLINK_* environment variables, then command line flags.`,
	Version: "1.0.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, cfg)
		if err := validateConfig(cfg); err != nil {
			return err
		}
		appConfig = cfg
		return setupLogging(logFile, cfg.Log)
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Configuration and logging
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to a rotated file instead of stderr")
}

// Execute runs the root command
func Execute() error {
	defer closeLogging()
	return rootCmd.Execute()
}
