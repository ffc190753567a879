// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
	"github.com/Thermoquad/ledlink/pkg/radio"
	"github.com/spf13/cobra"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid frame",
	Long: `Wait for a valid LED link frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any frame
of this network that passes the CRC check. Stream errors, corrupted frames
and frames of other networks are counted and skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for testing connectivity to a radio modem or a ledlink hub. Run it
while a master is probing, since the master transmits a heartbeat every
timeout period.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("LED link - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	link := radio.NewLink(conn, log.New(os.Stderr, "", log.LstdFlags))
	defer link.Close()

	// Channel for frame reception
	frameChan := make(chan radio.Observation, 1)
	link.SetObserver(func(obs radio.Observation) {
		if classify(obs) != classValid {
			return
		}
		select {
		case frameChan <- obs:
		default:
		}
	})
	link.Start()

	// Wait for frame or timeout
	select {
	case obs := <-frameChan:
		stats := link.Stats()
		if skipped := stats.TotalFrames - stats.ValidFrames; skipped > 0 {
			fmt.Printf("(skipped %d invalid frames)\n", skipped)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Device: %d\n", obs.Packet.DeviceID())
		fmt.Printf("  Command: %s (0x%02X)\n", genfsk.FormatCommand(obs.Packet.Command()), uint8(obs.Packet.Command()))
		fmt.Printf("  Length: %d bytes\n", len(obs.Frame))
		fmt.Printf("  RSSI: %d dBm\n", obs.RSSI)
		if crc, err := genfsk.Trailer(obs.Frame); err == nil {
			fmt.Printf("  CRC: 0x%06X\n", crc)
		}
		os.Exit(0)

	case <-link.Done():
		fmt.Fprintf(os.Stderr, "Read error: %v\n", link.Err())
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
