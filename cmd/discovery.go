// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
	"github.com/Thermoquad/ledlink/pkg/radio"
	"github.com/spf13/cobra"
)

var (
	discoveryAttempts int
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find the slaves that answer on the air",
	Long: `Probe every device id of the network with a heartbeat.

Each device is pinged up to --attempts times; a device is reported as found
as soon as it replies. This is a one-shot version of the master's
round-robin connectivity check.

Run it while no master is on the air.

Examples:
  # Discover slaves through a hub
  ledlink discovery --url ws://localhost:8765/air

Exit codes:
  0 - Discovery successful (at least one device found)
  1 - Discovery failed (no devices answered)
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().Int("timeout-ms", 500, "Reply timeout per attempt (milliseconds)")
	discoveryCmd.Flags().IntVar(&discoveryAttempts, "attempts", 2, "Heartbeats per device before giving up")
}

type discoveryDeviceInfo struct {
	deviceID uint8
	found    bool
	attempts int
	result   pingResult
}

// discover pings every device id in turn
func discover(p *pinger, timeout time.Duration, attempts int) ([]discoveryDeviceInfo, error) {
	devices := make([]discoveryDeviceInfo, 0, genfsk.NumDevices)
	for id := uint8(0); id < genfsk.NumDevices; id++ {
		info := discoveryDeviceInfo{deviceID: id}
		for info.attempts < attempts && !info.found {
			info.attempts++
			res, err := p.ping(id, timeout)
			if err == nil {
				info.found = true
				info.result = res
				break
			}
			if !errors.Is(err, errPingTimeout) {
				return devices, err
			}
		}
		devices = append(devices, info)
	}
	return devices, nil
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	if discoveryAttempts <= 0 {
		return fmt.Errorf("--attempts must be positive, got %d", discoveryAttempts)
	}

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	timeout := appConfig.Timeout()

	fmt.Printf("LED link - Device Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %v, attempts: %d\n\n", timeout, discoveryAttempts)

	link := radio.NewLink(conn, nil)
	link.SetTxWarmup(appConfig.TxWarmup())
	defer link.Close()
	p := newPinger(link)
	link.Start()

	devices, err := discover(p, timeout, discoveryAttempts)
	if err != nil {
		fmt.Printf("DISCOVERY FAILED: %v\n", err)
		os.Exit(2)
	}

	found := 0
	for _, d := range devices {
		if d.found {
			found++
			fmt.Printf("Device %d: found (rssi=%d dBm, rtt=%v)\n",
				d.deviceID, d.result.RSSI, d.result.RTT.Round(time.Microsecond))
		} else {
			fmt.Printf("Device %d: no reply after %d attempt(s)\n", d.deviceID, d.attempts)
		}
	}

	// Summary
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Devices found: %d of %d\n", found, genfsk.NumDevices)

	if found == 0 {
		fmt.Printf("No devices discovered. Check connection and slave power.\n")
		os.Exit(1)
	}

	return nil
}
