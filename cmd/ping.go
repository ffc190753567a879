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
	pingCount int
)

var errPingTimeout = errors.New("no reply")

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send heartbeats to one slave and wait for replies",
	Long: `Send heartbeat frames to a slave and wait for its heartbeat reply.

This command tests bidirectional communication with one slave without
running a full master. Each ping reports the round-trip time and the RSSI
of the reply.

Run it while no master is on the air: a master's heartbeat to the same
device is indistinguishable from the slave's reply.

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().Int("device", 0, "Device id to ping (0-2)")
	pingCmd.Flags().Int("timeout-ms", 500, "Timeout for each ping (milliseconds)")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

// pingResult is one successful heartbeat round trip
type pingResult struct {
	RTT  time.Duration
	RSSI int8
}

type rxFrame struct {
	frame    []byte // nil when the reception failed
	rssi     int8
	crcValid bool
}

// pinger drives a radio link directly for one-shot heartbeat exchanges
type pinger struct {
	link *radio.Link
	rx   chan rxFrame
	tx   chan error
}

func newPinger(link *radio.Link) *pinger {
	p := &pinger{
		link: link,
		rx:   make(chan rxFrame, 1),
		tx:   make(chan error, 1),
	}
	link.SetHandler(p)
	return p
}

func (p *pinger) OnReceiveComplete(buf []byte, rssi int8, crcValid bool) {
	f := rxFrame{frame: append([]byte(nil), buf...), rssi: rssi, crcValid: crcValid}
	select {
	case p.rx <- f:
	default:
	}
}

func (p *pinger) OnReceiveFailed() {
	select {
	case p.rx <- rxFrame{}:
	default:
	}
}

func (p *pinger) OnTransmitComplete(err error) {
	select {
	case p.tx <- err:
	default:
	}
}

// ping sends one heartbeat to dev and waits for the matching reply
func (p *pinger) ping(dev uint8, timeout time.Duration) (pingResult, error) {
	frame, err := genfsk.Encode(genfsk.NewPacket(dev, genfsk.CommandHeartbeat))
	if err != nil {
		return pingResult{}, err
	}

	// Drop completions left over from an earlier ping
	select {
	case <-p.rx:
	default:
	}
	select {
	case <-p.tx:
	default:
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	p.link.AbortAll()
	start := time.Now()
	if err := p.link.StartTransmit(frame); err != nil {
		return pingResult{}, err
	}

	select {
	case err := <-p.tx:
		if err != nil {
			return pingResult{}, fmt.Errorf("send failed: %w", err)
		}
	case <-deadline.C:
		p.link.AbortAll()
		return pingResult{}, errPingTimeout
	case <-p.link.Done():
		return pingResult{}, fmt.Errorf("link stopped: %v", p.link.Err())
	}

	buf := make([]byte, genfsk.MaxBufferSize+genfsk.CRCSize)
	for {
		if err := p.link.StartReceive(buf); err != nil {
			return pingResult{}, err
		}

		select {
		case f := <-p.rx:
			if f.frame == nil || !f.crcValid {
				continue
			}
			reply, err := genfsk.Decode(f.frame)
			if err != nil {
				continue
			}
			if reply.IsHeartbeat() && reply.DeviceID() == dev {
				return pingResult{RTT: time.Since(start), RSSI: f.rssi}, nil
			}

		case <-deadline.C:
			p.link.AbortAll()
			return pingResult{}, errPingTimeout

		case <-p.link.Done():
			return pingResult{}, fmt.Errorf("link stopped: %v", p.link.Err())
		}
	}
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount <= 0 {
		return fmt.Errorf("--count must be positive, got %d", pingCount)
	}

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	dev := uint8(appConfig.DeviceID)
	timeout := appConfig.Timeout()

	fmt.Printf("LED link - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Device: %d\n", dev)
	fmt.Printf("Timeout: %v per ping\n", timeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	link := radio.NewLink(conn, nil)
	link.SetTxWarmup(appConfig.TxWarmup())
	defer link.Close()
	p := newPinger(link)
	link.Start()

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		res, err := p.ping(dev, timeout)
		switch {
		case err == nil:
			fmt.Printf("reply from device %d, rssi=%d dBm, rtt=%v\n", dev, res.RSSI, res.RTT.Round(time.Microsecond))
			successCount++
		case errors.Is(err, errPingTimeout):
			fmt.Printf("TIMEOUT (no reply in %v)\n", timeout)
			failCount++
		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
