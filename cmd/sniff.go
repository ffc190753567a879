// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
	"github.com/Thermoquad/ledlink/pkg/radio"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	showHex       bool
	statsInterval int
	sniffTUI      bool
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Monitor the air and analyze every frame",
	Long: `Passively listen to the link and classify every frame on the air.

The sniffer never transmits. Each frame is checked and reported as:
  - Stream errors (broken framing, undecodable envelopes)
  - CRC errors (corrupted frames)
  - Filtered frames (foreign network address, header or length)
  - Anomalies (unknown device or command)
  - Valid heartbeats and color commands

By default, only problems are displayed. Use --show-all to display valid
frames too. Statistics are printed at a configurable interval.

Supports both serial and WebSocket connections.`,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	sniffCmd.Flags().BoolVar(&showHex, "hex", false, "Dump frame bytes")
	sniffCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	sniffCmd.Flags().BoolVar(&sniffTUI, "tui", false, "Use terminal UI")
}

// frameClass is the verdict on one observed frame
type frameClass int

const (
	classValid frameClass = iota
	classStreamError
	classDecodeError
	classCRCError
	classFiltered
	classAnomaly
)

func (c frameClass) String() string {
	switch c {
	case classValid:
		return "VALID"
	case classStreamError:
		return "STREAM ERROR"
	case classDecodeError:
		return "DECODE ERROR"
	case classCRCError:
		return "CRC ERROR"
	case classFiltered:
		return "FILTERED"
	case classAnomaly:
		return "ANOMALY"
	default:
		return "UNKNOWN"
	}
}

// classify sorts an observation the way the statistics count it
func classify(obs radio.Observation) frameClass {
	switch {
	case obs.Err != nil && obs.Frame == nil:
		return classStreamError
	case obs.Err != nil:
		return classDecodeError
	case !obs.CRCValid:
		return classCRCError
	case !genfsk.PassesLinkFilter(obs.Anomalies):
		return classFiltered
	case len(obs.Anomalies) > 0:
		return classAnomaly
	default:
		return classValid
	}
}

// describeObservation renders one observation as a single log line
func describeObservation(obs radio.Observation) string {
	class := classify(obs)
	switch class {
	case classStreamError, classDecodeError:
		return fmt.Sprintf("%s: %v", class, obs.Err)
	case classFiltered, classAnomaly:
		msgs := make([]string, 0, len(obs.Anomalies))
		for _, a := range obs.Anomalies {
			msgs = append(msgs, a.Message)
		}
		return fmt.Sprintf("%s: %s", class, strings.Join(msgs, "; "))
	case classCRCError:
		return fmt.Sprintf("%s: %s RSSI %d dBm", class, genfsk.FormatPacket(obs.Packet), obs.RSSI)
	default:
		return fmt.Sprintf("%s RSSI %d dBm", genfsk.FormatPacket(obs.Packet), obs.RSSI)
	}
}

// syncTracker counts stream errors until the first decodable envelope
type syncTracker struct {
	synchronized bool
	skipped      int
}

// observe returns true on the observation that establishes sync
func (s *syncTracker) observe(obs radio.Observation) bool {
	if s.synchronized {
		return false
	}
	if classify(obs) == classStreamError {
		s.skipped++
		return false
	}
	s.synchronized = true
	return true
}

func (s *syncTracker) String() string {
	if s.skipped > 0 {
		return fmt.Sprintf("Synchronized after skipping %d stream errors", s.skipped)
	}
	return "Synchronized"
}

func runSniff(cmd *cobra.Command, args []string) error {
	if statsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be positive, got %d", statsInterval)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	cm := newConnectionManager(conn, connInfo, OpenConnection)
	defer cm.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The sniffer never arms the link, so no handler is needed
	link := radio.NewLink(cm, log.New(log.Writer(), "[sniff] ", log.Flags()))

	if sniffTUI {
		return runSniffTUI(ctx, cm, link)
	}
	return runSniffText(ctx, cm, link)
}

// runSniffText runs the sniffer in text mode
func runSniffText(ctx context.Context, cm *connectionManager, link *radio.Link) error {
	fmt.Printf("LED link - Air Monitor\n")
	fmt.Printf("Connection: %s\n", cm.Info())
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	cm.onLost = func(err error) {
		log.Printf("Connection lost (%v), reconnecting...", err)
	}
	cm.onReconnected = func(connInfo string) {
		log.Printf("Reconnected: %s", connInfo)
	}

	// Buffered channel so the link reader never waits on the terminal
	observations := make(chan radio.Observation, 256)
	link.SetObserver(func(obs radio.Observation) {
		select {
		case observations <- obs:
		default:
		}
	})
	link.Start()
	defer link.Close()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	var tracker syncTracker
	for {
		select {
		case obs := <-observations:
			if tracker.observe(obs) {
				fmt.Printf("[SYNC] %s\n\n", tracker.String())
			}
			printObservation(obs)

		case <-statsTicker.C:
			stats := link.Stats()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case <-link.Done():
			if err := link.Err(); err != nil {
				return fmt.Errorf("radio link stopped: %w", err)
			}
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}

// printObservation prints one observation in highlighted format
func printObservation(obs radio.Observation) {
	timestamp := obs.Time.Format("15:04:05.000")
	class := classify(obs)

	switch class {
	case classValid:
		if !showAll {
			return
		}
		fmt.Printf("[%s] \033[1;32m%s\033[0m %s\n", timestamp, class, describeObservation(obs))

	case classStreamError, classDecodeError, classCRCError:
		fmt.Printf("[%s] \033[1;31m%s\033[0m\n", timestamp, describeObservation(obs))
		if class == classCRCError {
			fmt.Printf("  CRC: \033[1;31mFAILED\033[0m\n")
		}
		fmt.Printf("  >>> FRAME REJECTED <<<\n")

	case classFiltered, classAnomaly:
		fmt.Printf("[%s] \033[1;33m%s\033[0m\n", timestamp, class)
		fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")
		for i, a := range obs.Anomalies {
			fmt.Printf("  Issue %d: %s\n", i+1, a.Message)
		}
		if class == classFiltered {
			fmt.Printf("  >>> FRAME FILTERED <<<\n")
		}
	}

	if showHex && obs.Frame != nil {
		for _, line := range strings.Split(genfsk.FormatHex(obs.Frame), "\n") {
			fmt.Printf("    %s\n", line)
		}
	}
	fmt.Println()
}
