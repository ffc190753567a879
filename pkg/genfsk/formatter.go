// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package genfsk

import (
	"fmt"
	"strings"
)

// FormatCommand returns the human-readable name for a command
func FormatCommand(cmd Command) string {
	switch cmd {
	case CommandRed:
		return "RED"
	case CommandGreen:
		return "GREEN"
	case CommandBlue:
		return "BLUE"
	case CommandHeartbeat:
		return "HEARTBEAT"
	default:
		return "UNKNOWN"
	}
}

// FormatPacket formats a packet into a single human-readable line
func FormatPacket(p *Packet) string {
	return fmt.Sprintf("dev=%d %s (0x%02X) len=%d h0=0x%02X h1=%d sync=0x%08X",
		p.DeviceID(), FormatCommand(p.Command()), uint8(p.Command()),
		p.Header.Length, p.Header.H0, p.Header.H1, p.SyncAddress)
}

// FormatHex renders a frame as spaced hex, 16 bytes per line
func FormatHex(data []byte) string {
	var s strings.Builder
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			s.WriteString("\n")
		} else if i > 0 {
			s.WriteString(" ")
		}
		fmt.Fprintf(&s, "%02X", b)
	}
	return s.String()
}
