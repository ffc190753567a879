// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ledlink

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
)

// Variant names accepted by TableFor
const (
	VariantSingle = "single"
	VariantMulti  = "multi"
)

// Console keys handled outside the command table
const (
	keyStatus = 's'
)

// Target is what one console key commands
type Target struct {
	DeviceID uint8
	Command  genfsk.Command
}

// CommandTable maps console keys to command targets
type CommandTable struct {
	Name   string
	Prompt string
	keys   map[byte]Target
}

// Lookup returns the target for a key
func (t CommandTable) Lookup(key byte) (Target, bool) {
	target, ok := t.keys[key]
	return target, ok
}

// SingleDeviceTable maps r, g and b to the colors of device 0
func SingleDeviceTable() CommandTable {
	return CommandTable{
		Name:   VariantSingle,
		Prompt: "Press [r], [g] and [b] to toggle the red, green and blue LEDs",
		keys: map[byte]Target{
			'r': {DeviceID: genfsk.DeviceZero, Command: genfsk.CommandRed},
			'g': {DeviceID: genfsk.DeviceZero, Command: genfsk.CommandGreen},
			'b': {DeviceID: genfsk.DeviceZero, Command: genfsk.CommandBlue},
		},
	}
}

// MultiDeviceTable maps 1-9 to red, green and blue of devices 0, 1 and 2
func MultiDeviceTable() CommandTable {
	keys := make(map[byte]Target, 9)
	var prompt strings.Builder
	prompt.WriteString("Press a key to toggle an LED:")
	for i := 0; i < 9; i++ {
		target := Target{
			DeviceID: uint8(i / 3),
			Command:  genfsk.Command(i % 3),
		}
		key := byte('1' + i)
		keys[key] = target
		if i%3 == 0 {
			fmt.Fprintf(&prompt, "\n  device %d:", target.DeviceID)
		}
		fmt.Fprintf(&prompt, " [%c] %s", key, strings.ToLower(genfsk.FormatCommand(target.Command)))
	}
	return CommandTable{
		Name:   VariantMulti,
		Prompt: prompt.String(),
		keys:   keys,
	}
}

// TableFor returns the command table of a variant
func TableFor(variant string) (CommandTable, error) {
	switch variant {
	case VariantSingle, "":
		return SingleDeviceTable(), nil
	case VariantMulti:
		return MultiDeviceTable(), nil
	default:
		return CommandTable{}, fmt.Errorf("%w: unknown variant %q", ErrInvalidConfig, variant)
	}
}

// Banner returns the welcome text printed when a node starts
func Banner(role Role, table CommandTable) string {
	var b strings.Builder
	fmt.Fprintf(&b, "LED link %s (channel 0x%02X, tx power %d, %d kbps GFSK)\n",
		role, genfsk.DefaultChannel, genfsk.DefaultTxPowerLevel, genfsk.DataRateKbps)
	if role.IsMaster() {
		b.WriteString(table.Prompt)
		fmt.Fprintf(&b, "\nPress [%c] for connectivity status\n", keyStatus)
	} else {
		b.WriteString("Waiting for commands\n")
	}
	return b.String()
}
