// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ledlink

import (
	"fmt"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
)

// ============================================================
// Radio events
// ============================================================

func (d *Dispatcher) handleRx(ev rxEvent) {
	n := d.node
	if n.Mode == Receiving {
		n.Mode = Idle
	}

	if !ev.crcValid {
		d.logger.Printf("Dropping frame with invalid CRC (%d bytes, RSSI %d dBm)", len(ev.buf), ev.rssi)
		return
	}

	p, err := genfsk.Decode(ev.buf)
	if err != nil {
		d.logger.Printf("Dropping frame: %v", err)
		return
	}

	if n.Role.IsMaster() {
		d.masterRx(p, ev.rssi)
	} else {
		d.slaveRx(p)
	}
}

func (d *Dispatcher) masterRx(p *genfsk.Packet, rssi int8) {
	if p.IsHeartbeat() {
		probe, ok := d.supervisor.OnReply(p)
		if !ok {
			d.logger.Printf("Ignoring heartbeat reply from device %d (probing %d)", p.DeviceID(), d.supervisor.Current())
			return
		}
		d.stopTimer()
		d.settled(probe)
		return
	}

	if !p.Command().IsColor() {
		d.logger.Printf("Ignoring unknown command 0x%02X from device %d", uint8(p.Command()), p.DeviceID())
		return
	}
	fmt.Fprintf(d.console, "Device %d acknowledged %s (RSSI %d dBm)\n",
		p.DeviceID(), genfsk.FormatCommand(p.Command()), rssi)
}

func (d *Dispatcher) slaveRx(p *genfsk.Packet) {
	self := d.node.Role.DeviceID()
	if p.DeviceID() != self {
		return
	}

	cmd := p.Command()
	switch {
	case cmd == genfsk.CommandHeartbeat:
		d.send(genfsk.NewPacket(self, genfsk.CommandHeartbeat), txReply)
	case cmd.IsColor():
		d.indicator.Toggle(cmd)
		d.logger.Printf("Toggled %s", genfsk.FormatCommand(cmd))
		d.send(genfsk.NewPacket(self, cmd), txReply)
	default:
		d.logger.Printf("Ignoring unknown command 0x%02X", uint8(cmd))
	}
}

func (d *Dispatcher) handleRxFailed() {
	n := d.node
	if n.Mode != Receiving {
		return
	}
	n.Mode = Idle
	d.logger.Printf("Receive failed, re-arming")
}

func (d *Dispatcher) handleTxDone(err error) {
	n := d.node
	if n.Mode != Transmitting {
		d.logger.Printf("Ignoring stale transmit completion")
		return
	}
	n.Mode = Idle
	n.State = AwaitRx

	kind := n.txKind
	n.txKind = txNone
	n.txPkt = nil
	if err != nil {
		d.logger.Printf("Transmit failed: %v", err)
	}

	switch kind {
	case txCommand:
		if err != nil {
			fmt.Fprintf(d.console, "Transmission failed: %v\n", err)
		} else {
			fmt.Fprintln(d.console, "Transmission finished")
		}
	case txHeartbeat:
		// A lost heartbeat simply times out
		d.armTimer()
	}

	if n.deferred != nil {
		p := n.deferred
		n.deferred = nil
		d.send(p, txHeartbeat)
	}
}

// ============================================================
// Supervisor events
// ============================================================

func (d *Dispatcher) handleTimer(gen uint64) {
	n := d.node
	if !n.timerArmed || gen != n.timerGen {
		d.logger.Printf("Ignoring stale timer expiry")
		return
	}
	n.timerArmed = false

	probe, ok := d.supervisor.OnTimeout()
	if !ok {
		return
	}
	d.logger.Printf("Connectivity timeout for device %d", probe.Slave.DeviceID)
	d.settled(probe)
}

// settled reports a finished heartbeat round and starts the next one
func (d *Dispatcher) settled(probe Probe) {
	if probe.Changed {
		if probe.Slave.Connected {
			fmt.Fprintf(d.console, "Device %d connected\n", probe.Slave.DeviceID)
		} else {
			fmt.Fprintf(d.console, "Device %d disconnected\n", probe.Slave.DeviceID)
		}
	}
	if d.onConnectivity != nil {
		d.onConnectivity(d.supervisor.Snapshot())
	}
	d.send(probe.Next, txHeartbeat)
}

func (d *Dispatcher) handleSelf() {
	n := d.node
	if !n.Role.IsMaster() || n.started {
		return
	}
	n.started = true
	d.send(d.supervisor.Begin(), txHeartbeat)
}

// ============================================================
// Console events
// ============================================================

// handleConsole consumes one buffered byte. If more remain it re-signals
// itself so other event classes get a turn in between.
func (d *Dispatcher) handleConsole() {
	if d.input == nil {
		return
	}
	key, err := d.input.ReadByte()
	if err != nil {
		return
	}
	if d.input.Buffered() > 0 {
		d.signal(evConsole, nil)
	}

	if d.node.Role.IsMaster() {
		d.handleKey(key)
	}
}

func (d *Dispatcher) handleKey(key byte) {
	switch key {
	case '\r', '\n':
		return
	case keyStatus:
		d.printStatus()
		return
	}

	target, ok := d.table.Lookup(key)
	if !ok {
		fmt.Fprintf(d.console, "Wrong key %q, try again\n%s\n", key, d.table.Prompt)
		return
	}
	if d.node.State == AwaitTx {
		d.preempt()
	}
	d.send(genfsk.NewPacket(target.DeviceID, target.Command), txCommand)
}

// preempt takes the radio back from a pending transmission so a console
// command goes out at once. A heartbeat cut off this way is re-sent after
// the command's tx-done.
func (d *Dispatcher) preempt() {
	n := d.node
	switch {
	case n.txKind == txHeartbeat && n.deferred == nil:
		n.deferred = n.txPkt
	case n.txKind == txCommand:
		fmt.Fprintf(d.console, "Transmission of %s to device %d cancelled\n",
			genfsk.FormatCommand(n.txPkt.Command()), n.txPkt.DeviceID())
	}
	d.logger.Printf("Aborting pending %s for device %d", genfsk.FormatCommand(n.txPkt.Command()), n.txPkt.DeviceID())

	d.radio.AbortAll()
	// Anything still queued belongs to the aborted transmission
	d.dropTxDone()
	n.Mode = Idle
	n.State = AwaitRx
	n.txKind = txNone
	n.txPkt = nil
}

func (d *Dispatcher) printStatus() {
	for i, st := range d.supervisor.Snapshot() {
		status := "unknown"
		if d.supervisor.Probed(i) {
			if st.Connected {
				status = "connected"
			} else {
				status = "disconnected"
			}
		}
		if st.AwaitingReply {
			status += " (awaiting reply)"
		}
		fmt.Fprintf(d.console, "Device %d: %s\n", st.DeviceID, status)
	}
}

// ============================================================
// Transmission
// ============================================================

// send encodes p into the tx buffer and switches to AwaitTx. While another
// transmission is pending a heartbeat is parked in the deferred slot and a
// reply is dropped. Console commands preempt before they get here.
func (d *Dispatcher) send(p *genfsk.Packet, kind txKind) bool {
	n := d.node
	if n.State == AwaitTx {
		if kind == txHeartbeat {
			n.deferred = p
			return true
		}
		d.logger.Printf("Radio busy, dropping reply %s for device %d", genfsk.FormatCommand(p.Command()), p.DeviceID())
		return false
	}

	length, err := genfsk.EncodeInto(n.txBuf, p)
	if err != nil {
		d.logger.Printf("Failed to encode packet: %v", err)
		return false
	}
	n.txLen = length
	n.txKind = kind
	n.txPkt = p
	n.State = AwaitTx
	return true
}
