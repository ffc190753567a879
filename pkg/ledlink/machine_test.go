// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ledlink

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
	"github.com/google/go-cmp/cmp"
)

// ============================================================
// Radio ownership
// ============================================================

func TestArm_AbortsBeforeEveryStart(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.start()
	h.completeTx()
	h.expire()
	h.completeTx()

	for i, c := range h.radio.calls {
		if c.op == "abort" {
			continue
		}
		if i == 0 || h.radio.calls[i-1].op != "abort" {
			t.Fatalf("call %d (%s) not preceded by abort: %+v", i, c.op, h.radio.calls)
		}
	}
}

func TestArm_LeavesRunningReceiveAlone(t *testing.T) {
	h := newHarness(t, Slave(1), SingleDeviceTable())
	before := len(h.radio.calls)

	// A console byte on a slave changes nothing
	h.key("r")

	if len(h.radio.calls) != before {
		t.Errorf("radio calls = %v, want no new calls", h.radio.calls[before:])
	}
	h.expectState(AwaitRx, Receiving)
}

func TestArm_StartErrorIsReturned(t *testing.T) {
	radio := &fakeRadio{err: errors.New("closed")}
	d, err := NewDispatcher(Config{Role: Master(), Radio: radio, Timer: &fakeTimer{}})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	if err := d.arm(); err == nil {
		t.Error("expected error from arm")
	}
}

// ============================================================
// Master
// ============================================================

func TestMaster_StartSendsFirstHeartbeat(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.start()

	h.expectTx(0, genfsk.CommandHeartbeat)
	h.expectState(AwaitTx, Transmitting)

	// Only the first self notification starts the cycle
	h.d.Notify()
	h.step()
	if got := h.radio.count("tx"); got != 1 {
		t.Errorf("tx count = %d, want 1", got)
	}
}

func TestMaster_TimerArmedAfterHeartbeatTxDone(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.start()
	if h.timer.starts != 0 {
		t.Fatal("timer armed before the heartbeat was sent")
	}

	h.completeTx()
	if h.timer.starts != 1 || h.timer.duration != DefaultTimeout {
		t.Errorf("timer starts = %d duration = %v, want 1 and %v", h.timer.starts, h.timer.duration, DefaultTimeout)
	}
	h.expectState(AwaitRx, Receiving)
}

func TestMaster_ConsoleCommand(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())

	h.key("r")
	h.expectTx(0, genfsk.CommandRed)
	h.expectState(AwaitTx, Transmitting)
	if !strings.Contains(h.console.String(), "Starting transmission...") {
		t.Errorf("console = %q, want transmission notice", h.console.String())
	}

	h.completeTx()
	h.expectState(AwaitRx, Receiving)
	if !strings.Contains(h.console.String(), "Transmission finished") {
		t.Errorf("console = %q, want completion notice", h.console.String())
	}
	if h.timer.starts != 0 {
		t.Error("command transmission armed the heartbeat timer")
	}
}

func TestMaster_UnrecognizedKey(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	before := len(h.radio.calls)

	h.key("x")

	if got := h.radio.count("tx"); got != 0 {
		t.Errorf("tx count = %d, want 0", got)
	}
	if len(h.radio.calls) != before {
		t.Errorf("unexpected radio calls %v", h.radio.calls[before:])
	}
	h.expectState(AwaitRx, Receiving)
	if !strings.Contains(h.console.String(), "Wrong key 'x'") {
		t.Errorf("console = %q, want re-prompt", h.console.String())
	}
}

func TestMaster_LineEndingsAreSilent(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.key("\r\n")
	h.step() // the re-signaled byte
	if h.console.Len() != 0 {
		t.Errorf("console = %q, want nothing", h.console.String())
	}
}

func TestMaster_MultiDeviceCommand(t *testing.T) {
	h := newHarness(t, Master(), MultiDeviceTable())
	h.key("6")
	h.expectTx(1, genfsk.CommandBlue)
}

func TestMaster_CommandPreemptsHeartbeat(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.start()
	h.expectTx(0, genfsk.CommandHeartbeat)

	h.key("r")
	h.expectTx(0, genfsk.CommandRed)
	h.expectState(AwaitTx, Transmitting)
	if h.timer.active {
		t.Error("timer armed for a heartbeat that was cut off")
	}
	if h.d.node.deferred == nil {
		t.Fatal("cut-off heartbeat was not deferred")
	}

	// The heartbeat goes out again once the command is done
	h.completeTx()
	h.expectTx(0, genfsk.CommandHeartbeat)
	if got := h.radio.count("tx"); got != 3 {
		t.Errorf("tx count = %d, want 3", got)
	}
	if h.timer.active {
		t.Error("timer armed before the heartbeat finished")
	}

	h.completeTx()
	h.expectState(AwaitRx, Receiving)
	if !h.timer.active {
		t.Error("timer not armed after the heartbeat finished")
	}
	if strings.Contains(h.console.String(), "busy") {
		t.Errorf("console = %q, want no busy notice", h.console.String())
	}
}

func TestMaster_CommandPreemptsCommand(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())

	h.key("r")
	h.key("g")
	h.expectTx(0, genfsk.CommandGreen)
	if !strings.Contains(h.console.String(), "Transmission of RED to device 0 cancelled") {
		t.Errorf("console = %q, want cancel notice", h.console.String())
	}

	h.completeTx()
	h.expectState(AwaitRx, Receiving)
	if got := strings.Count(h.console.String(), "Transmission finished"); got != 1 {
		t.Errorf("finished notices = %d, want 1", got)
	}
}

func TestMaster_PreemptDiscardsRacingTxDone(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.start()

	// The heartbeat completes just as the abort goes in
	h.radio.onAbort = func() { h.d.OnTransmitComplete(nil) }
	h.key("b")
	h.expectTx(0, genfsk.CommandBlue)

	if b := h.d.take(); b.bits != 0 {
		t.Fatalf("mailbox = %b after preempt, want empty", b.bits)
	}
	h.expectState(AwaitTx, Transmitting)

	h.completeTx()
	h.expectTx(0, genfsk.CommandHeartbeat)
}

func TestMaster_HeartbeatDeferredBehindCommand(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())

	// Console outranks the self notification within one batch
	h.input.Write([]byte("b"))
	h.d.Notify()
	h.step()
	h.expectTx(0, genfsk.CommandBlue)
	if h.d.node.deferred == nil {
		t.Fatal("heartbeat was not deferred")
	}

	h.completeTx()
	h.expectTx(0, genfsk.CommandHeartbeat)
	h.expectState(AwaitTx, Transmitting)
	if h.d.node.deferred != nil {
		t.Error("deferred slot not cleared")
	}
}

func TestMaster_ApplicationAck(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.receive(0, genfsk.CommandRed)

	if !strings.Contains(h.console.String(), "Device 0 acknowledged RED (RSSI -42 dBm)") {
		t.Errorf("console = %q, want acknowledgment", h.console.String())
	}
	h.expectState(AwaitRx, Receiving)
}

func TestMaster_StatusKey(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.start()
	h.completeTx()
	h.receive(0, genfsk.CommandHeartbeat)

	h.console.Reset()
	h.key("s")
	want := "Device 0: connected\nDevice 1: unknown (awaiting reply)\nDevice 2: unknown\n"
	if diff := cmp.Diff(want, h.console.String()); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

// ============================================================
// Connectivity
// ============================================================

func TestMaster_TimeoutsRoundRobin(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	var snapshots [][]ConnectivityState
	h.d.onConnectivity = func(s []ConnectivityState) { snapshots = append(snapshots, s) }
	h.start()

	visited := []uint8{h.lastTx().DeviceID()}
	for i := 0; i < 6; i++ {
		h.completeTx()
		h.expire()
		visited = append(visited, h.lastTx().DeviceID())
	}

	if diff := cmp.Diff([]uint8{0, 1, 2, 0, 1, 2, 0}, visited); diff != "" {
		t.Errorf("probe order mismatch (-want +got):\n%s", diff)
	}
	if got := strings.Count(h.console.String(), "disconnected"); got != 3 {
		t.Errorf("disconnect lines = %d, want 3 (one per slave)\n%s", got, h.console.String())
	}
	if len(snapshots) != 6 {
		t.Fatalf("connectivity callbacks = %d, want 6", len(snapshots))
	}
	for _, st := range snapshots[5] {
		if st.Connected {
			t.Errorf("device %d connected, want disconnected", st.DeviceID)
		}
	}
}

func TestMaster_RepeatedMissLoggedNotPrinted(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	var logs bytes.Buffer
	h.d.logger = log.New(&logs, "", 0)
	h.start()

	// Two full rounds with every slave silent
	for i := 0; i < 6; i++ {
		h.completeTx()
		h.expire()
	}

	if got := strings.Count(h.console.String(), "Device 0 disconnected"); got != 1 {
		t.Errorf("console lines for device 0 = %d, want 1\n%s", got, h.console.String())
	}
	if got := strings.Count(logs.String(), "Connectivity timeout for device 0"); got != 2 {
		t.Errorf("logged timeouts for device 0 = %d, want 2\n%s", got, logs.String())
	}
}

func TestMaster_ReplyCancelsTimer(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.start()
	h.completeTx()
	stale := h.timer.fn

	h.receive(0, genfsk.CommandHeartbeat)

	if h.timer.active {
		t.Error("timer still active after matching reply")
	}
	if got := h.d.supervisor.Current(); got != 1 {
		t.Errorf("cursor = %d, want 1", got)
	}
	h.expectTx(1, genfsk.CommandHeartbeat)
	if !strings.Contains(h.console.String(), "Device 0 connected") {
		t.Errorf("console = %q, want connect line", h.console.String())
	}

	// An expiry that raced the reply has no effect, before or after the
	// next heartbeat arms a new timer
	stale()
	h.step()
	h.completeTx()
	stale()
	h.step()

	if got := h.d.supervisor.Current(); got != 1 {
		t.Errorf("cursor after stale expiry = %d, want 1", got)
	}
	want := []ConnectivityState{
		{DeviceID: 0, Connected: true},
		{DeviceID: 1, AwaitingReply: true},
		{DeviceID: 2},
	}
	if diff := cmp.Diff(want, h.d.supervisor.Snapshot()); diff != "" {
		t.Errorf("connectivity mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(h.console.String(), "disconnected") {
		t.Errorf("console = %q, want no disconnect", h.console.String())
	}
}

func TestMaster_ReplyOutranksCoalescedTimeout(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.start()
	h.completeTx()

	h.timer.fn()
	h.d.OnReceiveComplete(genfsk.MustEncode(genfsk.NewPacket(0, genfsk.CommandHeartbeat)), -50, true)
	h.step()

	snap := h.d.supervisor.Snapshot()
	if !snap[0].Connected {
		t.Error("device 0 not connected")
	}
	if got := h.d.supervisor.Current(); got != 1 {
		t.Errorf("cursor = %d, want 1", got)
	}
}

func TestMaster_NonMatchingReplyIgnored(t *testing.T) {
	tests := []struct {
		name     string
		deviceID uint8
		cmd      genfsk.Command
	}{
		{"other slave", 2, genfsk.CommandHeartbeat},
		{"color code", 0, genfsk.CommandGreen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Master(), SingleDeviceTable())
			h.start()
			h.completeTx()
			before := h.d.supervisor.Snapshot()
			rxBefore := h.radio.count("rx")

			h.receive(tt.deviceID, tt.cmd)

			if diff := cmp.Diff(before, h.d.supervisor.Snapshot()); diff != "" {
				t.Errorf("connectivity changed (-before +after):\n%s", diff)
			}
			if !h.timer.active {
				t.Error("timer cancelled by non-matching reply")
			}
			if got := h.radio.count("rx"); got != rxBefore+1 {
				t.Errorf("rx arms = %d, want %d", got, rxBefore+1)
			}
			h.expectState(AwaitRx, Receiving)
		})
	}
}

func TestReceiveFailed_RearmsIdentically(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.start()
	h.completeTx()
	first, _ := h.radio.last("rx")
	before := h.d.supervisor.Snapshot()
	cursor := h.d.supervisor.Current()

	h.d.OnReceiveFailed()
	h.step()

	second, _ := h.radio.last("rx")
	if h.radio.count("rx") != 3 {
		t.Fatalf("rx arms = %d, want 3", h.radio.count("rx"))
	}
	if first.ptr != second.ptr || first.size != second.size {
		t.Errorf("re-armed with %p/%d, want %p/%d", second.ptr, second.size, first.ptr, first.size)
	}
	if diff := cmp.Diff(before, h.d.supervisor.Snapshot()); diff != "" {
		t.Errorf("connectivity changed (-before +after):\n%s", diff)
	}
	if h.d.supervisor.Current() != cursor {
		t.Errorf("cursor moved to %d", h.d.supervisor.Current())
	}
}

// ============================================================
// Slave
// ============================================================

func TestSlave_IgnoresOtherDevice(t *testing.T) {
	h := newHarness(t, Slave(1), SingleDeviceTable())
	h.start()

	h.receive(0, genfsk.CommandRed)

	if len(h.indicator.toggles) != 0 {
		t.Errorf("toggles = %v, want none", h.indicator.toggles)
	}
	if got := h.radio.count("tx"); got != 0 {
		t.Errorf("tx count = %d, want 0", got)
	}
	h.expectState(AwaitRx, Receiving)
}

func TestSlave_EchoesColor(t *testing.T) {
	h := newHarness(t, Slave(1), SingleDeviceTable())
	h.receive(1, genfsk.CommandGreen)

	if diff := cmp.Diff([]genfsk.Command{genfsk.CommandGreen}, h.indicator.toggles); diff != "" {
		t.Errorf("toggles mismatch (-want +got):\n%s", diff)
	}
	h.expectTx(1, genfsk.CommandGreen)
	h.expectState(AwaitTx, Transmitting)

	h.completeTx()
	h.expectState(AwaitRx, Receiving)
}

func TestSlave_HeartbeatAck(t *testing.T) {
	h := newHarness(t, Slave(2), SingleDeviceTable())
	h.receive(2, genfsk.CommandHeartbeat)

	if len(h.indicator.toggles) != 0 {
		t.Errorf("toggles = %v, want none", h.indicator.toggles)
	}
	h.expectTx(2, genfsk.CommandHeartbeat)
}

func TestSlave_DropsBadFrames(t *testing.T) {
	h := newHarness(t, Slave(0), SingleDeviceTable())
	good := genfsk.MustEncode(genfsk.NewPacket(0, genfsk.CommandRed))

	h.d.OnReceiveComplete(good, -40, false)
	h.step()
	h.d.OnReceiveComplete(good[:genfsk.FrameSize-1], -40, true)
	h.step()

	if len(h.indicator.toggles) != 0 {
		t.Errorf("toggles = %v, want none", h.indicator.toggles)
	}
	if got := h.radio.count("tx"); got != 0 {
		t.Errorf("tx count = %d, want 0", got)
	}
	if got := h.radio.count("rx"); got != 3 {
		t.Errorf("rx arms = %d, want 3", got)
	}
	if h.console.Len() != 0 {
		t.Errorf("console = %q, want silence", h.console.String())
	}
}

// ============================================================
// Console drain
// ============================================================

func TestConsole_OneBytePerEvent(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.input.Write([]byte("xyz"))

	for remaining := 2; remaining >= 0; remaining-- {
		h.step()
		if got := h.input.Buffered(); got != remaining {
			t.Fatalf("buffered = %d, want %d", got, remaining)
		}
	}

	if b := h.d.take(); b.bits != 0 {
		t.Errorf("pending bits = %b after drain, want none", b.bits)
	}
	if got := strings.Count(h.console.String(), "Wrong key"); got != 3 {
		t.Errorf("re-prompts = %d, want 3", got)
	}
}

func TestConsole_ResignalYieldsToRadio(t *testing.T) {
	h := newHarness(t, Master(), SingleDeviceTable())
	h.input.Write([]byte("rg"))
	h.step()
	h.expectTx(0, genfsk.CommandRed)

	// The second key waits behind the tx completion in the next batch
	h.d.OnTransmitComplete(nil)
	h.step()
	h.expectTx(0, genfsk.CommandGreen)
}

// ============================================================
// Construction
// ============================================================

func TestNewDispatcher_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no radio", Config{Role: Master()}},
		{"device out of range", Config{Role: Slave(genfsk.NumDevices), Radio: &fakeRadio{}}},
		{"negative timeout", Config{Role: Master(), Radio: &fakeRadio{}, Timeout: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDispatcher(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewNodeContext_Allocation(t *testing.T) {
	if _, err := newNodeContext(Master(), genfsk.FrameSize-1, txBufferSize); !errors.Is(err, ErrAllocation) {
		t.Errorf("rx error = %v, want ErrAllocation", err)
	}
	if _, err := newNodeContext(Master(), rxBufferSize, 0); !errors.Is(err, ErrAllocation) {
		t.Errorf("tx error = %v, want ErrAllocation", err)
	}

	n, err := newNodeContext(Slave(1), rxBufferSize, txBufferSize)
	if err != nil {
		t.Fatalf("newNodeContext failed: %v", err)
	}
	if n.State != AwaitRx || n.Mode != Idle {
		t.Errorf("initial state = %v/%v, want AwaitRx/Idle", n.State, n.Mode)
	}
}
