// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ledlink

import (
	"bytes"
	"testing"
	"time"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
)

// ============================================================
// Fakes
// ============================================================

type radioCall struct {
	op   string // "abort", "rx" or "tx"
	buf  []byte
	ptr  *byte
	size int
}

// fakeRadio records every driver call. All calls happen on the test
// goroutine.
type fakeRadio struct {
	calls []radioCall
	err   error

	// onAbort runs inside AbortAll, before it returns
	onAbort func()
}

func (r *fakeRadio) StartReceive(buf []byte) error {
	r.calls = append(r.calls, radioCall{op: "rx", ptr: &buf[0], size: len(buf)})
	return r.err
}

func (r *fakeRadio) StartTransmit(frame []byte) error {
	out := make([]byte, len(frame))
	copy(out, frame)
	r.calls = append(r.calls, radioCall{op: "tx", buf: out, ptr: &frame[0], size: len(frame)})
	return r.err
}

func (r *fakeRadio) AbortAll() {
	r.calls = append(r.calls, radioCall{op: "abort"})
	if r.onAbort != nil {
		fn := r.onAbort
		r.onAbort = nil
		fn()
	}
}

func (r *fakeRadio) count(op string) int {
	n := 0
	for _, c := range r.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (r *fakeRadio) last(op string) (radioCall, bool) {
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].op == op {
			return r.calls[i], true
		}
	}
	return radioCall{}, false
}

// fakeTimer keeps the callback so tests decide when it fires
type fakeTimer struct {
	fn       func()
	duration time.Duration
	starts   int
	stops    int
	active   bool
}

func (t *fakeTimer) StartSingleShot(d time.Duration, fn func()) {
	t.fn = fn
	t.duration = d
	t.starts++
	t.active = true
}

func (t *fakeTimer) Stop() {
	t.stops++
	t.active = false
}

type fakeIndicator struct {
	toggles []genfsk.Command
}

func (i *fakeIndicator) Toggle(color genfsk.Command) {
	i.toggles = append(i.toggles, color)
}

// ============================================================
// Harness
// ============================================================

// harness drives a Dispatcher one batch at a time, in the same order as Run:
// arm, wait, dispatch.
type harness struct {
	t         *testing.T
	d         *Dispatcher
	radio     *fakeRadio
	timer     *fakeTimer
	indicator *fakeIndicator
	console   *bytes.Buffer
	input     *ByteBuffer
}

func newHarness(t *testing.T, role Role, table CommandTable) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		radio:     &fakeRadio{},
		timer:     &fakeTimer{},
		indicator: &fakeIndicator{},
		console:   &bytes.Buffer{},
		input:     NewByteBuffer(),
	}
	d, err := NewDispatcher(Config{
		Role:      role,
		Radio:     h.radio,
		Timer:     h.timer,
		Indicator: h.indicator,
		Input:     h.input,
		Console:   h.console,
		Table:     table,
	})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	h.input.SetNotify(d.OnConsoleInput)
	h.d = d
	h.arm()
	return h
}

// start posts the start-up self notification
func (h *harness) start() {
	h.t.Helper()
	h.d.Notify()
	h.step()
}

func (h *harness) arm() {
	h.t.Helper()
	if err := h.d.arm(); err != nil {
		h.t.Fatalf("arm failed: %v", err)
	}
}

// step handles one batch and re-arms the radio
func (h *harness) step() {
	h.t.Helper()
	b := h.d.take()
	if b.bits == 0 {
		h.t.Fatal("step: no event signaled")
	}
	h.d.dispatch(b)
	h.arm()
}

func (h *harness) completeTx() {
	h.t.Helper()
	h.d.OnTransmitComplete(nil)
	h.step()
}

func (h *harness) receive(deviceID uint8, cmd genfsk.Command) {
	h.t.Helper()
	frame := genfsk.MustEncode(genfsk.NewPacket(deviceID, cmd))
	h.d.OnReceiveComplete(frame, -42, true)
	h.step()
}

func (h *harness) expire() {
	h.t.Helper()
	if !h.timer.active {
		h.t.Fatal("expire: timer not armed")
	}
	h.timer.active = false
	h.timer.fn()
	h.step()
}

func (h *harness) key(s string) {
	h.t.Helper()
	h.input.Write([]byte(s))
	h.step()
}

// lastTx decodes the most recent transmission
func (h *harness) lastTx() *genfsk.Packet {
	h.t.Helper()
	call, ok := h.radio.last("tx")
	if !ok {
		h.t.Fatal("no transmission recorded")
	}
	p, err := genfsk.Decode(call.buf)
	if err != nil {
		h.t.Fatalf("transmitted frame does not decode: %v", err)
	}
	return p
}

func (h *harness) expectTx(deviceID uint8, cmd genfsk.Command) {
	h.t.Helper()
	p := h.lastTx()
	if p.DeviceID() != deviceID || p.Command() != cmd {
		h.t.Fatalf("last tx = (dev %d, %s), want (dev %d, %s)",
			p.DeviceID(), genfsk.FormatCommand(p.Command()), deviceID, genfsk.FormatCommand(cmd))
	}
}

func (h *harness) expectState(state State, mode RadioMode) {
	h.t.Helper()
	if h.d.node.State != state || h.d.node.Mode != mode {
		h.t.Fatalf("state = %v/%v, want %v/%v", h.d.node.State, h.d.node.Mode, state, mode)
	}
}
