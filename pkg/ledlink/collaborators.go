// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ledlink

import (
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
)

// Radio is the half-duplex transceiver the protocol drives. Completions are
// reported to the Dispatcher's OnReceiveComplete, OnReceiveFailed and
// OnTransmitComplete methods.
type Radio interface {
	StartReceive(buf []byte) error
	StartTransmit(frame []byte) error
	AbortAll()
}

// Timer is a restartable single-shot timer. Stop must not block on a
// running callback.
type Timer interface {
	StartSingleShot(d time.Duration, fn func())
	Stop()
}

// Indicator toggles one colored LED
type Indicator interface {
	Toggle(color genfsk.Command)
}

// ByteSource is the buffered console input
type ByteSource interface {
	io.ByteReader
	Buffered() int
}

type nopIndicator struct{}

func (nopIndicator) Toggle(genfsk.Command) {}

// SystemTimer implements Timer with time.AfterFunc
type SystemTimer struct {
	mu    sync.Mutex
	timer *time.Timer
}

// NewSystemTimer creates an idle timer
func NewSystemTimer() *SystemTimer {
	return &SystemTimer{}
}

// StartSingleShot schedules fn after d, replacing any pending shot
func (t *SystemTimer) StartSingleShot(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, fn)
}

// Stop cancels the pending shot, if any
func (t *SystemTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// ByteBuffer is a ByteSource fed by a console reader. Every write calls the
// notify function so the dispatcher wakes up.
type ByteBuffer struct {
	mu     sync.Mutex
	data   []byte
	notify func()
}

// NewByteBuffer creates an empty console buffer
func NewByteBuffer() *ByteBuffer {
	return &ByteBuffer{}
}

// SetNotify installs the function called after each write
func (b *ByteBuffer) SetNotify(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify = fn
}

// Write appends console bytes
func (b *ByteBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.mu.Lock()
	b.data = append(b.data, p...)
	notify := b.notify
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
	return len(p), nil
}

// ReadByte removes the oldest buffered byte. Returns io.EOF when empty.
func (b *ByteBuffer) ReadByte() (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	c := b.data[0]
	b.data = b.data[1:]
	return c, nil
}

// Buffered returns the number of unread bytes
func (b *ByteBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
