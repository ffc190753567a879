// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ledlink

import "context"

// eventBits is the set of signaled event classes
type eventBits uint8

const (
	evRxDone eventBits = 1 << iota
	evRxFailed
	evTxDone
	evTimer
	evConsole
	evSelf
)

// rxEvent is the slot filled by a receive completion
type rxEvent struct {
	buf      []byte
	rssi     int8
	crcValid bool
}

// batch is everything signaled since the previous wait
type batch struct {
	bits     eventBits
	rx       rxEvent
	txErr    error
	timerGen uint64
}

// signal runs stash under the mailbox lock, sets the event bits and wakes the
// control loop. It is the only thing producers do.
func (d *Dispatcher) signal(bits eventBits, stash func()) {
	d.mu.Lock()
	if stash != nil {
		stash()
	}
	d.pending |= bits
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// take drains the mailbox without blocking
func (d *Dispatcher) take() batch {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := batch{
		bits:     d.pending,
		rx:       d.rxSlot,
		txErr:    d.txSlot,
		timerGen: d.timerSlot,
	}
	d.pending = 0
	return b
}

// dropTxDone discards a transmit completion still waiting in the mailbox
func (d *Dispatcher) dropTxDone() {
	d.mu.Lock()
	d.pending &^= evTxDone
	d.mu.Unlock()
}

// wait blocks until at least one event is signaled
func (d *Dispatcher) wait(ctx context.Context) (batch, error) {
	for {
		if b := d.take(); b.bits != 0 {
			return b, nil
		}
		select {
		case <-d.wake:
		case <-ctx.Done():
			return batch{}, ctx.Err()
		}
	}
}

// OnReceiveComplete is called by the radio when an armed receive completes
func (d *Dispatcher) OnReceiveComplete(buf []byte, rssi int8, crcValid bool) {
	data := make([]byte, len(buf))
	copy(data, buf)
	d.signal(evRxDone, func() {
		d.rxSlot = rxEvent{buf: data, rssi: rssi, crcValid: crcValid}
	})
}

// OnReceiveFailed is called by the radio when an armed receive fails
func (d *Dispatcher) OnReceiveFailed() {
	d.signal(evRxFailed, nil)
}

// OnTransmitComplete is called by the radio when a transmission finishes
func (d *Dispatcher) OnTransmitComplete(err error) {
	d.signal(evTxDone, func() {
		d.txSlot = err
	})
}

// OnConsoleInput is called whenever console bytes are buffered
func (d *Dispatcher) OnConsoleInput() {
	d.signal(evConsole, nil)
}

// Notify posts a self-notification
func (d *Dispatcher) Notify() {
	d.signal(evSelf, nil)
}
