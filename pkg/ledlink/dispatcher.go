// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ledlink implements the LED remote-control protocol.
//
// A master node turns console keys into color commands for its slaves and
// supervises their liveness with a round-robin heartbeat. Slaves toggle their
// indicators and echo every command addressed to them. Both roles share one
// protocol engine: a Dispatcher owns the node's state and the radio, wakes
// on events posted by the radio, timer and console producers, and handles
// them one coalesced batch at a time on a single goroutine.
package ledlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
)

// DefaultTimeout is how long the master waits for a heartbeat reply
const DefaultTimeout = 500 * time.Millisecond

var (
	ErrAllocation    = errors.New("buffer allocation failed")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config describes one node
type Config struct {
	Role  Role
	Radio Radio

	// Timer defaults to a SystemTimer
	Timer Timer

	// Indicator receives slave toggles. Defaults to a no-op.
	Indicator Indicator

	// Input is the console byte source. Nil disables console commands.
	Input ByteSource

	// Console receives operator status lines
	Console io.Writer

	// Logger receives diagnostics
	Logger *log.Logger

	// Timeout is the heartbeat reply timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Table maps master console keys. Defaults to SingleDeviceTable.
	Table CommandTable

	// OnConnectivity is called from the control loop after every
	// heartbeat round with a copy of the connectivity table
	OnConnectivity func([]ConnectivityState)
}

// Dispatcher is the single control loop of a node
type Dispatcher struct {
	node       *NodeContext
	supervisor *Supervisor

	radio          Radio
	timer          Timer
	indicator      Indicator
	input          ByteSource
	console        io.Writer
	logger         *log.Logger
	timeout        time.Duration
	table          CommandTable
	onConnectivity func([]ConnectivityState)

	// mailbox, shared with the producers
	mu        sync.Mutex
	pending   eventBits
	rxSlot    rxEvent
	txSlot    error
	timerSlot uint64
	wake      chan struct{}
}

// NewDispatcher validates cfg and allocates the node's state
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Radio == nil {
		return nil, fmt.Errorf("%w: no radio", ErrInvalidConfig)
	}
	if !cfg.Role.IsMaster() && cfg.Role.DeviceID() >= genfsk.NumDevices {
		return nil, fmt.Errorf("%w: device id %d out of range (0-%d)",
			ErrInvalidConfig, cfg.Role.DeviceID(), genfsk.NumDevices-1)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout %v", ErrInvalidConfig, cfg.Timeout)
	}

	node, err := newNodeContext(cfg.Role, rxBufferSize, txBufferSize)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		node:           node,
		radio:          cfg.Radio,
		timer:          cfg.Timer,
		indicator:      cfg.Indicator,
		input:          cfg.Input,
		console:        cfg.Console,
		logger:         cfg.Logger,
		timeout:        cfg.Timeout,
		table:          cfg.Table,
		onConnectivity: cfg.OnConnectivity,
		wake:           make(chan struct{}, 1),
	}
	if d.timer == nil {
		d.timer = NewSystemTimer()
	}
	if d.indicator == nil {
		d.indicator = nopIndicator{}
	}
	if d.console == nil {
		d.console = io.Discard
	}
	if d.logger == nil {
		d.logger = log.New(io.Discard, "", 0)
	}
	if d.timeout == 0 {
		d.timeout = DefaultTimeout
	}
	if d.table.keys == nil {
		d.table = SingleDeviceTable()
	}
	if cfg.Role.IsMaster() {
		d.supervisor = NewSupervisor()
	}
	return d, nil
}

// Run prints the banner and runs the control loop until ctx is cancelled or
// the radio refuses an operation. Cancellation returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	fmt.Fprint(d.console, Banner(d.node.Role, d.table))
	d.Notify()

	defer func() {
		d.stopTimer()
		d.radio.AbortAll()
		d.node.Mode = Idle
	}()

	for {
		if err := d.arm(); err != nil {
			return err
		}
		b, err := d.wait(ctx)
		if err != nil {
			return nil
		}
		d.dispatch(b)
	}
}

// arm issues the radio operation the current state calls for, aborting
// whatever ran before. A radio already doing the right thing is left alone.
func (d *Dispatcher) arm() error {
	n := d.node
	switch n.State {
	case AwaitTx:
		if n.Mode == Transmitting {
			return nil
		}
		if n.txKind == txCommand {
			fmt.Fprintln(d.console, "Starting transmission...")
		}
		d.radio.AbortAll()
		n.Mode = Idle
		if err := d.radio.StartTransmit(n.txBuf[:n.txLen]); err != nil {
			return fmt.Errorf("failed to start transmit: %w", err)
		}
		n.Mode = Transmitting

	case AwaitRx:
		if n.Mode == Receiving {
			return nil
		}
		d.radio.AbortAll()
		n.Mode = Idle
		if err := d.radio.StartReceive(n.rxBuf); err != nil {
			return fmt.Errorf("failed to start receive: %w", err)
		}
		n.Mode = Receiving
	}
	return nil
}

// dispatch handles every signaled class in priority order
func (d *Dispatcher) dispatch(b batch) {
	if b.bits&evRxDone != 0 {
		d.handleRx(b.rx)
	}
	if b.bits&evRxFailed != 0 {
		d.handleRxFailed()
	}
	if b.bits&evTxDone != 0 {
		d.handleTxDone(b.txErr)
	}
	if b.bits&evTimer != 0 {
		d.handleTimer(b.timerGen)
	}
	if b.bits&evConsole != 0 {
		d.handleConsole()
	}
	if b.bits&evSelf != 0 {
		d.handleSelf()
	}
}

// armTimer starts the heartbeat timeout. Expiries of earlier shots carry an
// older generation and are ignored.
func (d *Dispatcher) armTimer() {
	n := d.node
	n.timerGen++
	n.timerArmed = true
	gen := n.timerGen
	d.timer.StartSingleShot(d.timeout, func() {
		d.signal(evTimer, func() {
			d.timerSlot = gen
		})
	})
}

func (d *Dispatcher) stopTimer() {
	d.node.timerArmed = false
	d.timer.Stop()
}
