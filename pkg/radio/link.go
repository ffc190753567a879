// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package radio simulates the Generic FSK link layer on top of a byte stream.
//
// A Link behaves like a half-duplex transceiver: at most one operation is in
// flight, receptions are only delivered while a receive is armed, and the
// link layer owns address filtering, length filtering and the CRC. Frames
// travel as CBOR envelopes, byte-stuffed so the same stream works over a
// serial port or a WebSocket connection to the hub.
package radio

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
)

var (
	ErrClosed = errors.New("link closed")
	ErrBusy   = errors.New("radio operation already in progress")
)

const (
	// maxReadErrors bounds consecutive transient read errors before the
	// link gives up on the connection
	maxReadErrors = 50

	// DefaultTxWarmup is the delay between StartTransmit and the frame
	// going on air
	DefaultTxWarmup = 2 * time.Millisecond
)

// Handler receives operation completions. Calls are made from the link's
// goroutines and must not block.
type Handler interface {
	OnReceiveComplete(buf []byte, rssi int8, crcValid bool)
	OnReceiveFailed()
	OnTransmitComplete(err error)
}

// Observation describes one envelope seen on the stream, armed or not
type Observation struct {
	Time      time.Time
	Frame     []byte
	RSSI      int8
	CRCValid  bool
	Packet    *genfsk.Packet
	Err       error
	Anomalies []genfsk.ValidationError
}

type linkMode int

const (
	modeIdle linkMode = iota
	modeReceiving
	modeTransmitting
)

// Link implements the radio driver contract over a byte stream
type Link struct {
	conn   io.ReadWriteCloser
	logger *log.Logger

	mu       sync.Mutex
	handler  Handler
	observer func(Observation)
	mode     linkMode
	op       uint64 // bumped on every start and abort
	rxBuf    []byte
	stats    *genfsk.Statistics
	warmup   time.Duration
	closed   bool
	readErr  error

	writeMu sync.Mutex
	done    chan struct{}
}

// NewLink creates a link over conn. Call Start to begin reading.
func NewLink(conn io.ReadWriteCloser, logger *log.Logger) *Link {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Link{
		conn:   conn,
		logger: logger,
		stats:  genfsk.NewStatistics(),
		warmup: DefaultTxWarmup,
		done:   make(chan struct{}),
	}
}

// SetTxWarmup changes the transmit warm-up delay
func (l *Link) SetTxWarmup(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warmup = d
}

// SetHandler installs the completion handler
func (l *Link) SetHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// SetObserver installs a callback that sees every envelope on the stream
func (l *Link) SetObserver(fn func(Observation)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = fn
}

// Start launches the reader goroutine
func (l *Link) Start() {
	go l.readLoop()
}

// Done is closed when the reader goroutine exits
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns the error that stopped the reader, if any
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readErr
}

// Stats returns a copy of the link statistics
func (l *Link) Stats() genfsk.Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.stats
}

// StartReceive arms the receiver. The next accepted frame is copied into buf.
func (l *Link) StartReceive(buf []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.mode != modeIdle {
		return ErrBusy
	}
	l.op++
	l.mode = modeReceiving
	l.rxBuf = buf
	return nil
}

// StartTransmit seals a copy of frame with the CRC and sends it
func (l *Link) StartTransmit(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.mode != modeIdle {
		return ErrBusy
	}

	sealed := make([]byte, len(frame))
	copy(sealed, frame)
	if err := SealFrame(sealed); err != nil {
		return fmt.Errorf("failed to seal frame: %w", err)
	}
	wire, err := WrapEnvelope(Envelope{Frame: sealed})
	if err != nil {
		return err
	}

	l.op++
	l.mode = modeTransmitting
	go l.transmit(l.op, wire, l.warmup)
	return nil
}

// AbortAll cancels whatever operation is in flight. Completions of aborted
// operations are never delivered.
func (l *Link) AbortAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.op++
	l.mode = modeIdle
	l.rxBuf = nil
}

// Close aborts all operations and closes the underlying connection
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.op++
	l.mode = modeIdle
	l.mu.Unlock()
	return l.conn.Close()
}

func (l *Link) transmit(op uint64, wire []byte, warmup time.Duration) {
	time.Sleep(warmup)

	// Aborted during warm-up: nothing goes on air
	l.mu.Lock()
	aborted := l.op != op
	l.mu.Unlock()
	if aborted {
		return
	}

	l.writeMu.Lock()
	_, err := l.conn.Write(wire)
	l.writeMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err == nil {
		l.stats.RecordSent()
	} else {
		l.logger.Printf("Transmit error: %v", err)
	}
	if l.op != op || l.mode != modeTransmitting {
		return
	}
	l.mode = modeIdle
	if l.handler != nil {
		l.handler.OnTransmitComplete(err)
	}
}

func (l *Link) readLoop() {
	defer close(l.done)

	deframer := NewDeframer()
	buf := make([]byte, 256)
	readErrors := 0

	for {
		n, err := l.conn.Read(buf)
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()

			readErrors++
			if closed || errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) || readErrors >= maxReadErrors {
				l.mu.Lock()
				if !closed {
					l.readErr = err
				}
				l.mu.Unlock()
				return
			}
			// Brief pause before retry on transient errors (e.g., serial)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		readErrors = 0

		for i := 0; i < n; i++ {
			data, decodeErr := deframer.DecodeByte(buf[i])
			if decodeErr != nil {
				l.handleStreamError(decodeErr)
				continue
			}
			if data != nil {
				l.handleEnvelope(data)
			}
		}
	}
}

func (l *Link) handleStreamError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.Update(nil, false, err, nil)
	// Stray END bytes between frames are line noise, not a failed reception
	if !errors.Is(err, errUnexpectedEnd) {
		l.failReceiveLocked()
	}
	l.observeLocked(Observation{Time: time.Now(), Err: err})
}

func (l *Link) handleEnvelope(data []byte) {
	obs := Observation{Time: time.Now()}

	env, err := ParseEnvelope(data)
	if err != nil {
		obs.Err = err
		l.mu.Lock()
		defer l.mu.Unlock()
		l.stats.Update(nil, false, err, nil)
		l.failReceiveLocked()
		l.observeLocked(obs)
		return
	}

	obs.Frame = env.Frame
	obs.RSSI = env.RSSI
	obs.CRCValid = CheckFrame(env.Frame)
	obs.Packet, obs.Err = genfsk.Decode(env.Frame)
	if obs.Packet != nil {
		obs.Anomalies = genfsk.ValidatePacket(obs.Packet)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.Update(obs.Packet, obs.CRCValid, obs.Err, obs.Anomalies)
	if accepts(env.Frame) && l.mode == modeReceiving {
		n := copy(l.rxBuf, env.Frame)
		buf := l.rxBuf[:n]
		l.mode = modeIdle
		l.rxBuf = nil
		if l.handler != nil {
			l.handler.OnReceiveComplete(buf, env.RSSI, obs.CRCValid)
		}
	}
	l.observeLocked(obs)
}

func (l *Link) failReceiveLocked() {
	if l.mode != modeReceiving {
		return
	}
	l.mode = modeIdle
	l.rxBuf = nil
	if l.handler != nil {
		l.handler.OnReceiveFailed()
	}
}

func (l *Link) observeLocked(obs Observation) {
	if l.observer != nil {
		l.observer(obs)
	}
}

// accepts applies the hardware filters: network address match, H0/H1
// match and the fixed payload length. Rejected frames never reach the
// protocol.
func accepts(frame []byte) bool {
	if len(frame) < genfsk.SyncBytes+genfsk.HeaderSize {
		return false
	}

	var addr uint32
	for i := 0; i < genfsk.SyncBytes; i++ {
		addr |= uint32(frame[i]) << (8 * i)
	}
	if addr != genfsk.SyncAddress {
		return false
	}

	if frame[genfsk.SyncBytes]&genfsk.H0Mask != genfsk.H0Value {
		return false
	}

	header := frame[genfsk.SyncBytes+1]
	length := header & ((1 << genfsk.LengthFieldBits) - 1)
	h1 := header >> genfsk.LengthFieldBits
	return length == genfsk.MinPayloadLen && h1 == genfsk.H1Value
}
