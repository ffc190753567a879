// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ledlink

import (
	"fmt"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
)

// State is the direction the protocol wants the radio armed in
type State int

const (
	AwaitRx State = iota
	AwaitTx
)

func (s State) String() string {
	switch s {
	case AwaitRx:
		return "AwaitRx"
	case AwaitTx:
		return "AwaitTx"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RadioMode is the operation the radio is actually running
type RadioMode int

const (
	Idle RadioMode = iota
	Receiving
	Transmitting
)

func (m RadioMode) String() string {
	switch m {
	case Idle:
		return "Idle"
	case Receiving:
		return "Receiving"
	case Transmitting:
		return "Transmitting"
	default:
		return fmt.Sprintf("RadioMode(%d)", int(m))
	}
}

// txKind records what the pending transmission is, for tx-done handling
type txKind int

const (
	txNone txKind = iota
	txCommand
	txReply
	txHeartbeat
)

// Buffer sizes: the largest frame plus its CRC trailer
const (
	rxBufferSize = genfsk.MaxBufferSize + genfsk.CRCSize
	txBufferSize = genfsk.MaxBufferSize + genfsk.CRCSize
)

// NodeContext holds all mutable protocol state of one node. It is owned by
// the Dispatcher and only touched from its control loop.
type NodeContext struct {
	Role  Role
	State State
	Mode  RadioMode

	rxBuf  []byte
	txBuf  []byte
	txLen  int
	txKind txKind
	txPkt  *genfsk.Packet

	// heartbeat waiting for a pending transmission to finish
	deferred *genfsk.Packet

	timerGen   uint64
	timerArmed bool

	started bool
}

// newNodeContext allocates the radio buffers for a node
func newNodeContext(role Role, rxSize, txSize int) (*NodeContext, error) {
	if rxSize < genfsk.FrameSize {
		return nil, fmt.Errorf("%w: rx buffer of %d bytes cannot hold a %d byte frame", ErrAllocation, rxSize, genfsk.FrameSize)
	}
	if txSize < genfsk.FrameSize {
		return nil, fmt.Errorf("%w: tx buffer of %d bytes cannot hold a %d byte frame", ErrAllocation, txSize, genfsk.FrameSize)
	}
	return &NodeContext{
		Role:  role,
		State: AwaitRx,
		Mode:  Idle,
		rxBuf: make([]byte, rxSize),
		txBuf: make([]byte, txSize),
	}, nil
}
