// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ledlink

import "github.com/Thermoquad/ledlink/pkg/genfsk"

// ConnectivityState is the master's view of one slave
type ConnectivityState struct {
	DeviceID      uint8
	Connected     bool
	AwaitingReply bool
}

// Probe is the outcome of one heartbeat round
type Probe struct {
	Slave ConnectivityState

	// Changed is true when the slave's connectivity flipped, or on the
	// slave's first result
	Changed bool

	// Next is the heartbeat for the slave probed next
	Next *genfsk.Packet
}

// Supervisor runs the round-robin heartbeat cycle over a fixed slave set.
//
// It never touches the radio or the timer: callers send the heartbeats it
// returns and arm the timeout once a heartbeat is on air. At most one slave
// is awaiting a reply at any time.
type Supervisor struct {
	slaves []ConnectivityState
	probed []bool
	cursor int
}

// NewSupervisor creates a supervisor over the given device ids, probed in
// order. With no ids it supervises every device of the network.
func NewSupervisor(ids ...uint8) *Supervisor {
	if len(ids) == 0 {
		for id := uint8(0); id < genfsk.NumDevices; id++ {
			ids = append(ids, id)
		}
	}
	s := &Supervisor{
		slaves: make([]ConnectivityState, len(ids)),
		probed: make([]bool, len(ids)),
	}
	for i, id := range ids {
		s.slaves[i].DeviceID = id
	}
	return s
}

// Begin marks the current slave as awaiting a reply and returns its heartbeat
func (s *Supervisor) Begin() *genfsk.Packet {
	st := &s.slaves[s.cursor]
	st.AwaitingReply = true
	return genfsk.NewPacket(st.DeviceID, genfsk.CommandHeartbeat)
}

// OnReply handles a heartbeat acknowledgment. Replies from a slave other than
// the current one, replies with a non-heartbeat code, and replies that arrive
// when nothing is awaited do not match and change nothing.
func (s *Supervisor) OnReply(p *genfsk.Packet) (Probe, bool) {
	st := &s.slaves[s.cursor]
	if !st.AwaitingReply || !p.IsHeartbeat() || p.DeviceID() != st.DeviceID {
		return Probe{}, false
	}
	return s.settle(true), true
}

// OnTimeout marks the current slave disconnected if it is still awaited
func (s *Supervisor) OnTimeout() (Probe, bool) {
	if !s.slaves[s.cursor].AwaitingReply {
		return Probe{}, false
	}
	return s.settle(false), true
}

func (s *Supervisor) settle(connected bool) Probe {
	st := &s.slaves[s.cursor]
	changed := !s.probed[s.cursor] || st.Connected != connected
	st.Connected = connected
	st.AwaitingReply = false
	s.probed[s.cursor] = true

	probe := Probe{Slave: *st, Changed: changed}
	s.cursor = (s.cursor + 1) % len(s.slaves)
	probe.Next = s.Begin()
	return probe
}

// Current returns the device id being probed
func (s *Supervisor) Current() uint8 {
	return s.slaves[s.cursor].DeviceID
}

// Awaiting returns true while a heartbeat reply is outstanding
func (s *Supervisor) Awaiting() bool {
	return s.slaves[s.cursor].AwaitingReply
}

// Probed reports whether the slave at index i has had a result yet
func (s *Supervisor) Probed(i int) bool {
	return s.probed[i]
}

// Snapshot returns a copy of the connectivity table
func (s *Supervisor) Snapshot() []ConnectivityState {
	out := make([]ConnectivityState, len(s.slaves))
	copy(out, s.slaves)
	return out
}
