// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package genfsk

// Header holds the three header fields. Length only uses the low
// LengthFieldBits bits and H1 the low H1FieldBits bits.
type Header struct {
	H0     uint8
	Length uint8
	H1     uint8
}

// Packet is the logical form of a frame, without its CRC trailer
type Packet struct {
	SyncAddress uint32
	Header      Header
	Payload     []byte
}

// NewPacket builds a protocol packet addressed to deviceID.
// The payload is always MinPayloadLen bytes: device id, command, zero padding.
func NewPacket(deviceID uint8, cmd Command) *Packet {
	payload := make([]byte, MinPayloadLen)
	payload[0] = deviceID
	payload[1] = uint8(cmd)
	return &Packet{
		SyncAddress: SyncAddress,
		Header: Header{
			H0:     H0Value,
			Length: MinPayloadLen,
			H1:     H1Value,
		},
		Payload: payload,
	}
}

// DeviceID returns the first payload byte
func (p *Packet) DeviceID() uint8 {
	if len(p.Payload) < 1 {
		return 0
	}
	return p.Payload[0]
}

// Command returns the second payload byte
func (p *Packet) Command() Command {
	if len(p.Payload) < 2 {
		return 0
	}
	return Command(p.Payload[1])
}

// IsHeartbeat returns true for heartbeat probes and heartbeat acknowledgments
func (p *Packet) IsHeartbeat() bool {
	return p.Command() == CommandHeartbeat
}

// EncodedSize returns the number of bytes Encode produces for the packet
func (p *Packet) EncodedSize() int {
	return SyncBytes + HeaderSize + len(p.Payload) + CRCSize
}
