// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package genfsk provides the over-the-air frame format of the LED control
// network.
//
// Frames are Generic FSK formatted packets: a sync (network) address, a
// two byte header carrying H0, a 6-bit length field and H1, the payload and a
// 3 byte CRC trailer. The CRC value belongs to the link layer; this package
// only reserves room for it.
package genfsk

// Network address
const (
	SyncAddress  = 0x8E89BED6
	SyncAddrSize = 0x03 // bytes on air = SyncAddrSize + 1
	SyncBytes    = SyncAddrSize + 1
)

// Header layout. Field sizes add up to a multiple of 8 bits.
const (
	H0FieldBits     = 8
	LengthFieldBits = 6
	H1FieldBits     = 2
	HeaderSize      = (H0FieldBits + LengthFieldBits + H1FieldBits) >> 3

	H0Value = 0x00
	H0Mask  = (1 << H0FieldBits) - 1
	H1Value = 0x00
	H1Mask  = (1 << H1FieldBits) - 1

	lengthMask = (1 << LengthFieldBits) - 1
)

// Payload and buffer sizes
const (
	MaxPayloadLen = (1 << LengthFieldBits) - 1
	MinPayloadLen = 6
	CRCSize       = 3

	// MaxBufferSize is the largest frame without its CRC trailer
	MaxBufferSize = SyncBytes + HeaderSize + MaxPayloadLen

	// FrameSize is the size of every frame this protocol sends, CRC included
	FrameSize = SyncBytes + HeaderSize + MinPayloadLen + CRCSize
)

// Radio defaults reported by the nodes
const (
	DefaultChannel      = 0x2A // 2360 MHz + channel * 1 MHz
	MaxChannel          = 0x7F
	DefaultTxPowerLevel = 0x08
	MaxTxPowerLevel     = 0x20
	DataRateKbps        = 1000
)

// Device identifiers
const (
	DeviceZero = 0
	DeviceOne  = 1
	DeviceTwo  = 2

	NumDevices = 3
)

// Command is the second payload byte: a color to toggle or a heartbeat.
type Command uint8

// Command values
const (
	CommandRed       Command = 0
	CommandGreen     Command = 1
	CommandBlue      Command = 2
	CommandHeartbeat Command = 3
)

// IsColor reports whether the command toggles an indicator
func (c Command) IsColor() bool {
	return c <= CommandBlue
}
