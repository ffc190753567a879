// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package genfsk

import "fmt"

// Encode serializes a packet into a newly allocated frame.
// The CRC trailer is reserved and left zeroed for the link layer.
func Encode(p *Packet) ([]byte, error) {
	buf := make([]byte, p.EncodedSize())
	n, err := EncodeInto(buf, p)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// MustEncode is Encode for packets known to be valid.
// Panics on encoding error.
func MustEncode(p *Packet) []byte {
	data, err := Encode(p)
	if err != nil {
		panic(fmt.Sprintf("genfsk: encode error: %v", err))
	}
	return data
}

// EncodeInto serializes a packet into buf and returns the frame length.
//
// Layout: sync address (SyncBytes, little-endian) | H0 | length (bits 0-5,
// LSB first) + H1 (bits 6-7) | payload | CRC trailer (CRCSize, zeroed).
func EncodeInto(buf []byte, p *Packet) (int, error) {
	if int(p.Header.Length) != len(p.Payload) {
		return 0, fmt.Errorf("%w: header says %d, payload has %d", ErrPayloadLength, p.Header.Length, len(p.Payload))
	}
	if len(p.Payload) > MaxPayloadLen {
		return 0, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadLength, len(p.Payload), MaxPayloadLen)
	}

	size := p.EncodedSize()
	if len(buf) < size {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, size, len(buf))
	}

	for i := 0; i < SyncBytes; i++ {
		buf[i] = byte(p.SyncAddress >> (8 * i))
	}

	buf[SyncBytes] = p.Header.H0
	buf[SyncBytes+1] = (p.Header.Length & lengthMask) | (p.Header.H1&H1Mask)<<LengthFieldBits

	offset := SyncBytes + HeaderSize
	offset += copy(buf[offset:], p.Payload)

	// Reserve the trailer
	for i := 0; i < CRCSize; i++ {
		buf[offset+i] = 0
	}

	return size, nil
}
