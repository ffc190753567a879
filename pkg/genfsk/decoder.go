// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package genfsk

import "fmt"

// Decode parses a received frame.
//
// The buffer must hold at least a minimum-length frame and as many payload
// bytes as the length field declares, followed by the CRC trailer. Truncated
// input is rejected with ErrMalformedPacket.
func Decode(data []byte) (*Packet, error) {
	if len(data) < FrameSize {
		return nil, fmt.Errorf("%w: %d bytes (min %d)", ErrMalformedPacket, len(data), FrameSize)
	}

	var addr uint32
	for i := 0; i < SyncBytes; i++ {
		addr |= uint32(data[i]) << (8 * i)
	}

	h0 := data[SyncBytes]
	length := data[SyncBytes+1] & lengthMask
	h1 := data[SyncBytes+1] >> LengthFieldBits

	end := SyncBytes + HeaderSize + int(length)
	if end+CRCSize > len(data) {
		return nil, fmt.Errorf("%w: length field %d exceeds %d byte buffer", ErrMalformedPacket, length, len(data))
	}

	payload := make([]byte, length)
	copy(payload, data[SyncBytes+HeaderSize:end])

	return &Packet{
		SyncAddress: addr,
		Header: Header{
			H0:     h0,
			Length: length,
			H1:     h1,
		},
		Payload: payload,
	}, nil
}

// PayloadEnd returns the offset of the CRC trailer for a decodable frame
func PayloadEnd(data []byte) (int, error) {
	if len(data) < SyncBytes+HeaderSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(data))
	}
	end := SyncBytes + HeaderSize + int(data[SyncBytes+1]&lengthMask)
	if end+CRCSize > len(data) {
		return 0, fmt.Errorf("%w: trailer past end of buffer", ErrMalformedPacket)
	}
	return end, nil
}

// Trailer returns the CRC trailer of a frame (LS byte first on air)
func Trailer(data []byte) (uint32, error) {
	end, err := PayloadEnd(data)
	if err != nil {
		return 0, err
	}
	var crc uint32
	for i := 0; i < CRCSize; i++ {
		crc |= uint32(data[end+i]) << (8 * i)
	}
	return crc, nil
}
