// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"errors"
	"fmt"
)

// Stream framing bytes. Envelopes travel between START and END with
// START, END and ESC escaped as ESC + (byte XOR EscXor).
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20

	maxEnvelopeSize = 256
)

var errUnexpectedEnd = errors.New("unexpected END byte outside a frame")

// wrapBytes frames and byte-stuffs an envelope for the stream
func wrapBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2+2)
	result = append(result, StartByte)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return append(result, EndByte)
}

// Deframer extracts stuffed envelopes from a byte stream
type Deframer struct {
	inFrame    bool
	escapeNext bool
	buffer     []byte
}

// NewDeframer creates a new stream deframer
func NewDeframer() *Deframer {
	return &Deframer{
		buffer: make([]byte, 0, maxEnvelopeSize),
	}
}

// Reset drops any partial frame
func (d *Deframer) Reset() {
	d.inFrame = false
	d.escapeNext = false
	d.buffer = d.buffer[:0]
}

// DecodeByte processes a single stream byte.
// Returns the unstuffed envelope once END is seen, nil while incomplete.
func (d *Deframer) DecodeByte(b byte) ([]byte, error) {
	if b == StartByte {
		d.Reset()
		d.inFrame = true
		return nil, nil
	}

	if !d.inFrame {
		if b == EndByte {
			return nil, errUnexpectedEnd
		}
		return nil, nil
	}

	if b == EndByte {
		if d.escapeNext {
			d.Reset()
			return nil, fmt.Errorf("incomplete escape sequence at end of frame")
		}
		out := make([]byte, len(d.buffer))
		copy(out, d.buffer)
		d.Reset()
		return out, nil
	}

	if b == EscByte && !d.escapeNext {
		d.escapeNext = true
		return nil, nil
	}
	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	if len(d.buffer) >= maxEnvelopeSize {
		d.Reset()
		return nil, fmt.Errorf("buffer overflow: frame exceeds %d bytes", maxEnvelopeSize)
	}
	d.buffer = append(d.buffer, b)
	return nil, nil
}
