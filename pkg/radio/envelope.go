// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Envelope is what travels over the simulated air: the on-air frame plus
// the reception metadata a real transceiver would measure.
type Envelope struct {
	Frame []byte `cbor:"0,keyasint"`
	RSSI  int8   `cbor:"1,keyasint,omitempty"`
}

// WrapEnvelope CBOR-encodes and frames an envelope for the stream
func WrapEnvelope(env Envelope) ([]byte, error) {
	data, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	if len(data) > maxEnvelopeSize {
		return nil, fmt.Errorf("envelope too large: %d bytes (max %d)", len(data), maxEnvelopeSize)
	}
	return wrapBytes(data), nil
}

// ParseEnvelope decodes an unstuffed envelope
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if len(data) == 0 {
		return env, fmt.Errorf("empty envelope")
	}
	if err := cbor.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env, nil
}

// UnwrapEnvelope decodes a complete framed message, as carried by one
// WebSocket message.
func UnwrapEnvelope(msg []byte) (Envelope, error) {
	d := NewDeframer()
	for _, b := range msg {
		data, err := d.DecodeByte(b)
		if err != nil {
			return Envelope{}, err
		}
		if data != nil {
			return ParseEnvelope(data)
		}
	}
	return Envelope{}, fmt.Errorf("no complete frame in %d byte message", len(msg))
}
