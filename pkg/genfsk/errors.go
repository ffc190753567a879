// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package genfsk

import "errors"

var (
	ErrMalformedPacket = errors.New("malformed packet")
	ErrPayloadLength   = errors.New("invalid payload length")
	ErrBufferTooSmall  = errors.New("buffer too small for frame")
)
