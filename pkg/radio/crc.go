// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import "github.com/Thermoquad/ledlink/pkg/genfsk"

// CRC-24 configuration of the link layer
const (
	crcPolynomial = 0x00065B
	crcSeed       = 0x555555
	crcMask       = 0xFFFFFF

	// CRC covers the frame from the header onwards, not the sync address
	crcStartByte = genfsk.SyncBytes
)

// CalculateCRC computes the 24-bit link CRC (MSB first, no reflection)
func CalculateCRC(data []byte) uint32 {
	crc := uint32(crcSeed)
	for _, b := range data {
		crc ^= uint32(b) << 16
		for i := 0; i < 8; i++ {
			if crc&0x800000 != 0 {
				crc = ((crc << 1) ^ crcPolynomial) & crcMask
			} else {
				crc = (crc << 1) & crcMask
			}
		}
	}
	return crc
}

// SealFrame writes the CRC trailer (LS byte first) into an encoded frame
func SealFrame(frame []byte) error {
	end, err := genfsk.PayloadEnd(frame)
	if err != nil {
		return err
	}
	crc := CalculateCRC(frame[crcStartByte:end])
	for i := 0; i < genfsk.CRCSize; i++ {
		frame[end+i] = byte(crc >> (8 * i))
	}
	return nil
}

// CheckFrame reports whether the frame's trailer matches its contents
func CheckFrame(frame []byte) bool {
	end, err := genfsk.PayloadEnd(frame)
	if err != nil {
		return false
	}
	trailer, err := genfsk.Trailer(frame)
	if err != nil {
		return false
	}
	return trailer == CalculateCRC(frame[crcStartByte:end])
}
