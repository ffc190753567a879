// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package genfsk

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalySyncMismatch AnomalyType = iota
	AnomalyHeaderMismatch
	AnomalyLengthMismatch
	AnomalyUnknownDevice
	AnomalyUnknownCommand
)

// ValidationError represents a packet validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// LinkLevel reports whether the anomaly is one the link layer filters on
// (address match, header match, fixed length) before a frame reaches the
// protocol.
func (v *ValidationError) LinkLevel() bool {
	switch v.Type {
	case AnomalySyncMismatch, AnomalyHeaderMismatch, AnomalyLengthMismatch:
		return true
	}
	return false
}

// ValidatePacket checks a decoded packet against the network configuration
// and the protocol's payload conventions.
// Returns a slice of validation errors (empty if packet is valid)
func ValidatePacket(p *Packet) []ValidationError {
	errors := []ValidationError{}

	if p.SyncAddress != SyncAddress {
		errors = append(errors, ValidationError{
			Type:    AnomalySyncMismatch,
			Message: fmt.Sprintf("Sync address 0x%08X does not match network 0x%08X", p.SyncAddress, uint32(SyncAddress)),
			Details: map[string]interface{}{"sync": p.SyncAddress},
		})
	}

	if p.Header.H0&H0Mask != H0Value || p.Header.H1&H1Mask != H1Value {
		errors = append(errors, ValidationError{
			Type:    AnomalyHeaderMismatch,
			Message: fmt.Sprintf("Header mismatch (h0=0x%02X, h1=%d)", p.Header.H0, p.Header.H1),
			Details: map[string]interface{}{"h0": p.Header.H0, "h1": p.Header.H1},
		})
	}

	if p.Header.Length != MinPayloadLen || len(p.Payload) != MinPayloadLen {
		errors = append(errors, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("Payload length %d (expected %d)", p.Header.Length, MinPayloadLen),
			Details: map[string]interface{}{"length": p.Header.Length, "expected": MinPayloadLen},
		})
		// Device and command bytes are meaningless without a full payload
		return errors
	}

	if p.DeviceID() >= NumDevices {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownDevice,
			Message: fmt.Sprintf("Device id %d out of range (0-%d)", p.DeviceID(), NumDevices-1),
			Details: map[string]interface{}{"device": p.DeviceID()},
		})
	}

	if p.Command() > CommandHeartbeat {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownCommand,
			Message: fmt.Sprintf("Unknown command 0x%02X", uint8(p.Command())),
			Details: map[string]interface{}{"command": uint8(p.Command())},
		})
	}

	return errors
}

// PassesLinkFilter returns true when none of the anomalies is link level
func PassesLinkFilter(errors []ValidationError) bool {
	for i := range errors {
		if errors[i].LinkLevel() {
			return false
		}
	}
	return true
}
