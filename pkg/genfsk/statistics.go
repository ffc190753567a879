// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package genfsk

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame counters and error rates for one link
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	SentFrames      uint64
	CRCErrors       uint64
	DecodeErrors    uint64
	MalformedFrames uint64
	FilteredFrames  uint64
	AnomalousFrames uint64
	Heartbeats      uint64
	Commands        uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records one received frame.
// A nil packet with a nil error records nothing.
func (s *Statistics) Update(p *Packet, crcValid bool, decodeErr error, validationErrors []ValidationError) {
	if p == nil && decodeErr == nil {
		return
	}
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrMalformedPacket) {
			s.MalformedFrames++
		} else {
			s.DecodeErrors++
		}
		return
	}

	if !crcValid {
		s.CRCErrors++
		return
	}

	if !PassesLinkFilter(validationErrors) {
		s.FilteredFrames++
		return
	}
	if len(validationErrors) > 0 {
		s.AnomalousFrames++
		return
	}

	s.ValidFrames++
	if p.IsHeartbeat() {
		s.Heartbeats++
	} else {
		s.Commands++
	}
}

// RecordSent counts one transmitted frame
func (s *Statistics) RecordSent() {
	s.SentFrames++
	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		errorCount := s.CRCErrors + s.DecodeErrors + s.MalformedFrames
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, crcErrorPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		crcErrorPercent = float64(s.CRCErrors) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames Received: %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)
	result += fmt.Sprintf("  Heartbeats:       %5d\n", s.Heartbeats)
	result += fmt.Sprintf("  Commands:         %5d\n", s.Commands)
	result += fmt.Sprintf("Frames Sent:     %8d\n", s.SentFrames)

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, crcErrorPercent)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d\n", s.MalformedFrames)
	}
	if s.FilteredFrames > 0 {
		result += fmt.Sprintf("Filtered:        %8d\n", s.FilteredFrames)
	}
	if s.AnomalousFrames > 0 {
		result += fmt.Sprintf("Anomalous:       %8d\n", s.AnomalousFrames)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
