// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package genfsk

import (
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomPacket builds a packet with arbitrary header fields and payload length
func randomPacket(rng *rand.Rand) *Packet {
	length := rng.Intn(MaxPayloadLen + 1)
	payload := make([]byte, length)
	rng.Read(payload)
	return &Packet{
		SyncAddress: rng.Uint32(),
		Header: Header{
			H0:     uint8(rng.Intn(256)),
			Length: uint8(length),
			H1:     uint8(rng.Intn(4)),
		},
		Payload: payload,
	}
}

func TestFuzz_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		p := randomPacket(rng)
		data, err := Encode(p)
		if err != nil {
			t.Fatalf("Round %d: encode error: %v", i, err)
		}

		// Short payloads produce frames below the protocol minimum
		if len(data) < FrameSize {
			if _, err := Decode(data); !errors.Is(err, ErrMalformedPacket) {
				t.Fatalf("Round %d: expected ErrMalformedPacket for %d byte frame, got %v", i, len(data), err)
			}
			continue
		}

		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("Round %d: decode error: %v", i, err)
		}
		if diff := cmp.Diff(p, decoded); diff != "" {
			t.Fatalf("Round %d: round trip mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestFuzz_DecodeRandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(MaxBufferSize+CRCSize+8))
		rng.Read(data)

		p, err := Decode(data)
		if err != nil {
			if !errors.Is(err, ErrMalformedPacket) {
				t.Fatalf("Round %d: unexpected error type: %v", i, err)
			}
			if p != nil {
				t.Fatalf("Round %d: packet returned alongside error", i)
			}
			continue
		}
		if int(p.Header.Length) != len(p.Payload) {
			t.Fatalf("Round %d: header length %d but payload has %d bytes", i, p.Header.Length, len(p.Payload))
		}
		if p.EncodedSize() > len(data) {
			t.Fatalf("Round %d: decoded packet larger than input", i)
		}
	}
}
