// Package codec implements the reversible obfuscation transform applied to
// stored payloads. A linear congruential generator advances a 32-bit state
// from a per-artifact seed; each plaintext byte is XORed with the low byte
// of the next state. The transform is self-inverse and deterministic from
// the seed alone.
//
// This is obfuscation, not confidentiality: it raises the cost of casual
// static inspection and nothing more.
package codec

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// LCG constants, the same ones Lua's math.random uses. The consumer-side
// decode loop embeds them, so they are part of the artifact format.
const (
	lcgMultiplier = 1664525
	lcgIncrement  = 1013904223
)

// NewSeed draws a fresh 32-bit seed from a cryptographically strong source.
// Seeds are generated once per stored artifact and persisted alongside the
// encoded bytes; they are never derived from user-visible values.
func NewSeed() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to generate seed: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// Encode obfuscates plaintext with the generator seeded by seed.
func Encode(seed uint32, plaintext []byte) []byte {
	out := make([]byte, len(plaintext))
	state := seed
	for i, b := range plaintext {
		state = state*lcgMultiplier + lcgIncrement
		out[i] = b ^ byte(state)
	}
	return out
}

// Decode inverts Encode for the same seed. XOR against a keystream is
// self-inverse, so this is Encode under another name.
func Decode(seed uint32, encoded []byte) []byte {
	return Encode(seed, encoded)
}
