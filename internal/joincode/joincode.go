// Package joincode generates the short codes players type to join a
// private table. Codes are 5 characters from an alphabet that excludes
// the ambiguous I, O, 0 and 1.
package joincode

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Alphabet is the 32-character code alphabet.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the fixed code length.
const Length = 5

// RandSource interface for dependency injection of randomness.
type RandSource interface {
	IntN(n int) int
}

// Generator produces join codes with configurable randomness.
type Generator struct {
	randSource RandSource
}

// NewGenerator creates a generator. A nil RandSource uses crypto/rand.
func NewGenerator(randSource RandSource) *Generator {
	return &Generator{randSource: randSource}
}

// Generate creates a new join code using crypto/rand.
func Generate() string {
	return NewGenerator(nil).Generate()
}

// Generate creates a new join code using the generator's RandSource.
func (g *Generator) Generate() string {
	var b [Length]byte
	if g.randSource != nil {
		for i := range b {
			b[i] = Alphabet[g.randSource.IntN(len(Alphabet))]
		}
		return string(b[:])
	}
	var raw [Length]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic("joincode: failed to read random bytes: " + err.Error())
	}
	for i := range b {
		// 32 divides 256, so masking stays uniform.
		b[i] = Alphabet[raw[i]&31]
	}
	return string(b[:])
}

// Validate checks that a code is exactly 5 characters from the alphabet.
func Validate(code string) error {
	if len(code) != Length {
		return fmt.Errorf("join code must be exactly %d characters, got %d", Length, len(code))
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(Alphabet, rune(code[i])) {
			return fmt.Errorf("invalid character %q at position %d", code[i], i)
		}
	}
	return nil
}

// Normalize trims and upper-cases a user-typed code before validation.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
