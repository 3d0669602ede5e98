package token

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// DefaultAlphabet is uppercase alphanumeric without the look-alikes 0/O and 1/I,
// so a code read off an SMS can be typed back without ambiguity.
const DefaultAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const DefaultLength = 8

// MaxLength is the width of the token column.
const MaxLength = 16

// Generator produces access tokens. Tokens double as controller usernames and
// login codes, so they are fixed-length and restricted to Alphabet.
type Generator struct {
	Length   int
	Alphabet string
}

func NewGenerator(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	if length > MaxLength {
		length = MaxLength
	}
	return &Generator{Length: length, Alphabet: DefaultAlphabet}
}

// Generate returns a cryptographically random token.
func (g *Generator) Generate() (string, error) {
	alphabet := g.Alphabet
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	if len(alphabet) < 2 || len(alphabet) > 256 {
		return "", fmt.Errorf("invalid token alphabet size: %d", len(alphabet))
	}
	if g.Length <= 0 {
		return "", fmt.Errorf("invalid token length: %d", g.Length)
	}

	// Rejection sampling to avoid modulo bias: discard bytes at or above the
	// largest multiple of len(alphabet) that fits in a byte.
	maxRandomByte := 256 - (256 % len(alphabet))

	out := make([]byte, g.Length)
	buf := make([]byte, g.Length*2)
	written := 0

	for written < g.Length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}

		for _, b := range buf {
			if int(b) >= maxRandomByte {
				continue
			}
			out[written] = alphabet[int(b)%len(alphabet)]
			written++
			if written == g.Length {
				break
			}
		}
	}

	return string(out), nil
}

// Normalize canonicalises user-typed tokens before lookup.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Mask hides all but the last two characters of a token for logs and alerts.
func Mask(tok string) string {
	if len(tok) <= 2 {
		return strings.Repeat("*", len(tok))
	}
	return strings.Repeat("*", len(tok)-2) + tok[len(tok)-2:]
}
