package id

import (
	"context"
	"errors"
	"regexp"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Alphabet is the URL-safe set paste identifiers are drawn from.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

	defaultLength = 6
	maxLength     = 10
	maxDraws      = 8
)

var pattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,10}$`)

// ErrGenerate is returned when no valid identifier could be drawn.
var ErrGenerate = errors.New("unable to generate valid id")

// Valid reports whether s matches the canonical identifier pattern.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// Generator produces short, URL-safe identifiers.
type Generator struct {
	length int
}

// New returns a Generator with the provided length. Values outside 1..10
// fall back to the default of 6.
func New(length int) *Generator {
	if length <= 0 || length > maxLength {
		length = defaultLength
	}
	return &Generator{length: length}
}

// Length returns the number of characters per identifier.
func (g *Generator) Length() int {
	return g.length
}

// Generate returns a new identifier. Draws that fail or do not validate are
// discarded and retried a bounded number of times.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	var lastErr error
	for i := 0; i < maxDraws; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		s, err := gonanoid.Generate(Alphabet, g.length)
		if err != nil {
			lastErr = err
			continue
		}
		if Valid(s) {
			return s, nil
		}
	}
	if lastErr != nil {
		return "", errors.Join(ErrGenerate, lastErr)
	}
	return "", ErrGenerate
}
