// Package trackcode issues the opaque codes submitters use to look up their
// suggestions without an account.
package trackcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// Alphabet omits 0/O and 1/I so codes survive being read aloud or copied by hand.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var ErrInvalidLength = errors.New("tracking code length must be between 1 and MaxLength")

type Generator interface {
	Generate() (string, error)
}

type Random struct {
	length int
}

func NewRandom(length int) (*Random, error) {
	if length <= 0 || length > MaxLength {
		return nil, ErrInvalidLength
	}
	return &Random{length: length}, nil
}

func (g *Random) Generate() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	buf := make([]byte, g.length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = Alphabet[n.Int64()]
	}
	return string(buf), nil
}

// MaxLength bounds lookups so arbitrary path input never reaches the store.
const MaxLength = 64

// Valid reports whether code is shaped like a tracking code: non-empty ASCII
// letters and digits, at most MaxLength long.
func Valid(code string) bool {
	if code == "" || len(code) > MaxLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// Sequence replays fixed codes in order, then fails. Useful where a test
// needs to force a collision.
type Sequence struct {
	mu    sync.Mutex
	codes []string
	next  int
}

func NewSequence(codes ...string) *Sequence {
	return &Sequence{codes: codes}
}

func (s *Sequence) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.codes) {
		return "", errors.New("tracking code sequence exhausted")
	}
	code := s.codes[s.next]
	s.next++
	return code, nil
}
