package app

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"io"
	mathrand "math/rand"
	"time"

	"quizdash/internal/domain"
)

// Shuffler produces a fresh, independent permutation of a quiz's questions
// and of each question's options on every call. It draws from crypto/rand
// and degrades to math/rand only if the crypto source errors; the degraded
// source keeps the game functional, not unpredictable.
type Shuffler struct {
	src      io.Reader
	fallback *mathrand.Rand
}

func NewShuffler() *Shuffler {
	return &Shuffler{src: cryptorand.Reader}
}

// Shuffle returns a working copy of questions with both the question order
// and each question's option order permuted. The correct-option index of
// every returned question points at the same option text it did before.
func (s *Shuffler) Shuffle(questions []domain.Question) []domain.Question {
	working := make([]domain.Question, len(questions))
	copy(working, questions)

	for i := len(working) - 1; i >= 1; i-- {
		j := s.randInt(i + 1)
		working[i], working[j] = working[j], working[i]
	}

	for i := range working {
		working[i] = s.shuffleOptions(working[i])
	}
	return working
}

// shuffleOptions permutes one question's options and remaps CorrectOption to
// the new position of the originally correct option.
func (s *Shuffler) shuffleOptions(q domain.Question) domain.Question {
	perm := make([]int, len(q.Options))
	for i := range perm {
		perm[i] = i
	}
	for i := len(perm) - 1; i >= 1; i-- {
		j := s.randInt(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}

	options := make([]string, len(q.Options))
	correct := q.CorrectOption
	for pos, orig := range perm {
		options[pos] = q.Options[orig]
		if orig == q.CorrectOption {
			correct = pos
		}
	}
	q.Options = options
	q.CorrectOption = correct
	return q
}

// randInt returns a uniform value in [0, bound). Draws are 32-bit and any
// draw at or above the largest multiple of bound that fits in 32 bits is
// rejected and redrawn, so no modulo bias survives.
func (s *Shuffler) randInt(bound int) int {
	if bound <= 1 {
		return 0
	}
	// The limit stays in uint64: for bounds dividing 2^32 it equals 2^32
	// itself, which accepts every draw.
	max := uint64(1) << 32
	limit := max - max%uint64(bound)
	for {
		v := s.uint32()
		if uint64(v) < limit {
			return int(v % uint32(bound))
		}
	}
}

func (s *Shuffler) uint32() uint32 {
	if s.fallback == nil {
		var buf [4]byte
		if _, err := io.ReadFull(s.src, buf[:]); err == nil {
			return binary.BigEndian.Uint32(buf[:])
		}
		s.fallback = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}
	return s.fallback.Uint32()
}
