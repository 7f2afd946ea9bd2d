package dice

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand/v2"
	"sync"
)

// uniform maps a stream of uniformly random 64-bit words onto [0, n) by
// rejecting words from the incomplete top bucket and retrying.
func uniform(next func() uint64, n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	bound := uint64(n)
	limit := math.MaxUint64 - (math.MaxUint64 % bound)
	for {
		v := next()
		if v < limit {
			return int(v % bound)
		}
	}
}

// cryptoSource implements Source using crypto/rand.
type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return cryptoSource{}
}

// Intn returns a cryptographically secure random int in [0, n).
//
// Precondition: n > 0. Panics if n <= 0 or if crypto/rand fails.
func (cryptoSource) Intn(n int) int {
	return uniform(func() uint64 {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic("dice: crypto/rand failure: " + err.Error())
		}
		return binary.LittleEndian.Uint64(buf[:])
	}, n)
}

// seededSource is a deterministic Source for tests and replays.
type seededSource struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeededSource returns a deterministic Source seeded with seed.
func NewSeededSource(seed uint64) Source {
	return &seededSource{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Intn returns a deterministic pseudo-random int in [0, n).
func (s *seededSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uniform(s.rng.Uint64, n)
}

// FixedSource replays a scripted sequence of die faces, cycling when exhausted.
// Each value is the face (1-based) to produce; it is clamped into [1, n].
type FixedSource struct {
	mu     sync.Mutex
	faces  []int
	cursor int
}

// NewFixedSource returns a FixedSource that yields faces in order.
//
// Precondition: len(faces) > 0.
func NewFixedSource(faces ...int) *FixedSource {
	return &FixedSource{faces: faces}
}

// Intn returns the next scripted face minus one, clamped into [0, n).
func (f *FixedSource) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	face := f.faces[f.cursor%len(f.faces)]
	f.cursor++
	switch {
	case face < 1:
		face = 1
	case face > n:
		face = n
	}
	return face - 1
}
