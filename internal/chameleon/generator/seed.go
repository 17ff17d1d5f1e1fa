// Package generator produces synthetic browser profiles.
package generator

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// SeedManager hands out the per-profile seed. Every seed is unique; the
// previous seed is never reissued.
type SeedManager struct {
	mu      sync.Mutex
	current string
	newID   func() uuid.UUID
}

// NewSeedManager returns a manager backed by random UUIDs.
func NewSeedManager() *SeedManager {
	return &SeedManager{newID: uuid.New}
}

// Next generates a fresh 32 hex character seed and makes it current.
func (s *SeedManager) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		id := s.newID()
		seed := hex.EncodeToString(id[:])
		if seed != s.current {
			s.current = seed
			return seed
		}
	}
}

// Current returns the seed last handed out, or "" before the first call to Next.
func (s *SeedManager) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Rand returns a deterministic source for seed, so one seed always yields
// the same profile.
func Rand(seed string) (*rand.Rand, error) {
	raw, err := hex.DecodeString(seed)
	if err != nil || len(raw) < 8 {
		return nil, fmt.Errorf("generator: seed %q is not a 32 character hex string", seed)
	}
	hi := binary.BigEndian.Uint64(raw[:8])
	var lo uint64
	if len(raw) >= 16 {
		lo = binary.BigEndian.Uint64(raw[8:16])
	}
	return rand.New(rand.NewSource(int64(hi ^ lo))), nil
}
