package cases

import (
	"context"
	"sync"
	"time"
)

const (
	IdempotencyHeader     = "Idempotency-Key"
	DefaultIdempotencyTTL = 24 * time.Hour
)

type idempotencyEntry struct {
	caseID    string // empty while the first request is still saving
	expiresAt time.Time
}

// IdempotencyStore remembers which case id a client-supplied key produced so
// a retried save returns the original case instead of storing a duplicate.
type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*idempotencyEntry
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewIdempotencyStore uses DefaultIdempotencyTTL when ttl <= 0.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyStore{
		entries: make(map[string]*idempotencyEntry),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// ClaimResult is the outcome of Claim.
type ClaimResult int

const (
	// Claimed means the caller owns the key and must Complete or Release it.
	Claimed ClaimResult = iota
	// Replay means the key already produced a case; its id is returned.
	Replay
	// InFlight means another request holding the key has not finished.
	InFlight
)

func (s *IdempotencyStore) Claim(key string) (ClaimResult, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		if e.caseID == "" {
			return InFlight, ""
		}
		return Replay, e.caseID
	}
	s.entries[key] = &idempotencyEntry{expiresAt: now.Add(s.ttl)}
	return Claimed, ""
}

// Complete records the case id produced under key.
func (s *IdempotencyStore) Complete(key, caseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &idempotencyEntry{caseID: caseID, expiresAt: s.nowFunc().Add(s.ttl)}
}

// Release forgets a claimed key after a failed save so the client can retry.
func (s *IdempotencyStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.caseID == "" {
		delete(s.entries, key)
	}
}

// Sweep drops expired keys and returns how many were removed.
func (s *IdempotencyStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// StartCleanup sweeps every interval until ctx is cancelled.
func (s *IdempotencyStore) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
