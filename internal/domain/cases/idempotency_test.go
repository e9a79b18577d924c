package cases

import (
	"context"
	"testing"
	"time"
)

func TestIdempotencyStore_Lifecycle(t *testing.T) {
	s := NewIdempotencyStore(time.Hour)

	if state, _ := s.Claim("k"); state != Claimed {
		t.Fatalf("expected Claimed, got %v", state)
	}
	if state, _ := s.Claim("k"); state != InFlight {
		t.Fatalf("expected InFlight while saving, got %v", state)
	}
	s.Complete("k", "case-1")
	state, id := s.Claim("k")
	if state != Replay || id != "case-1" {
		t.Fatalf("expected Replay case-1, got %v %q", state, id)
	}
}

func TestIdempotencyStore_ReleaseAllowsRetry(t *testing.T) {
	s := NewIdempotencyStore(time.Hour)
	s.Claim("k")
	s.Release("k")
	if state, _ := s.Claim("k"); state != Claimed {
		t.Fatalf("expected Claimed after release, got %v", state)
	}

	// release never drops a completed key
	s.Complete("k", "case-1")
	s.Release("k")
	if state, _ := s.Claim("k"); state != Replay {
		t.Fatalf("expected Replay, got %v", state)
	}
}

func TestIdempotencyStore_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewIdempotencyStore(time.Minute)
	s.nowFunc = func() time.Time { return now }

	s.Claim("a")
	s.Complete("a", "case-a")
	now = now.Add(2 * time.Minute)

	if state, _ := s.Claim("a"); state != Claimed {
		t.Fatalf("expected expired key to be claimable, got %v", state)
	}

	s.Claim("b")
	now = now.Add(2 * time.Minute)
	if n := s.Sweep(); n != 2 {
		t.Fatalf("expected 2 swept, got %d", n)
	}
}

func TestIdempotencyStore_StartCleanupStops(t *testing.T) {
	s := NewIdempotencyStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.StartCleanup(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}
