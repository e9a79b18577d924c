package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestStore() (*MemoryWindowStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryWindowStore()
	s.nowFunc = clock.Now
	return s, clock
}

func TestFixedWindowLimiter_TenPerMinute(t *testing.T) {
	store, clock := newTestStore()
	limiter := NewFixedWindowLimiter(store, 10, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		d, err := limiter.Allow(ctx, "203.0.113.7")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
		if d.Remaining != 10-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 10-i, d.Remaining)
		}
	}

	d, _ := limiter.Allow(ctx, "203.0.113.7")
	if d.Allowed {
		t.Fatal("expected 11th request in the window to be rejected")
	}
	if d.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", d.Remaining)
	}

	clock.Advance(30 * time.Second)
	if d, _ := limiter.Allow(ctx, "203.0.113.7"); d.Allowed {
		t.Fatal("expected rejection to persist inside the window")
	}

	clock.Advance(31 * time.Second)
	d, _ = limiter.Allow(ctx, "203.0.113.7")
	if !d.Allowed {
		t.Fatal("expected request after the window to be allowed")
	}
	if d.Remaining != 9 {
		t.Errorf("expected fresh window with remaining 9, got %d", d.Remaining)
	}
}

func TestFixedWindowLimiter_KeysAreIndependent(t *testing.T) {
	store, _ := newTestStore()
	limiter := NewFixedWindowLimiter(store, 1, time.Minute)
	ctx := context.Background()

	if d, _ := limiter.Allow(ctx, "a"); !d.Allowed {
		t.Fatal("expected first request for a to pass")
	}
	if d, _ := limiter.Allow(ctx, "a"); d.Allowed {
		t.Fatal("expected second request for a to be rejected")
	}
	if d, _ := limiter.Allow(ctx, "b"); !d.Allowed {
		t.Fatal("expected first request for b to pass")
	}
}

func TestMemoryWindowStore_SweepEvictsExpiredKeys(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()

	store.Hit(ctx, "old", time.Minute)
	clock.Advance(45 * time.Second)
	store.Hit(ctx, "fresh", time.Minute)

	clock.Advance(20 * time.Second)
	if n := store.Sweep(); n != 1 {
		t.Fatalf("expected 1 key swept, got %d", n)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 key left, got %d", store.Len())
	}

	store.Reset()
	if store.Len() != 0 {
		t.Fatalf("expected empty store after reset, got %d", store.Len())
	}
}

func TestMemoryWindowStore_StartCleanupStopsOnCancel(t *testing.T) {
	store := NewMemoryWindowStore()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.StartCleanup(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

func TestMemoryWindowStore_Concurrent(t *testing.T) {
	store := NewMemoryWindowStore()
	limiter := NewFixedWindowLimiter(store, 50, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := limiter.Allow(context.Background(), "shared")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Fatalf("expected exactly 50 allowed, got %d", allowed)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	store, _ := newTestStore()
	limiter := NewFixedWindowLimiter(store, 2, time.Minute)

	e := echo.New()
	h := RateLimit(limiter, zerolog.Nop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/cases", nil), rec)
		if err := h(c); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("expected X-RateLimit-Limit 2, got %q", got)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(1-i) {
			t.Errorf("expected X-RateLimit-Remaining %d, got %q", 1-i, got)
		}
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/cases", nil), rec)
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, context.DeadlineExceeded
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	limiter := NewFixedWindowLimiter(failingStore{}, 1, time.Minute)
	e := echo.New()
	h := RateLimit(limiter, zerolog.Nop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("expected request to pass when the store fails, got %v", err)
	}
}

func TestRedisWindowStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	prefix := "test:" + strconv.FormatInt(time.Now().UnixNano(), 36) + ":"
	limiter := NewFixedWindowLimiter(NewRedisWindowStore(client, prefix), 3, 500*time.Millisecond)

	for i := 0; i < 3; i++ {
		if d, err := limiter.Allow(ctx, "k"); err != nil || !d.Allowed {
			t.Fatalf("request %d: expected allowed, got %+v err=%v", i+1, d, err)
		}
	}
	if d, _ := limiter.Allow(ctx, "k"); d.Allowed {
		t.Fatal("expected 4th request to be rejected")
	}
	time.Sleep(600 * time.Millisecond)
	if d, _ := limiter.Allow(ctx, "k"); !d.Allowed {
		t.Fatal("expected request after expiry to be allowed")
	}
}
