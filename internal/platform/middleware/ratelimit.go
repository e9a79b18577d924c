package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// WindowStore counts hits per key inside fixed windows. Hit increments the
// counter for key, starting a new window of the given length when none is
// active, and returns the count and the moment the window ends.
type WindowStore interface {
	Hit(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
}

// Decision is the outcome of a single limiter check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns whole seconds until the window resets, minimum 1.
func (d Decision) RetryAfter(now time.Time) int {
	s := int(d.ResetAt.Sub(now).Seconds())
	if s < 1 {
		return 1
	}
	return s
}

// FixedWindowLimiter admits up to limit requests per key per window.
type FixedWindowLimiter struct {
	store  WindowStore
	limit  int
	window time.Duration
}

func NewFixedWindowLimiter(store WindowStore, limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{store: store, limit: limit, window: window}
}

func (l *FixedWindowLimiter) Limit() int { return l.limit }

func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, resetAt, err := l.store.Hit(ctx, key, l.window)
	if err != nil {
		return Decision{}, err
	}
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// MemoryWindowStore keeps windows in process memory. Expired windows are
// dropped by Sweep, which StartCleanup runs periodically.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]*windowCounter
	nowFunc func() time.Time
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{
		windows: make(map[string]*windowCounter),
		nowFunc: time.Now,
	}
}

func (s *MemoryWindowStore) Hit(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	w, ok := s.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &windowCounter{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Sweep removes every window that has already ended and returns how many
// were removed.
func (s *MemoryWindowStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	removed := 0
	for key, w := range s.windows {
		if now.After(w.resetAt) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// StartCleanup sweeps expired windows every interval. It blocks until ctx is
// cancelled, so call it in a goroutine.
func (s *MemoryWindowStore) StartCleanup(ctx context.Context, interval time.Duration) {
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

// Len returns the number of tracked keys.
func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Reset forgets every window.
func (s *MemoryWindowStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[string]*windowCounter)
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for d.
func SetRateLimitHeaders(c echo.Context, d Decision) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// RateLimit throttles every request by client address. Store failures are
// logged and the request is let through.
func RateLimit(limiter *FixedWindowLimiter, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d, err := limiter.Allow(c.Request().Context(), c.RealIP())
			if err != nil {
				logger.Warn().Err(err).Str("remote_ip", c.RealIP()).Msg("rate limit store unavailable")
				return next(c)
			}

			SetRateLimitHeaders(c, d)
			if !d.Allowed {
				c.Response().Header().Set("Retry-After", strconv.Itoa(d.RetryAfter(time.Now())))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
