package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Checker is a backing service that can be probed for liveness.
type Checker interface {
	Name() string
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a ping function to Checker.
type CheckerFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (f CheckerFunc) Name() string                   { return f.Label }
func (f CheckerFunc) Ping(ctx context.Context) error { return f.Fn(ctx) }

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// PoolChecker probes a pgx pool.
type PoolChecker struct {
	Pool *pgxpool.Pool
}

func (p PoolChecker) Name() string                   { return "postgres" }
func (p PoolChecker) Ping(ctx context.Context) error { return p.Pool.Ping(ctx) }

type checkResult struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   *PoolStats `json:"pool,omitempty"`
}

// HealthHandler pings every checker with a 5s budget and reports each one.
// Any failure turns the response into 503. With no checkers the store is
// in memory and the endpoint reports healthy.
func HealthHandler(checkers ...Checker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]checkResult, len(checkers))
		for _, chk := range checkers {
			res := checkResult{Status: "healthy"}
			if pc, ok := chk.(PoolChecker); ok {
				res.Pool = GetPoolStats(pc.Pool)
			}
			if err := chk.Ping(ctx); err != nil {
				res.Status = "unhealthy"
				res.Error = err.Error()
				if res.Pool != nil {
					res.Pool.Healthy = false
				}
				status = http.StatusServiceUnavailable
			}
			results[chk.Name()] = res
		}

		overall := "healthy"
		if status != http.StatusOK {
			overall = "unhealthy"
		}
		return c.JSON(status, map[string]interface{}{
			"status":   overall,
			"services": results,
		})
	}
}
