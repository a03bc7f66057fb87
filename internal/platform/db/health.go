package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

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

// HealthTarget is one database checked by the health endpoint.
type HealthTarget struct {
	Name  string
	Ping  func(ctx context.Context) error
	Stats func() *PoolStats
}

// PoolTarget wraps a pgx pool as a HealthTarget.
func PoolTarget(name string, pool *pgxpool.Pool) HealthTarget {
	return HealthTarget{
		Name:  name,
		Ping:  pool.Ping,
		Stats: func() *PoolStats { return GetPoolStats(pool) },
	}
}

// HealthHandler pings every target and reports their pool stats. status, when
// non-nil, contributes a "status_detail" entry (e.g. the last tail iteration).
func HealthHandler(targets []HealthTarget, status func() interface{}) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		healthy := true
		pools := make(map[string]interface{}, len(targets))
		for _, t := range targets {
			var stats *PoolStats
			if t.Stats != nil {
				stats = t.Stats()
			}
			entry := map[string]interface{}{"pool": stats}
			if err := t.Ping(ctx); err != nil {
				healthy = false
				if stats != nil {
					stats.Healthy = false
				}
				entry["error"] = err.Error()
			}
			pools[t.Name] = entry
		}

		body := map[string]interface{}{
			"status":    "healthy",
			"databases": pools,
		}
		if status != nil {
			body["status_detail"] = status()
		}
		if !healthy {
			body["status"] = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}
