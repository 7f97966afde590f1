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
	AcquireDuration string `json:"acquire_duration"`
}

// Pinger is the part of pgxpool.Pool the health endpoint needs.
type Pinger interface {
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
}

func poolStats(stat *pgxpool.Stat) *PoolStats {
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthHandler pings the database and reports pool statistics. Ping errors
// are not echoed back to the caller.
func HealthHandler(p Pinger, version string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			c.Logger().Errorf("database health check failed: %v", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status":  "unhealthy",
				"version": version,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "healthy",
			"version": version,
			"pool":    poolStats(p.Stat()),
		})
	}
}
