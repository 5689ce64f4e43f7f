package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	apperrors "signaling-core/pkg/errors"
	"signaling-core/pkg/logger"
	"signaling-core/pkg/metrics"
	"signaling-core/pkg/response"
)

// PoolStatter exposes pgx pool statistics
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

// DBPoolLimiter sheds load with 503 once the CockroachDB pool is nearly
// exhausted, so that call operations fail fast instead of queueing
type DBPoolLimiter struct {
	pool      PoolStatter
	threshold float64
}

// NewDBPoolLimiter creates a new database pool limiter
func NewDBPoolLimiter(pool PoolStatter) *DBPoolLimiter {
	return &DBPoolLimiter{pool: pool, threshold: 0.9}
}

// Middleware returns a Gin middleware for database connection pool protection
func (dpl *DBPoolLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := dpl.pool.Stat()
		inUse := stats.AcquiredConns()
		idle := stats.IdleConns()
		maxConns := stats.MaxConns()

		metrics.DBConnectionsInUse.Set(float64(inUse))
		metrics.DBConnectionsIdle.Set(float64(idle))

		if maxConns > 0 && float64(inUse)/float64(maxConns) >= dpl.threshold {
			logger.FromContext(c.Request.Context()).Warn("Database connection pool exhausted",
				zap.Int32("max_conns", maxConns),
				zap.Int32("in_use", inUse))
			response.FromError(c, apperrors.ServiceUnavailableError("Service temporarily unavailable"))
			c.Abort()
			return
		}

		c.Next()
	}
}
