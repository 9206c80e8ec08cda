package health

import (
	"context"
	"time"

	"github.com/ngc-shj/passwd-sso-sub002/internal/common/database"
)

// PostgresChecker probes the PostgreSQL connection.
type PostgresChecker struct {
	db       *database.PostgresDB
	critical bool
}

// NewPostgresChecker creates a critical PostgresChecker.
func NewPostgresChecker(db *database.PostgresDB) *PostgresChecker {
	return &PostgresChecker{db: db, critical: true}
}

// Name returns the checker name.
func (p *PostgresChecker) Name() string { return "database" }

// IsCritical reports whether this dependency gates readiness.
func (p *PostgresChecker) IsCritical() bool { return p.critical }

// Check runs SELECT 1 and measures latency.
func (p *PostgresChecker) Check(ctx context.Context) ComponentStatus {
	start := time.Now()

	var one int
	err := p.db.Pool.QueryRow(ctx, "SELECT 1").Scan(&one)
	latency := time.Since(start)

	if err != nil {
		return ComponentStatus{
			Status:    "down",
			LatencyMS: float64(latency.Milliseconds()),
			Details:   err.Error(),
			CheckedAt: time.Now().UTC().Format(time.RFC3339),
		}
	}

	status := "up"
	details := ""
	if latency > 500*time.Millisecond {
		status = "degraded"
		details = "high latency"
	}

	return ComponentStatus{
		Status:    status,
		LatencyMS: float64(latency.Milliseconds()),
		Details:   details,
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// RedisChecker probes the Redis connection. Not critical: the rate limiter
// fails open, so losing redis degrades rather than breaks the service.
type RedisChecker struct {
	redis    *database.RedisClient
	critical bool
}

// NewRedisChecker creates a non-critical RedisChecker.
func NewRedisChecker(redis *database.RedisClient) *RedisChecker {
	return &RedisChecker{redis: redis, critical: false}
}

// Name returns the checker name.
func (r *RedisChecker) Name() string { return "redis" }

// IsCritical reports whether this dependency gates readiness.
func (r *RedisChecker) IsCritical() bool { return r.critical }

// Check runs PING and measures latency.
func (r *RedisChecker) Check(ctx context.Context) ComponentStatus {
	start := time.Now()

	_, err := r.redis.Client.Ping(ctx).Result()
	latency := time.Since(start)

	if err != nil {
		return ComponentStatus{
			Status:    "down",
			LatencyMS: float64(latency.Milliseconds()),
			Details:   err.Error(),
			CheckedAt: time.Now().UTC().Format(time.RFC3339),
		}
	}

	status := "up"
	details := ""
	if latency > 200*time.Millisecond {
		status = "degraded"
		details = "high latency"
	}

	return ComponentStatus{
		Status:    status,
		LatencyMS: float64(latency.Milliseconds()),
		Details:   details,
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
