// Package ratelimit provides the per-scope request limiter for the
// provisioning endpoints. Counters live in redis so horizontally scaled
// instances share one budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter decides whether a keyed request may proceed. Allow is
// side-effecting: the request is recorded against the window whether or not
// it is admitted.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

var (
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scim_ratelimit_decisions_total",
		Help: "Rate limiter decisions by outcome.",
	}, []string{"outcome"})

	failures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scim_ratelimit_failures_total",
		Help: "Rate limiter backend failures (requests admitted fail-open).",
	})
)

// SlidingWindow is a redis-backed sliding-window limiter. Each request adds
// a timestamped entry to a per-key sorted set; entries older than the window
// are trimmed before counting. When redis is unreachable the limiter fails
// open: provisioning availability outranks precise throttling.
type SlidingWindow struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *zap.Logger
}

// NewSlidingWindow creates a limiter admitting limit requests per window.
func NewSlidingWindow(client *redis.Client, limit int, window time.Duration, logger *zap.Logger) *SlidingWindow {
	return &SlidingWindow{
		client: client,
		limit:  limit,
		window: window,
		logger: logger.With(zap.String("component", "ratelimit")),
	}
}

// Allow records the request and reports whether it fits the window.
func (l *SlidingWindow) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-l.window)
	redisKey := "ratelimit:" + key

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	count := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		failures.Inc()
		l.logger.Warn("rate limit check failed, allowing request",
			zap.String("key", key), zap.Error(err))
		return true, nil
	}

	allowed := count.Val() <= int64(l.limit)
	if allowed {
		decisions.WithLabelValues("allowed").Inc()
	} else {
		decisions.WithLabelValues("limited").Inc()
	}
	return allowed, nil
}

// Unlimited admits everything. Used when rate limiting is disabled.
type Unlimited struct{}

// Allow always admits.
func (Unlimited) Allow(context.Context, string) (bool, error) {
	return true, nil
}
