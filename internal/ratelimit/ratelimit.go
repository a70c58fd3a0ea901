// Package ratelimit implements a fixed-window request counter backed by
// Redis INCR/EXPIRE. Grounded on the original's
// server/app/core/rate_limit.py enforce_query_rate_limit, generalized
// with an op label so both the query endpoint (100/60s) and the upload
// endpoint (10/60s) share one implementation. *redis.Client is injected
// the way semaj90-mau5law's auth-handler.go takes one, rather than the
// package owning its own connection.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pixell07/ragserve/internal/apperr"
)

type Limiter struct {
	redis  *redis.Client
	window time.Duration
}

func NewLimiter(redisClient *redis.Client, window time.Duration) *Limiter {
	return &Limiter{redis: redisClient, window: window}
}

// Allow increments the op/workspace counter and enforces limit within the
// configured fixed window. Returns apperr.RateLimited if exceeded, or
// apperr.UpstreamUnavailable if Redis itself is unreachable — the
// original treats a broken rate limiter as a 503, not a silent bypass.
func (l *Limiter) Allow(ctx context.Context, op string, workspaceID uuid.UUID, limit int64) error {
	key := fmt.Sprintf("rate_limit:%s:%s", op, workspaceID)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return apperr.UpstreamUnavailable("rate limiter unavailable", err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return apperr.UpstreamUnavailable("rate limiter unavailable", err)
		}
	}

	if count > limit {
		return apperr.RateLimited(fmt.Sprintf("%s rate limit exceeded", op))
	}
	return nil
}
