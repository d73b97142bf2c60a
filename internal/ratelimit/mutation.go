package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tracklane/tracklane/internal/config"
)

const keyMutation = "tracklane:mutations:%s:%s"

// MutationLimiter budgets write traffic per user per organization. It fails
// open: a missing or unreachable redis never blocks a mutation.
type MutationLimiter struct {
	enabled bool
	log     *zap.Logger
	bucket  *TokenBucket
	rate    float64
	burst   int
}

func NewMutationLimiter(cfg config.Config, log *zap.Logger) *MutationLimiter {
	limiter := &MutationLimiter{log: log.Named("ratelimit")}
	if !cfg.RateLimitEnabled {
		return limiter
	}
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return limiter
	}
	if cfg.RateLimitPerMinute <= 0 || cfg.RateLimitBurst <= 0 {
		return limiter
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	limiter.enabled = true
	limiter.bucket = NewTokenBucket(client)
	limiter.rate = float64(cfg.RateLimitPerMinute) / 60.0
	limiter.burst = cfg.RateLimitBurst
	return limiter
}

func (l *MutationLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow reports whether the caller may run another mutation. The Result is
// nil when the limiter is disabled or redis is unreachable.
func (l *MutationLimiter) Allow(ctx context.Context, orgID, userID string) (*Result, bool) {
	if !l.Enabled() {
		return nil, true
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyMutation, orgID, userID), l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limit check failed", zap.Error(err))
		return nil, true
	}
	return res, res.Allowed
}
