package middleware

import (
	"context"
	"fmt"
	"time"

	"codejudge/internal/common/cache"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const defaultRateLimitTimeout = 200 * time.Millisecond

// RateLimitConfig caps requests per client IP in a fixed window.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Window  time.Duration `yaml:"window"`
	PerIP   int           `yaml:"perIP"`
	// Timeout bounds each Redis round trip.
	Timeout time.Duration `yaml:"timeout"`
}

// RateLimiter counts hits in fixed windows stored in Redis.
type RateLimiter struct {
	cache   cache.Cache
	timeout time.Duration
}

func NewRateLimiter(c cache.Cache, timeout time.Duration) *RateLimiter {
	if timeout <= 0 {
		timeout = defaultRateLimitTimeout
	}
	return &RateLimiter{cache: c, timeout: timeout}
}

// Allow records one hit on key and fails once the window holds more than max.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if max <= 0 || window <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctx, key, 1, window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	count := int64(1)
	if !acquired {
		count, err = l.cache.Incr(ctx, key)
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
		}
		// A key left without expiry would block the client forever.
		if ttl, err := l.cache.TTL(ctx, key); err == nil && ttl < 0 {
			_ = l.cache.Expire(ctx, key, window)
		}
	}
	if int(count) > max {
		return appErr.New(appErr.TooManyRequests).WithMessage(fmt.Sprintf("at most %d requests per %s", max, window))
	}
	return nil
}

// RateLimitMiddleware limits each client IP on one route. Cache failures let
// the request through so a Redis outage never blocks judging.
func RateLimitMiddleware(limiter *RateLimiter, route string, cfg RateLimitConfig) gin.HandlerFunc {
	if limiter == nil || !cfg.Enabled || cfg.PerIP <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		key := fmt.Sprintf("codejudge:rate:%s:%s", route, c.ClientIP())
		err := limiter.Allow(c.Request.Context(), key, cfg.PerIP, cfg.Window)
		if err != nil && appErr.Is(err, appErr.TooManyRequests) {
			response.AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
