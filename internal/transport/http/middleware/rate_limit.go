package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/port"
)

// RateLimiter applies an IP-scoped sliding window to abuse-prone endpoints.
// Per-contact limits live in the verification usecase; this guard only stops
// one client hammering the send endpoint across many contacts.
type RateLimiter struct {
	store  port.RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// LimitByClientIP enforces the given sliding-window limit per client IP.
// Store failures fail open: availability of the workflow wins over strict
// enforcement.
func (rl *RateLimiter) LimitByClientIP(name string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.store == nil || limit <= 0 || window <= 0 {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := name + ":" + ip
		now := rl.now().UTC()

		if err := rl.store.TrimWindow(ctx, key, window, now); err != nil {
			rl.logger.Warn("rate limit trim failed", zap.String("rule", name), zap.Error(err))
			c.Next()
			return
		}

		count, err := rl.store.CountAttempts(ctx, key, window, now)
		if err != nil {
			rl.logger.Warn("rate limit count failed", zap.String("rule", name), zap.Error(err))
			c.Next()
			return
		}

		if count >= limit {
			retryAfter := window
			if oldest, ok, err := rl.store.OldestAttempt(ctx, key, window, now); err == nil && ok {
				if remaining := oldest.Add(window).Sub(now); remaining > 0 {
					retryAfter = remaining
				}
			}

			seconds := int(math.Ceil(retryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": seconds,
			})
			return
		}

		if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
			rl.logger.Warn("rate limit record failed", zap.String("rule", name), zap.Error(err))
		}

		c.Next()
	}
}
