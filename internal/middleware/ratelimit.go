package middleware

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Limiter is satisfied by redisx.Limiter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// IdempotencyStore is satisfied by redisx.IdempotencyStore.
type IdempotencyStore interface {
	PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RateLimit bounds requests per authenticated user. A nil limiter disables
// it; limiter failures let the request through.
func RateLimit(limiter Limiter, scope string, limit int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limit <= 0 {
			c.Next()
			return
		}

		key := scope + ":" + strconv.FormatInt(c.GetInt64(UserIDKey), 10)
		ok, n, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			log.Printf("rate limiter error: key=%s err=%v", key, err)
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "count": n, "limit": limit})
			return
		}
		c.Next()
	}
}

// Idempotency rejects a repeated Idempotency-Key from the same user with 409.
// The key is released when the handler does not succeed.
func Idempotency(store IdempotencyStore, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Idempotency-Key")
		if store == nil || header == "" {
			c.Next()
			return
		}

		key := strconv.FormatInt(c.GetInt64(UserIDKey), 10) + ":" + header
		fresh, err := store.PutNX(c.Request.Context(), key, ttl)
		if err != nil {
			log.Printf("idempotency store error: key=%s err=%v", key, err)
			c.Next()
			return
		}
		if !fresh {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			if err := store.Release(context.WithoutCancel(c.Request.Context()), key); err != nil {
				log.Printf("idempotency release failed: key=%s err=%v", key, err)
			}
		}
	}
}
