// internal/server/ratelimit.go
package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"mcp-food-log/internal/auth"
)

// analyzeLimiter throttles model calls per authenticated user.
type analyzeLimiter struct {
	limit rate.Limit
	burst int

	mu          sync.Mutex
	limiters    map[uint]*rate.Limiter
	lastCleanup time.Time
	now         func() time.Time
}

func newAnalyzeLimiter(perMinute, burst int) *analyzeLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &analyzeLimiter{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		limiters: make(map[uint]*rate.Limiter),
		now:      time.Now,
	}
}

func (l *analyzeLimiter) get(userID uint) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Idle limiters are full anyway; dropping them hourly bounds the map.
	if now := l.now(); now.Sub(l.lastCleanup) > time.Hour {
		l.limiters = make(map[uint]*rate.Limiter)
		l.lastCleanup = now
	}

	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = limiter
	}
	return limiter
}

// Middleware rejects a caller that has used up its burst with 429.
func (l *analyzeLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := auth.UserID(c)
		limiter := l.get(userID)
		if !limiter.AllowN(l.now(), 1) {
			c.Header("Retry-After", strconv.Itoa(retryAfter(l.limit)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many analysis requests. Please wait and try again."})
			return
		}
		c.Next()
	}
}

// retryAfter is the whole seconds until one token refills.
func retryAfter(limit rate.Limit) int {
	if limit <= 0 {
		return 60
	}
	return int(math.Ceil(1 / float64(limit)))
}
