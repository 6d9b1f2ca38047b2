package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// IPRateLimiter keeps a token bucket per client IP. Buckets of clients that
// stay quiet for the idle period are evicted.
type IPRateLimiter struct {
	limiters *cache.Cache
	mu       sync.Mutex
	r        rate.Limit
	b        int
	idle     time.Duration
}

// NewIPRateLimiter creates a limiter allowing r requests per second with
// bursts of b.
func NewIPRateLimiter(r rate.Limit, b int, idle time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: cache.New(idle, 2*idle),
		r:        r,
		b:        b,
		idle:     idle,
	}
}

// Limiter returns the bucket for ip, creating it on first use.
func (i *IPRateLimiter) Limiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	if l, ok := i.limiters.Get(ip); ok {
		i.limiters.Set(ip, l, i.idle)
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(i.r, i.b)
	i.limiters.Set(ip, l, i.idle)
	return l
}

// RateLimiter rejects clients that exceed their bucket with 429.
func RateLimiter(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Limiter(c.ClientIP()).Allow() {
			rateLimited.Inc()
			c.Header("Retry-After", "1")
			abort(c, http.StatusTooManyRequests, "Too many requests")
			return
		}
		c.Next()
	}
}
