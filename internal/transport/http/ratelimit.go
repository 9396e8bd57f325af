package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterSweepInterval = 3 * time.Minute

// newEventLimiter bounds inbound websocket events on one connection.
// A non-positive rate disables limiting.
func newEventLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// ipRateLimiter keeps one token bucket per client IP. Buckets that have
// refilled completely are swept on access.
type ipRateLimiter struct {
	mu        sync.Mutex
	limits    map[string]*rate.Limiter
	r         rate.Limit
	b         int
	lastSweep time.Time
}

func newIPRateLimiter(r rate.Limit, b int) *ipRateLimiter {
	return &ipRateLimiter{
		limits:    make(map[string]*rate.Limiter),
		r:         r,
		b:         b,
		lastSweep: time.Now(),
	}
}

func (i *ipRateLimiter) limiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := time.Now()
	if now.Sub(i.lastSweep) >= limiterSweepInterval {
		for key, l := range i.limits {
			if l.TokensAt(now) >= float64(l.Burst()) {
				delete(i.limits, key)
			}
		}
		i.lastSweep = now
	}

	l, ok := i.limits[ip]
	if !ok {
		l = rate.NewLimiter(i.r, i.b)
		i.limits[ip] = l
	}
	return l
}

// Middleware rejects requests over the limit with 429.
func (i *ipRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !i.limiter(ip).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests"})
			return
		}
		c.Next()
	}
}
