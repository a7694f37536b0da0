package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter throttles POST /v1/commands per client IP: one misbehaving
// caller retrying START_PIPELINE in a loop should not starve the operator
// of lock-acquisition attempts for every other project.
//
// Grounded on r3e-network-service_layer's infrastructure/middleware
// RateLimiter (per-key token bucket over golang.org/x/time/rate),
// adapted from its net/http middleware shape to a gin.HandlerFunc.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: map[string]*rate.Limiter{},
		r:        rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.r, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !rl.limiterFor(key).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// StartCleanup periodically drops the limiter set once it grows
// unreasonably large (a long-lived process otherwise accumulates one
// entry per distinct caller IP forever). Returns a stop function.
func (rl *RateLimiter) StartCleanup(interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rl.mu.Lock()
				if len(rl.limiters) > 10000 {
					rl.limiters = map[string]*rate.Limiter{}
				}
				rl.mu.Unlock()
			}
		}
	}()
	return func() { close(done) }
}
