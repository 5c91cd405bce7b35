package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kcea-attendance/pkg/response"
)

// RateLimiter is an in-memory per-client token bucket. State is per process.
type RateLimiter struct {
	capacity  int
	perMinute int
	mu        sync.Mutex
	state     map[string]*bucket
	now       func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter allows perMinute requests per client, bursting up to the same
// number. A non-positive limit disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		capacity:  perMinute,
		perMinute: perMinute,
		state:     make(map[string]*bucket),
		now:       time.Now,
	}
}

// Middleware enforces the limit keyed on client IP.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.perMinute <= 0 {
			c.Next()
			return
		}
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}
		if !l.Allow(key) {
			response.TooManyRequests(c, 60, "too many requests, try again in a minute")
			return
		}
		c.Next()
	}
}

// Allow spends one token for key.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: float64(l.capacity - 1), last: now}
		l.prune(now)
		return true
	}

	b.tokens += now.Sub(b.last).Minutes() * float64(l.perMinute)
	if b.tokens > float64(l.capacity) {
		b.tokens = float64(l.capacity)
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// prune drops buckets that have been full for a while.
func (l *RateLimiter) prune(now time.Time) {
	if len(l.state) < 1024 {
		return
	}
	for key, b := range l.state {
		if now.Sub(b.last) > 10*time.Minute {
			delete(l.state, key)
		}
	}
}
