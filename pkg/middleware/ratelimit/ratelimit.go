package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
	"github.com/noah-isme/fleet-compliance-api/pkg/response"
)

// KeyFunc extracts the bucket key for a request.
type KeyFunc func(c *gin.Context) string

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter keeps one token bucket per key and evicts idle buckets.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perSecond rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// New constructs a limiter allowing perSecond requests with the given burst per key.
func New(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = int(perSecond) * 2
	}
	return &Limiter{
		buckets:   make(map[string]*bucket),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		idleTTL:   5 * time.Minute,
		now:       time.Now,
	}
}

// Allow consumes a token for key.
func (l *Limiter) Allow(key string) bool {
	if key == "" {
		key = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.perSecond, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	l.evictLocked(now)
	return b.lim.AllowN(now, 1)
}

func (l *Limiter) evictLocked(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.idleTTL {
			delete(l.buckets, k)
		}
	}
}

// Middleware rejects requests with 429 once the key's bucket is empty.
func (l *Limiter) Middleware(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		k := c.ClientIP()
		if key != nil {
			if v := key(c); v != "" {
				k = v
			}
		}
		if !l.Allow(k) {
			response.Error(c, appErrors.ErrTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}
