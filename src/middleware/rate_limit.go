package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/flurs/keyserver/src/ratelimit"
)

// RejectFunc is called with the client IP when a fixed-window limiter
// turns a request away. May be nil.
type RejectFunc func(clientIP string)

// FixedWindowJSON enforces the store's fixed-window limit per client IP
// and rejects overflow with a JSON 429 body.
func FixedWindowJSON(store ratelimit.Store, onReject RejectFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !store.Admit(c.ClientIP()) {
			if onReject != nil {
				onReject(c.ClientIP())
			}
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":  "rate_limited",
				"detail": "Too many requests from this address. Try again later.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// FixedWindowLua is the loader-endpoint variant: executors run whatever
// body they receive, so overflow gets a Lua comment instead of JSON.
func FixedWindowLua(store ratelimit.Store, onReject RejectFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !store.Admit(c.ClientIP()) {
			if onReject != nil {
				onReject(c.ClientIP())
			}
			c.String(http.StatusTooManyRequests, "-- rate_limited\n")
			c.Abort()
			return
		}
		c.Next()
	}
}

// loginEntry holds a rate limiter with last used timestamp
type loginEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// LoginRateLimiter throttles credential attempts per source IP with a
// token bucket. Stale buckets are evicted in the background.
type LoginRateLimiter struct {
	limiters map[string]*loginEntry
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	stopCh   chan struct{}
}

// NewLoginRateLimiter allows attemptsPerMinute sustained with the given
// burst per IP.
func NewLoginRateLimiter(attemptsPerMinute, burst int) *LoginRateLimiter {
	if attemptsPerMinute <= 0 {
		attemptsPerMinute = 10
	}
	if burst <= 0 {
		burst = 5
	}
	l := &LoginRateLimiter{
		limiters: make(map[string]*loginEntry),
		limit:    rate.Every(time.Minute / time.Duration(attemptsPerMinute)),
		burst:    burst,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *LoginRateLimiter) getLimiter(addr string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[addr]
	if !ok {
		entry = &loginEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[addr] = entry
	}
	entry.lastUsed = time.Now()
	return entry.limiter
}

func (l *LoginRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *LoginRateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for addr, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, addr)
		}
	}
}

// Stop terminates the cleanup goroutine
func (l *LoginRateLimiter) Stop() {
	close(l.stopCh)
}

// Middleware rejects over-limit login attempts with 429.
func (l *LoginRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.getLimiter(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":  "rate_limited",
				"detail": "Too many login attempts. Try again later.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
