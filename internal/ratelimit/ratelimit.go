// Package ratelimit provides plan-aware rate limiting middleware.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config configures rate limiting.
type Config struct {
	// RequestsPerMinute is the default limit for unauthenticated callers.
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit.
	BurstSize int
	// CleanupInterval is how often to clean old entries.
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60, // 1 req/sec average
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// KeyFunc resolves a request to its limiter key and per-minute limit.
// rpm <= 0 falls back to the configured default, letting merchant plans
// carry their own rate limits.
type KeyFunc func(c *gin.Context) (key string, rpm int)

// Limiter tracks token buckets by key.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*clientState
	stop    chan struct{}
}

type clientState struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a new rate limiter.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// cleanup removes stale entries periodically.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-2 * time.Minute)
			for key, state := range l.clients {
				if state.lastCheck.Before(cutoff) {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow checks whether a request under the given key and per-minute
// limit should proceed. rpm <= 0 uses the configured default.
func (l *Limiter) Allow(key string, rpm int) bool {
	burst := l.cfg.BurstSize
	if rpm <= 0 {
		rpm = l.cfg.RequestsPerMinute
	} else if rpm/6 > burst {
		// Plan limits above the default get a proportional burst.
		burst = rpm / 6
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	state, exists := l.clients[key]

	if !exists {
		l.clients[key] = &clientState{
			tokens:    float64(burst - 1),
			lastCheck: now,
		}
		return true
	}

	// Token bucket: refill for elapsed time, cap at burst.
	elapsed := now.Sub(state.lastCheck).Seconds()
	state.tokens += elapsed * float64(rpm) / 60.0
	if state.tokens > float64(burst) {
		state.tokens = float64(burst)
	}
	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return true
	}
	return false
}

// Middleware returns gin middleware that limits by the key and plan
// limit the KeyFunc resolves. A nil KeyFunc limits by client IP at the
// default rate.
func (l *Limiter) Middleware(keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		rpm := 0
		if keyFn != nil {
			if k, r := keyFn(c); k != "" {
				key, rpm = k, r
			}
		}

		if !l.Allow(key, rpm) {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please slow down.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
