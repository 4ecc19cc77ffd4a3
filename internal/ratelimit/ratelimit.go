// Package ratelimit provides per-client rate limiting middleware for the
// GuardianShield API.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the sustained rate allowed per client IP
	RequestsPerMinute int
	// BurstSize allows brief bursts above the sustained rate
	BurstSize int
	// IdleTimeout drops a client's limiter after this long without requests
	IdleTimeout time.Duration
	// ExemptPrefixes are path prefixes that are never limited
	ExemptPrefixes []string
}

// DefaultConfig returns the service defaults: 100 requests per minute with
// bursts of 20, health and metrics exempt.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 100,
		BurstSize:         20,
		IdleTimeout:       3 * time.Minute,
		ExemptPrefixes:    []string{"/health", "/metrics"},
	}
}

// Limiter tracks a token bucket per client key.
type Limiter struct {
	cfg     Config
	limit   rate.Limit
	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter and starts its idle sweeper. Call Stop when done.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	l := &Limiter{
		cfg:     cfg,
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		clients: make(map[string]*client),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.cfg.IdleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.cfg.IdleTimeout)
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Stop stops the sweeper. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow reports whether a request from key may proceed now.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.cfg.BurstSize)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

func (l *Limiter) exempt(path string) bool {
	for _, p := range l.cfg.ExemptPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// retryAfter is the whole number of seconds until one token refills.
func (l *Limiter) retryAfter() int {
	if l.limit <= 0 {
		return 60
	}
	return int(math.Ceil(1 / float64(l.limit)))
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.exempt(c.Request.URL.Path) {
			c.Next()
			return
		}

		if !l.Allow(c.ClientIP()) {
			wait := l.retryAfter()
			c.Header("Retry-After", strconv.Itoa(wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": wait,
			})
			return
		}

		c.Next()
	}
}
