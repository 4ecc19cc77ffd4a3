package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *manualClock) {
	t.Helper()
	clk := &manualClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := New(cfg)
	l.now = clk.Now
	t.Cleanup(l.Stop)
	return l, clk
}

func TestLimiterAllow(t *testing.T) {
	l, clk := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 5})

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d should be allowed within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1"), "request after burst should be denied")

	// 60/min refills one token per second.
	clk.Advance(time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
}

func TestLimiterMultipleClients(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		l.Allow("client-a")
	}
	assert.False(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"))
}

func TestLimiterEvictIdle(t *testing.T) {
	l, clk := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1, IdleTimeout: time.Minute})

	l.Allow("10.0.0.1")
	clk.Advance(2 * time.Minute)
	l.evictIdle()

	l.mu.Lock()
	n := len(l.clients)
	l.mu.Unlock()
	assert.Equal(t, 0, n)
}

func TestLimiterStopIdempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 100, cfg.RequestsPerMinute)
	assert.Equal(t, 20, cfg.BurstSize)
	assert.Contains(t, cfg.ExemptPrefixes, "/health")
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1, ExemptPrefixes: []string{"/health"}})

	r := gin.New()
	r.Use(l.Middleware())
	r.POST("/api/predict", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "192.0.2.7:4000"
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, do(http.MethodPost, "/api/predict").Code)

	w := do(http.MethodPost, "/api/predict")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(http.MethodGet, "/health").Code, "health must stay exempt")
	}
}
