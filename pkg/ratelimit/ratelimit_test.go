package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDefaultConfigs(t *testing.T) {
	proxy := DefaultProxyConfig()
	assert.Equal(t, float64(2), proxy.Rate)
	assert.Equal(t, 10, proxy.Burst)
	assert.True(t, proxy.Enabled())

	auth := DefaultAuthConfig()
	assert.Less(t, auth.Rate, proxy.Rate)
	assert.Equal(t, time.Minute, auth.CleanupInterval)

	assert.False(t, Config{}.Enabled())
}

func TestNewSetsDefaults(t *testing.T) {
	rl := New(Config{Rate: 10, Burst: 20})
	defer rl.Stop()

	assert.Equal(t, time.Minute, rl.Config().CleanupInterval)
	assert.Equal(t, 5*time.Minute, rl.Config().MaxAge)
}

func TestAllow(t *testing.T) {
	t.Run("blocks requests exceeding burst limit", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 3})
		defer rl.Stop()

		for i := 0; i < 3; i++ {
			assert.True(t, rl.Allow("10.0.0.1"), "request %d should pass", i)
		}
		assert.False(t, rl.Allow("10.0.0.1"))
	})

	t.Run("different IPs have separate limits", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 1})
		defer rl.Stop()

		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))
		assert.True(t, rl.Allow("10.0.0.2"))
		assert.Equal(t, 2, rl.Len())
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		rl := New(Config{Rate: 100, Burst: 1})
		defer rl.Stop()

		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))
		time.Sleep(20 * time.Millisecond)
		assert.True(t, rl.Allow("10.0.0.1"))
	})

	t.Run("disabled config allows everything", func(t *testing.T) {
		rl := New(Config{})
		defer rl.Stop()

		for i := 0; i < 100; i++ {
			assert.True(t, rl.Allow("10.0.0.1"))
		}
		assert.Zero(t, rl.Len())
	})
}

func TestMiddleware(t *testing.T) {
	var rejected atomic.Int32
	rl := New(Config{Rate: 1, Burst: 1}, WithRejectHook(func(*gin.Context) { rejected.Add(1) }))
	defer rl.Stop()

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/v1/models", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":{"message":"Rate limit exceeded, please try again later","type":"rate_limit_exceeded"}}`, w.Body.String())
	assert.EqualValues(t, 1, rejected.Load())
}

func TestMiddlewareWithExclusions(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 1})
	defer rl.Stop()

	router := gin.New()
	router.Use(rl.MiddlewareWithExclusions([]string{"/healthz", "/metrics"}))
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/stats", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCleanupRemovesStaleEntries(t *testing.T) {
	rl := New(Config{Rate: 10, Burst: 10, CleanupInterval: 10 * time.Millisecond, MaxAge: 10 * time.Millisecond})
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	require.Equal(t, 1, rl.Len())
	assert.Eventually(t, func() bool { return rl.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	rl := New(DefaultProxyConfig())
	rl.Stop()
	rl.Stop()
}
