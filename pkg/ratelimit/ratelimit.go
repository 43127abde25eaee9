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

// Config holds rate limiter configuration
type Config struct {
	// Rate is the number of requests allowed per second. Zero or less
	// disables limiting.
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration
}

// Enabled reports whether cfg limits anything.
func (c Config) Enabled() bool {
	return c.Rate > 0 && c.Burst > 0
}

// DefaultProxyConfig limits completion traffic per client: 2 req/s, burst of 10.
// Every proxied request spends upstream premium quota.
func DefaultProxyConfig() Config {
	return Config{
		Rate:            2,
		Burst:           10,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// DefaultAuthConfig limits the device login endpoints: 1 req/s, burst of 5.
func DefaultAuthConfig() Config {
	return Config{
		Rate:            1,
		Burst:           5,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// entry holds rate limiter and last access time for an IP
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPRateLimiter implements per-IP rate limiting with automatic cleanup
type IPRateLimiter struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	config   Config
	onReject func(c *gin.Context)
	done     chan struct{}
	stopOnce sync.Once
}

type Option func(*IPRateLimiter)

// WithRejectHook is called for every request the middleware rejects.
func WithRejectHook(f func(c *gin.Context)) Option {
	return func(rl *IPRateLimiter) {
		rl.onReject = f
	}
}

// New creates a new per-IP rate limiter with the given configuration
func New(cfg Config, opts ...Option) *IPRateLimiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}

	rl := &IPRateLimiter{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a request from the given IP should be allowed
func (rl *IPRateLimiter) Allow(ip string) bool {
	if !rl.config.Enabled() {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.entries[ip]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst),
		}
		rl.entries[ip] = e
	}
	e.lastAccess = time.Now()

	return e.limiter.Allow()
}

// Middleware returns a Gin middleware that applies per-IP rate limiting.
// Rejections use the OpenAI error envelope so API clients surface them.
func (rl *IPRateLimiter) Middleware() gin.HandlerFunc {
	return rl.MiddlewareWithExclusions(nil)
}

// MiddlewareWithExclusions skips limiting for request paths starting with
// any of the given prefixes.
func (rl *IPRateLimiter) MiddlewareWithExclusions(prefixes []string) gin.HandlerFunc {
	retryAfter := "1"
	if rl.config.Rate > 0 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / rl.config.Rate)))
	}
	return func(c *gin.Context) {
		for _, p := range prefixes {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				c.Next()
				return
			}
		}
		if !rl.Allow(c.ClientIP()) {
			if rl.onReject != nil {
				rl.onReject(c)
			}
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"message": "Rate limit exceeded, please try again later",
					"type":    "rate_limit_exceeded",
				},
			})
			return
		}
		c.Next()
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func (rl *IPRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanupStaleEntries()
		}
	}
}

func (rl *IPRateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, ip)
		}
	}
}

// Len returns the current number of tracked IPs (for testing/metrics)
func (rl *IPRateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.entries)
}

// Config returns a copy of the current configuration (for testing)
func (rl *IPRateLimiter) Config() Config {
	return rl.config
}
