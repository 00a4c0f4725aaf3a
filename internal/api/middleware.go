package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"execution-core/pkg/cache"
)

const limiterIdleReset = 5 * time.Minute

// ipLimiters hands out one token bucket per client IP. Buckets older than
// limiterIdleReset are dropped and start full again.
type ipLimiters struct {
	rps     rate.Limit
	burst   int
	buckets *cache.Sharded[*rate.Limiter]

	createMu  sync.Mutex
	lastSweep atomic.Int64
	now       func() time.Time
}

func newIPLimiters(rps float64, burst int) *ipLimiters {
	l := &ipLimiters{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: cache.NewSharded[*rate.Limiter](),
		now:     time.Now,
	}
	l.lastSweep.Store(l.now().UnixNano())
	return l
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.sweep()
	if limiter, ok := l.buckets.Get(ip); ok {
		return limiter
	}

	l.createMu.Lock()
	defer l.createMu.Unlock()
	// Check again in case another goroutine created it
	if limiter, ok := l.buckets.Get(ip); ok {
		return limiter
	}
	limiter := rate.NewLimiter(l.rps, l.burst)
	l.buckets.Set(ip, limiter)
	return limiter
}

func (l *ipLimiters) sweep() {
	now := l.now()
	last := l.lastSweep.Load()
	if now.Sub(time.Unix(0, last)) < limiterIdleReset || !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	l.buckets.Cleanup(limiterIdleReset)
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware adds unique request ID for tracking
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RateLimitMiddleware prevents API abuse with per-IP rate limiting
func RateLimitMiddleware(limiters *ipLimiters, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiters.get(ip).Allow() {
			log.Warn().Str("ip", ip).Msg("rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":  "rate_limited",
				"error": "too many requests, please slow down",
			})
			return
		}

		c.Next()
	}
}

// TimeoutMiddleware bounds the request context. Broker calls observe the
// deadline and surface it as a timeout outcome.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.IsWebsocket() {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs all API requests with timing and status.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		if status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("request_id", c.GetString("RequestID")).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}
