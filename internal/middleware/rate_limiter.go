package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/byosamah/volteria-sub000/internal/logging"
)

// AgentRateLimiter limits requests per controller with a token bucket.
type AgentRateLimiter struct {
	perMinute int
	idleAfter time.Duration

	mu       sync.Mutex
	limiters map[string]*agentLimit
}

type agentLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAgentRateLimiter allows perMinute requests per controller, bursting to
// the same amount.
func NewAgentRateLimiter(perMinute int) *AgentRateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &AgentRateLimiter{
		perMinute: perMinute,
		idleAfter: time.Hour,
		limiters:  make(map[string]*agentLimit),
	}
}

// Allow reports whether key may make another request now.
func (l *AgentRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[key]
	if !ok {
		entry = &agentLimit{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)}
		l.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// Cleanup drops limiters idle for longer than an hour. Returns how many were removed.
func (l *AgentRateLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-l.idleAfter)
	for key, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// RateLimit must run after AgentAuth.
func (l *AgentRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctrl := Controller(c)
		if ctrl == nil {
			c.Next()
			return
		}
		if !l.Allow(ctrl.ID.String()) {
			logging.WarnWithComponent(logging.ComponentAgent, "Agent rate limit exceeded", "serial", ctrl.SerialNumber, "ip", c.ClientIP())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"rate_limit": l.perMinute,
				"window":     "1 minute",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestSizeLimit rejects bodies larger than maxBytes.
func RequestSizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			logging.Warn("Request too large", "size", c.Request.ContentLength, "limit", maxBytes, "ip", c.ClientIP())
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":    "Request payload too large",
				"max_size": fmt.Sprintf("%dKB", maxBytes/1024),
			})
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
