package web

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/federation"
	"golang.org/x/time/rate"
)

// Context keys set by RequireNodeSignature for downstream handlers.
const (
	ctxKeyBody       = "verifiedBody"
	ctxKeySenderHost = "senderHost"
)

// RateLimiter holds rate limiters for different IP addresses
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter
// r is requests per second, b is burst size
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    b,
	}
}

// getLimiter returns the rate limiter for a given IP address
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[ip] = limiter
	}

	return limiter
}

// cleanupOldLimiters keeps the per-IP map from growing without bound
func (rl *RateLimiter) cleanupOldLimiters() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		if len(rl.limiters) > 10000 {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware creates a Gin middleware for rate limiting
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	go rl.cleanupOldLimiters()

	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := rl.getLimiter(ip)

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// MaxBytesMiddleware limits the size of request bodies
func MaxBytesMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// RequireNodeSignature authenticates federation requests. The sender
// declares itself in X-Node-Hostname and signs the raw body with the
// pair's shared secret in X-Node-Signature. Missing headers are 401,
// unknown or unverifiable senders 403. On success the raw body and the
// sender hostname end up in the request context.
func RequireNodeSignature(database *db.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		hostname := c.GetHeader(federation.HeaderNodeHostname)
		signature := c.GetHeader(federation.HeaderNodeSignature)
		if hostname == "" || signature == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing node signature headers"})
			c.Abort()
			return
		}

		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
			c.Abort()
			return
		}

		err, node := database.ReadAnyNodeByHostname(hostname)
		if err != nil || node == nil || !node.Connected() {
			log.Printf("Web: Rejected request from unpaired node %s", hostname)
			c.JSON(http.StatusForbidden, gin.H{"error": "Node is not paired"})
			c.Abort()
			return
		}

		if !federation.VerifyBody(node.SharedSecret, body, signature) {
			log.Printf("Web: Rejected request from %s, signature mismatch", hostname)
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid signature"})
			c.Abort()
			return
		}

		c.Set(ctxKeyBody, body)
		c.Set(ctxKeySenderHost, hostname)
		c.Next()
	}
}

func verifiedBody(c *gin.Context) ([]byte, string) {
	body, _ := c.Get(ctxKeyBody)
	host, _ := c.Get(ctxKeySenderHost)
	b, _ := body.([]byte)
	h, _ := host.(string)
	return b, h
}
