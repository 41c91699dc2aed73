package handlers

import (
	"net/http"
	"os"
	"strconv"

	"circle-planning-backend/cache"

	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware limits requests per client IP. Enabled with
// ENABLE_RATE_LIMIT=true; RATE_LIMIT_PER_SECOND overrides the default rate.
// The budget is shared across instances when Redis is available.
func RateLimitMiddleware() gin.HandlerFunc {
	if os.Getenv("ENABLE_RATE_LIMIT") != "true" {
		return func(c *gin.Context) { c.Next() }
	}

	perSecond := 10
	if raw := os.Getenv("RATE_LIMIT_PER_SECOND"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			perSecond = parsed
		}
	}

	limiter := cache.NewKeyedRateLimiter("api", perSecond, perSecond*2)
	return func(c *gin.Context) {
		if !limiter.AllowKey(c.Request.Context(), c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
