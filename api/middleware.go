package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/linefinder/logger"
	"github.com/meghashyamc/linefinder/ratelimit"
)

const HeaderRateLimitRemaining = "X-RateLimit-Remaining"

type errorResponse struct {
	Data   any      `json:"data"`
	Errors []string `json:"errors"`
}

func loggingMiddleware(logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger.Info("request", "method", c.Request.Method, "path", c.Request.URL.Path)
		c.Next()
	}
}

// rateLimitMiddleware shares the TCP server's limiter, so a client's admin
// queries and socket queries draw from the same budget.
func rateLimitMiddleware(logger logger.Logger, limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		admitted := limiter.Admit(c.ClientIP())
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(limiter.Remaining(c.ClientIP())))
		if !admitted {
			logger.Warn("rate limit exceeded", "client_ip", c.ClientIP(), "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Errors: []string{"rate limit exceeded"}})
			return
		}
		c.Next()
	}
}
