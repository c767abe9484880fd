package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/linefinder/ratelimit"
	"github.com/meghashyamc/linefinder/services/search"
)

// ConnectionCounter reports connections currently held by the TCP server.
type ConnectionCounter interface {
	ActiveConnections() int64
}

type StatsResponse struct {
	Engine            search.Stats `json:"engine"`
	RateLimitedKeys   int          `json:"rate_limited_keys"`
	ActiveConnections int64        `json:"active_connections"`
}

func SetupStats(router gin.IRouter, engine *search.Engine, limiter *ratelimit.Limiter, connections ConnectionCounter) {
	router.GET("/stats", handleStats(engine, limiter, connections))
}

func handleStats(engine *search.Engine, limiter *ratelimit.Limiter, connections ConnectionCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := StatsResponse{
			Engine:          engine.Stats(),
			RateLimitedKeys: limiter.Len(),
		}
		if connections != nil {
			stats.ActiveConnections = connections.ActiveConnections()
		}

		writeResponse(c, stats, http.StatusOK, nil)
	}
}
