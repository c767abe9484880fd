package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/linefinder/api/handlers"
	"github.com/meghashyamc/linefinder/logger"
)

func setupRoutes(router *gin.Engine, logger logger.Logger, deps Dependencies) {
	router.GET("/health", health())

	handlers.SetupStats(router, deps.Engine, deps.Limiter, deps.Connections)

	limited := router.Group("/", rateLimitMiddleware(logger, deps.Limiter))
	handlers.SetupSearch(limited, logger, deps.Engine, deps.Validator, deps.Metrics)
	handlers.SetupBenchmark(limited, logger, deps.Engine, deps.Validator)
}

func health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	}
}

func newRouter() *gin.Engine {
	router := gin.New()
	router.UseRawPath = true
	router.Use(gin.Recovery())

	return router
}
