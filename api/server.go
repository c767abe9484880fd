// Package api serves the HTTP admin endpoints next to the TCP server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/linefinder/api/handlers"
	"github.com/meghashyamc/linefinder/logger"
	"github.com/meghashyamc/linefinder/metrics"
	"github.com/meghashyamc/linefinder/ratelimit"
	"github.com/meghashyamc/linefinder/services/search"
	"github.com/meghashyamc/linefinder/validation"
)

type Dependencies struct {
	Engine      *search.Engine
	Limiter     *ratelimit.Limiter
	Validator   *validation.Validator
	Metrics     *metrics.Metrics
	Connections handlers.ConnectionCounter
}

type AdminServer struct {
	router     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	logger     logger.Logger
}

func NewAdminServer(logger logger.Logger, deps Dependencies) *AdminServer {
	gin.SetMode(gin.ReleaseMode)

	s := &AdminServer{logger: logger}
	s.setupRouter(deps)
	s.httpServer = &http.Server{Handler: s.router.Handler()}

	return s
}

func (s *AdminServer) setupRouter(deps Dependencies) {
	router := newRouter()

	router.Use(loggingMiddleware(s.logger))

	setupRoutes(router, s.logger, deps)

	s.router = router
}

// Start binds address and serves in the background.
func (s *AdminServer) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		s.logger.Error("could not bind admin listener", "address", address, "err", err.Error())
		return fmt.Errorf("failed to bind admin api on %s: %w", address, err)
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin api stopped unexpectedly", "err", err.Error())
		}
	}()

	s.logger.Info("admin api listening", "address", listener.Addr().String())
	return nil
}

func (s *AdminServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	s.logger.Info("starting to shut down admin api")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("error shutting down admin api", "err", err.Error())
		return err
	}
	s.logger.Info("shut down admin api successfully")
	return nil
}
