package server

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/meghashyamc/linefinder/api"
	"github.com/meghashyamc/linefinder/certs"
	"github.com/meghashyamc/linefinder/config"
	"github.com/meghashyamc/linefinder/logger"
	"github.com/meghashyamc/linefinder/metrics"
	"github.com/meghashyamc/linefinder/protocol"
	"github.com/meghashyamc/linefinder/ratelimit"
	"github.com/meghashyamc/linefinder/services/search"
	"github.com/meghashyamc/linefinder/validation"
)

const serviceName = "linefinder"

type fileSettings struct {
	Path string `json:"path" validate:"valid_path"`
}

type service struct {
	cfg    *config.Config
	logger logger.Logger

	validator       *validation.Validator
	engine          *search.Engine
	limiter         *ratelimit.Limiter
	compactor       *ratelimit.Compactor
	metrics         *metrics.Metrics
	shutdownMetrics func(context.Context) error
	server          *Server
	admin           *api.AdminServer
}

// Run serves until ctx is cancelled or the process receives SIGINT or
// SIGTERM. A bind failure is returned before anything is served.
func Run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s := &service{
		cfg:    cfg,
		logger: logger.New(cfg.GetLogLevel()),
	}
	if err := s.setupDependencies(ctx); err != nil {
		return err
	}
	if err := s.start(); err != nil {
		s.shutdown()
		return err
	}

	<-ctx.Done()
	return s.shutdown()
}

func (s *service) setupDependencies(ctx context.Context) error {
	var err error
	s.validator, err = validation.New(s.logger)
	if err != nil {
		s.logger.Error("error creating validator", "err", err.Error())
		return err
	}

	if err := s.validator.Validate(fileSettings{Path: s.cfg.GetFilePath()}); err != nil {
		s.logger.Error("invalid file path", "path", s.cfg.GetFilePath(), "err", err.Error())
		return err
	}

	s.shutdownMetrics, err = metrics.InitExporter(ctx, serviceName, s.cfg.GetOTLPEndpoint(), s.logger)
	if err != nil {
		s.logger.Warn("continuing without metrics export", "err", err.Error())
	}
	s.metrics, err = metrics.NewGlobal()
	if err != nil {
		s.logger.Error("error creating metrics", "err", err.Error())
		return err
	}

	s.engine = search.New(s.logger, s.cfg.GetFilePath(), s.cfg.ShouldRereadOnQuery())
	if !s.cfg.ShouldRereadOnQuery() {
		// A missing file is reported per query, so startup carries on.
		if err := s.engine.Load(); err != nil {
			s.logger.Warn("could not preload file", "path", s.cfg.GetFilePath(), "err", err.Error())
		}
	}

	s.limiter = ratelimit.New(s.cfg.GetMaxRequestsPerMinute(), s.cfg.GetRateLimitWindow())
	s.compactor, err = ratelimit.NewCompactor(s.limiter, s.cfg.GetCompactionSchedule(), s.logger)
	if err != nil {
		s.logger.Error("error creating rate limit compactor", "err", err.Error())
		return err
	}

	handlerOptions := HandlerOptions{
		HandshakeTimeout:     s.cfg.GetHandshakeTimeout(),
		ReadTimeout:          s.cfg.GetReadTimeout(),
		MaxRequestBytes:      s.cfg.GetMaxRequestBytes(),
		CheckRateBeforeParse: s.cfg.ShouldCheckRateBeforeParse(),
	}
	if s.cfg.IsSSLEnabled() {
		material, err := certs.LoadFiles(s.cfg.GetCertFile(), s.cfg.GetKeyFile(), s.cfg.GetCAFile())
		if err != nil {
			s.logger.Error("error loading tls material", "err", err.Error())
			return err
		}
		handlerOptions.TLSConfig = certs.ServerConfig(material)
	}

	handler := NewConnectionHandler(s.logger, s.engine, protocol.NewCodec(s.validator), s.limiter, s.metrics, handlerOptions)
	s.server = New(s.logger, handler, Options{
		Address:         s.cfg.GetAddress(),
		WorkerPoolSize:  s.cfg.GetWorkerPoolSize(),
		AcceptTimeout:   s.cfg.GetAcceptTimeout(),
		ShutdownTimeout: s.cfg.GetShutdownTimeout(),
	})

	if s.cfg.GetAdminPort() != "" {
		s.admin = api.NewAdminServer(s.logger, api.Dependencies{
			Engine:      s.engine,
			Limiter:     s.limiter,
			Validator:   s.validator,
			Metrics:     s.metrics,
			Connections: s.server,
		})
	}

	return nil
}

func (s *service) start() error {
	if err := s.server.Start(); err != nil {
		return err
	}
	s.compactor.Start()

	if s.admin != nil {
		if err := s.admin.Start(net.JoinHostPort(s.cfg.GetHost(), s.cfg.GetAdminPort())); err != nil {
			return err
		}
	}

	s.logger.Info("linefinder started",
		"address", s.server.Addr().String(),
		"file", s.cfg.GetFilePath(),
		"reread_on_query", s.cfg.ShouldRereadOnQuery(),
		"ssl_enabled", s.cfg.IsSSLEnabled(),
	)
	return nil
}

func (s *service) shutdown() error {
	s.logger.Info("starting to shut down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()

	err := s.server.Stop()
	if err != nil {
		s.logger.Error("error stopping server", "err", err.Error())
	}
	if s.admin != nil && s.admin.Addr() != nil {
		s.admin.Shutdown(shutdownCtx)
	}
	if err := s.compactor.Stop(shutdownCtx); err != nil {
		s.logger.Warn("error stopping compactor", "err", err.Error())
	}
	if err := s.shutdownMetrics(shutdownCtx); err != nil {
		s.logger.Warn("error flushing metrics", "err", err.Error())
	}

	s.logger.Info("shut down successfully")
	return err
}
