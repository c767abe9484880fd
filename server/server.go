// Package server accepts TCP connections and answers one line-existence
// query per connection on a bounded pool of workers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meghashyamc/linefinder/logger"
	"github.com/sourcegraph/conc/pool"
)

const (
	defaultWorkerPoolSize  = 50
	defaultAcceptTimeout   = 100 * time.Millisecond
	defaultShutdownTimeout = 10 * time.Second
	acceptRetryDelay       = 5 * time.Millisecond
)

var (
	ErrAlreadyStarted  = errors.New("server already started")
	ErrShutdownTimeout = errors.New("timed out waiting for connections to finish")
)

type Options struct {
	Address         string
	WorkerPoolSize  int
	AcceptTimeout   time.Duration
	ShutdownTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.WorkerPoolSize <= 0 {
		o.WorkerPoolSize = defaultWorkerPoolSize
	}
	if o.AcceptTimeout <= 0 {
		o.AcceptTimeout = defaultAcceptTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaultShutdownTimeout
	}
}

// Server owns the listening socket. At most WorkerPoolSize connections are
// handled at once; while every worker is busy the accept loop blocks and
// new connections wait in the kernel backlog.
type Server struct {
	logger  logger.Logger
	handler *ConnectionHandler
	options Options

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	workers      *pool.Pool
	active       atomic.Int64
	shuttingDown atomic.Bool
	stopOnce     sync.Once
	stopErr      error
	loopDone     chan struct{}
	drained      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger logger.Logger, handler *ConnectionHandler, options Options) *Server {
	options.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		logger:   logger,
		handler:  handler,
		options:  options,
		conns:    make(map[net.Conn]struct{}),
		workers:  pool.New().WithMaxGoroutines(options.WorkerPoolSize),
		loopDone: make(chan struct{}),
		drained:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the listening socket and runs the accept loop in the
// background. Bind failures are returned immediately.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrAlreadyStarted
	}
	if s.shuttingDown.Load() {
		return net.ErrClosed
	}

	listener, err := net.Listen("tcp", s.options.Address)
	if err != nil {
		s.logger.Error("could not bind listener", "address", s.options.Address, "err", err.Error())
		return fmt.Errorf("failed to bind %s: %w", s.options.Address, err)
	}
	s.listener = listener

	s.logger.Info("server listening", "address", listener.Addr().String(), "workers", s.options.WorkerPoolSize)
	go s.acceptLoop(listener)

	return nil
}

// Serve starts the server and blocks until Stop has drained it.
func (s *Server) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}
	<-s.drained
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of connections accepted and not yet
// closed, including those waiting for a worker.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// Stop closes the listener and waits up to ShutdownTimeout for in-flight
// connections. Connections still open after that are closed forcibly. Stop
// may be called any number of times from any goroutine.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.shuttingDown.Store(true)
		s.logger.Info("stopping server")

		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()

		if listener == nil {
			close(s.loopDone)
		} else if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("could not close listener", "err", err.Error())
		}

		go func() {
			<-s.loopDone
			s.workers.Wait()
			close(s.drained)
		}()

		select {
		case <-s.drained:
			s.logger.Info("server stopped")
		case <-time.After(s.options.ShutdownTimeout):
			s.logger.Warn("shutdown timeout, closing remaining connections", "active", s.active.Load())
			s.cancel()
			s.closeConns()
			<-s.drained
			s.stopErr = ErrShutdownTimeout
		}
		s.cancel()
	})

	return s.stopErr
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer close(s.loopDone)

	deadliner, canSetDeadline := listener.(interface{ SetDeadline(time.Time) error })

	for !s.shuttingDown.Load() {
		if canSetDeadline {
			if err := deadliner.SetDeadline(time.Now().Add(s.options.AcceptTimeout)); err != nil && !s.shuttingDown.Load() {
				s.logger.Warn("could not set accept deadline", "err", err.Error())
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.shuttingDown.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Warn("accept failed", "err", err.Error())
			time.Sleep(acceptRetryDelay)
			continue
		}

		s.track(conn)
		s.workers.Go(func() {
			defer s.untrack(conn)
			s.handler.Handle(s.ctx, conn)
		})
	}
}

func (s *Server) track(conn net.Conn) {
	s.active.Add(1)
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.active.Add(-1)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		conn.Close()
	}
}
