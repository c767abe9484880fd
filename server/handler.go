package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meghashyamc/linefinder/logger"
	"github.com/meghashyamc/linefinder/metrics"
	"github.com/meghashyamc/linefinder/protocol"
	"github.com/meghashyamc/linefinder/ratelimit"
	"github.com/meghashyamc/linefinder/services/search"
)

const (
	defaultMaxRequestBytes = 1024
	errorWriteTimeout      = time.Second
)

type HandlerOptions struct {
	// TLSConfig enables the handshake when set.
	TLSConfig            *tls.Config
	HandshakeTimeout     time.Duration
	ReadTimeout          time.Duration
	MaxRequestBytes      int
	CheckRateBeforeParse bool
}

// ConnectionHandler serves exactly one request per connection and always
// closes the connection before Handle returns.
type ConnectionHandler struct {
	logger  logger.Logger
	engine  *search.Engine
	codec   *protocol.Codec
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	options HandlerOptions
}

func NewConnectionHandler(logger logger.Logger, engine *search.Engine, codec *protocol.Codec, limiter *ratelimit.Limiter, metrics *metrics.Metrics, options HandlerOptions) *ConnectionHandler {
	if options.MaxRequestBytes <= 0 {
		options.MaxRequestBytes = defaultMaxRequestBytes
	}

	return &ConnectionHandler{
		logger:  logger,
		engine:  engine,
		codec:   codec,
		limiter: limiter,
		metrics: metrics,
		options: options,
	}
}

type connection struct {
	id        string
	peer      string
	raw       net.Conn
	stream    net.Conn
	closeOnce sync.Once
}

func newConnection(raw net.Conn) *connection {
	return &connection{
		id:     uuid.NewString(),
		peer:   peerHost(raw.RemoteAddr()),
		raw:    raw,
		stream: raw,
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.stream.Close()
		if c.stream != c.raw {
			c.raw.Close()
		}
	})
}

func (h *ConnectionHandler) Handle(ctx context.Context, raw net.Conn) {
	conn := newConnection(raw)
	defer conn.close()

	h.metrics.ConnectionOpened(ctx)
	defer h.metrics.ConnectionClosed(ctx)

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("connection handler panicked", "connection_id", conn.id, "peer", conn.peer, "panic", fmt.Sprint(r))
			h.write(ctx, conn, conn.stream, protocol.KindTransportFailure.Response())
		}
	}()

	h.logger.Debug("connection accepted", "connection_id", conn.id, "peer", conn.peer)

	if h.options.TLSConfig != nil {
		if err := h.handshake(ctx, conn); err != nil {
			h.logger.Warn("tls handshake failed", "connection_id", conn.id, "peer", conn.peer, "err", err.Error())
			h.write(ctx, conn, conn.raw, protocol.KindTLSFailure.Response())
			return
		}
	}

	payload, err := h.read(conn)
	if err != nil {
		h.logger.Warn("could not read request", "connection_id", conn.id, "peer", conn.peer, "err", err.Error())
		h.write(ctx, conn, conn.stream, protocol.KindTransportFailure.Response())
		return
	}
	if len(payload) == 0 {
		h.logger.Debug("connection closed without a request", "connection_id", conn.id, "peer", conn.peer)
		return
	}

	h.write(ctx, conn, conn.stream, h.respond(ctx, conn, payload))
}

func (h *ConnectionHandler) handshake(ctx context.Context, conn *connection) error {
	tlsConn := tls.Server(conn.raw, h.options.TLSConfig)
	conn.stream = tlsConn

	if h.options.HandshakeTimeout > 0 {
		deadline := time.Now().Add(h.options.HandshakeTimeout)
		if err := conn.raw.SetDeadline(deadline); err != nil {
			return err
		}
		defer conn.raw.SetDeadline(time.Time{})
	}

	return tlsConn.HandshakeContext(ctx)
}

// read performs a single bounded read. A peer that closes without sending
// anything yields an empty payload and no error.
func (h *ConnectionHandler) read(conn *connection) ([]byte, error) {
	if h.options.ReadTimeout > 0 {
		if err := conn.stream.SetReadDeadline(time.Now().Add(h.options.ReadTimeout)); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, h.options.MaxRequestBytes)
	n, err := conn.stream.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, nil
	}

	return nil, err
}

func (h *ConnectionHandler) respond(ctx context.Context, conn *connection, payload []byte) protocol.Response {
	if h.options.CheckRateBeforeParse && !h.limiter.Admit(conn.peer) {
		h.logger.Warn("rate limit exceeded", "connection_id", conn.id, "peer", conn.peer)
		return protocol.KindRateLimited.Response()
	}

	query, err := h.codec.Parse(payload)
	if err != nil {
		h.logger.Warn("invalid request", "connection_id", conn.id, "peer", conn.peer, "err", err.Error())
		return errorKind(err, protocol.KindInvalidRequest).Response()
	}

	if !h.options.CheckRateBeforeParse && !h.limiter.Admit(conn.peer) {
		h.logger.Warn("rate limit exceeded", "connection_id", conn.id, "peer", conn.peer)
		return protocol.KindRateLimited.Response()
	}

	found, elapsed, err := h.engine.Search(query.Text, query.Algorithm)
	h.metrics.SearchCompleted(ctx, query.Algorithm.String(), elapsed)
	if err != nil {
		h.logger.Error("search failed", "connection_id", conn.id, "peer", conn.peer, "algorithm", query.Algorithm.String(), "err", err.Error())
		return errorKind(err, protocol.KindSearchFailure).Response()
	}

	if query.Benchmark {
		h.logger.Debug("search completed",
			"connection_id", conn.id,
			"peer", conn.peer,
			"query", query.Text,
			"algorithm", query.Algorithm.String(),
			"found", found,
			"elapsed", elapsed.String(),
		)
	}

	return protocol.ResultResponse(found)
}

// write is best effort. A failed write is only logged since the connection
// is closed right after.
func (h *ConnectionHandler) write(ctx context.Context, conn *connection, w net.Conn, response protocol.Response) {
	if err := w.SetWriteDeadline(time.Now().Add(errorWriteTimeout)); err != nil {
		h.logger.Debug("could not set write deadline", "connection_id", conn.id, "err", err.Error())
	}
	if _, err := w.Write(response.Bytes()); err != nil {
		h.logger.Warn("could not write response", "connection_id", conn.id, "peer", conn.peer, "response", string(response), "err", err.Error())
		return
	}

	h.metrics.ResponseWritten(ctx, string(response))
}

func errorKind(err error, fallback protocol.Kind) protocol.Kind {
	switch {
	case errors.Is(err, protocol.ErrInvalidRequest):
		return protocol.KindInvalidRequest
	case errors.Is(err, search.ErrFileNotFound):
		return protocol.KindFileUnavailable
	case errors.Is(err, search.ErrSearchFailed):
		return protocol.KindSearchFailure
	default:
		return fallback
	}
}

func peerHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
