// Package client sends single queries to a linefinder server.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/meghashyamc/linefinder/logger"
	"github.com/meghashyamc/linefinder/protocol"
	"github.com/meghashyamc/linefinder/services/search"
)

const defaultTimeout = 10 * time.Second

const (
	TransportTLS       = "tls"
	TransportPlaintext = "plaintext"
)

var (
	ErrServer             = errors.New("server returned an error response")
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// AttemptError is the failure of one connection attempt.
type AttemptError struct {
	Transport string
	Err       error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s attempt failed: %s", e.Transport, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// ServerError carries a sentinel response that is not a search result.
type ServerError struct {
	Response protocol.Response
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server responded %q", string(e.Response))
}

func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}

type Options struct {
	Address string
	// TLSConfig makes the client try TLS first and fall back to plaintext.
	TLSConfig *tls.Config
	Timeout   time.Duration
	// Legacy sends the bare query line instead of a JSON request.
	Legacy bool
}

type Request struct {
	Query     string
	Algorithm search.Algorithm
	Benchmark bool
}

type structuredRequest struct {
	Query     string `json:"query"`
	Algorithm string `json:"algorithm"`
	Benchmark bool   `json:"benchmark,omitempty"`
}

type Client struct {
	logger  logger.Logger
	options Options
}

func New(logger logger.Logger, options Options) *Client {
	if options.Timeout <= 0 {
		options.Timeout = defaultTimeout
	}
	if options.TLSConfig != nil && options.TLSConfig.ServerName == "" {
		options.TLSConfig = options.TLSConfig.Clone()
		if host, _, err := net.SplitHostPort(options.Address); err == nil {
			options.TLSConfig.ServerName = host
		}
	}

	return &Client{logger: logger, options: options}
}

// Query sends request and returns the server's response line. With TLS
// configured, a failed TLS attempt is retried once in plaintext; when both
// fail, including a plaintext reply of SSL_REQUIRED, the TLS error is
// returned.
func (c *Client) Query(ctx context.Context, request Request) (protocol.Response, error) {
	payload, err := c.encode(request)
	if err != nil {
		return "", err
	}

	if c.options.TLSConfig == nil {
		return c.attempt(ctx, payload, TransportPlaintext)
	}

	response, tlsErr := c.attempt(ctx, payload, TransportTLS)
	if tlsErr == nil {
		return response, nil
	}
	c.logger.Warn("tls attempt failed, retrying in plaintext", "address", c.options.Address, "err", tlsErr.Error())

	response, err = c.attempt(ctx, payload, TransportPlaintext)
	if err != nil {
		c.logger.Debug("plaintext attempt failed", "address", c.options.Address, "err", err.Error())
		return "", tlsErr
	}
	// The server only speaks TLS, so the TLS failure is the real cause.
	if response == protocol.ResponseSSLRequired {
		c.logger.Debug("plaintext attempt rejected by tls-only server", "address", c.options.Address)
		return "", tlsErr
	}

	return response, nil
}

// Exists maps the response to a search result. Sentinel responses become a
// ServerError.
func (c *Client) Exists(ctx context.Context, request Request) (bool, error) {
	response, err := c.Query(ctx, request)
	if err != nil {
		return false, err
	}

	switch response {
	case protocol.ResponseExists:
		return true, nil
	case protocol.ResponseNotFound:
		return false, nil
	default:
		return false, &ServerError{Response: response}
	}
}

func (c *Client) encode(request Request) ([]byte, error) {
	if c.options.Legacy {
		return []byte(request.Query + "\n"), nil
	}

	payload, err := json.Marshal(structuredRequest{
		Query:     request.Query,
		Algorithm: request.Algorithm.String(),
		Benchmark: request.Benchmark,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return append(payload, '\n'), nil
}

func (c *Client) attempt(ctx context.Context, payload []byte, transport string) (protocol.Response, error) {
	response, err := c.exchange(ctx, payload, transport)
	if err != nil {
		return "", &AttemptError{Transport: transport, Err: err}
	}
	return response, nil
}

func (c *Client) exchange(ctx context.Context, payload []byte, transport string) (protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.options.Timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.options.Address)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return "", err
		}
	}

	if transport == TransportTLS {
		tlsConn := tls.Client(conn, c.options.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return "", fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	if _, err := conn.Write(payload); err != nil {
		return "", fmt.Errorf("write request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read response: %w", err)
	}

	response, ok := protocol.ParseResponse(line)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedResponse, strings.TrimSpace(line))
	}
	return response, nil
}
