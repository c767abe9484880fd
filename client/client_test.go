package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meghashyamc/linefinder/certs"
	"github.com/meghashyamc/linefinder/logger"
	"github.com/meghashyamc/linefinder/metrics"
	"github.com/meghashyamc/linefinder/protocol"
	"github.com/meghashyamc/linefinder/ratelimit"
	"github.com/meghashyamc/linefinder/server"
	"github.com/meghashyamc/linefinder/services/search"
	"github.com/meghashyamc/linefinder/validation"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, tlsConfig *tls.Config, maxRequests int) string {
	t.Helper()
	assert := require.New(t)

	path := filepath.Join(t.TempDir(), "lines.txt")
	assert.NoError(os.WriteFile(path, []byte("alpha\n3;0;1;28;0;7;5;0;\n"), 0644))

	testLogger := logger.Discard()
	validator, err := validation.New(testLogger)
	assert.NoError(err)
	m, err := metrics.NewGlobal()
	assert.NoError(err)

	handler := server.NewConnectionHandler(testLogger, search.New(testLogger, path, false), protocol.NewCodec(validator), ratelimit.New(maxRequests, time.Minute), m, server.HandlerOptions{
		TLSConfig:        tlsConfig,
		HandshakeTimeout: 2 * time.Second,
		ReadTimeout:      2 * time.Second,
	})
	s := server.New(testLogger, handler, server.Options{Address: "127.0.0.1:0", AcceptTimeout: 20 * time.Millisecond})
	assert.NoError(s.Start())
	t.Cleanup(func() { s.Stop() })

	return s.Addr().String()
}

// startFakeServer answers every connection with reply and records what it
// received.
func startFakeServer(t *testing.T, reply string) (string, <-chan string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	received := make(chan string, 10)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			line, _ := bufio.NewReader(conn).ReadString('\n')
			received <- line
			conn.Write([]byte(reply))
			conn.Close()
		}
	}()

	return listener.Addr().String(), received
}

func closedAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())
	return address
}

func TestExistsPlaintext(t *testing.T) {
	address := startServer(t, nil, 1000)

	testCases := []struct {
		name     string
		legacy   bool
		request  Request
		expected bool
	}{
		{name: "StructuredFound", request: Request{Query: "alpha", Algorithm: search.Binary}, expected: true},
		{name: "StructuredBenchmark", request: Request{Query: "alpha", Algorithm: search.KMP, Benchmark: true}, expected: true},
		{name: "StructuredNotFound", request: Request{Query: "alp", Algorithm: search.BoyerMoore}},
		{name: "LegacyFound", legacy: true, request: Request{Query: "3;0;1;28;0;7;5;0;"}, expected: true},
		{name: "LegacyNotFound", legacy: true, request: Request{Query: "nonexistent"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert := require.New(t)
			c := New(logger.Discard(), Options{Address: address, Legacy: testCase.legacy})
			found, err := c.Exists(context.Background(), testCase.request)
			assert.NoError(err)
			assert.Equal(testCase.expected, found)
		})
	}
}

func TestExistsMapsSentinelResponses(t *testing.T) {
	assert := require.New(t)
	address := startServer(t, nil, 1)
	c := New(logger.Discard(), Options{Address: address})

	_, err := c.Exists(context.Background(), Request{Query: "alpha"})
	assert.NoError(err)

	_, err = c.Exists(context.Background(), Request{Query: "alpha"})
	assert.ErrorIs(err, ErrServer)
	var serverErr *ServerError
	assert.True(errors.As(err, &serverErr))
	assert.Equal(protocol.ResponseRateLimited, serverErr.Response)
}

func TestStructuredPayload(t *testing.T) {
	assert := require.New(t)
	address, received := startFakeServer(t, "STRING EXISTS\n")

	c := New(logger.Discard(), Options{Address: address})
	response, err := c.Query(context.Background(), Request{Query: "test string", Algorithm: search.BoyerMoore})
	assert.NoError(err)
	assert.Equal(protocol.ResponseExists, response)
	assert.JSONEq(`{"query":"test string","algorithm":"boyer_moore"}`, <-received)

	c = New(logger.Discard(), Options{Address: address, Legacy: true})
	_, err = c.Query(context.Background(), Request{Query: "test string"})
	assert.NoError(err)
	assert.Equal("test string\n", <-received)
}

func TestUnexpectedResponse(t *testing.T) {
	assert := require.New(t)
	address, _ := startFakeServer(t, "HELLO\n")

	c := New(logger.Discard(), Options{Address: address})
	_, err := c.Query(context.Background(), Request{Query: "alpha"})
	assert.ErrorIs(err, ErrUnexpectedResponse)
}

func TestTLSAttemptSucceeds(t *testing.T) {
	assert := require.New(t)
	bundle, err := certs.GenerateBundle([]string{"127.0.0.1"})
	assert.NoError(err)
	serverMaterial, err := bundle.ServerMaterial()
	assert.NoError(err)
	clientMaterial, err := bundle.ClientMaterial()
	assert.NoError(err)

	address := startServer(t, certs.ServerConfig(serverMaterial), 1000)
	c := New(logger.Discard(), Options{Address: address, TLSConfig: certs.ClientConfig(clientMaterial, "")})

	found, err := c.Exists(context.Background(), Request{Query: "alpha", Algorithm: search.Binary})
	assert.NoError(err)
	assert.True(found)
}

func TestTLSFallsBackToPlaintext(t *testing.T) {
	assert := require.New(t)
	bundle, err := certs.GenerateBundle([]string{"127.0.0.1"})
	assert.NoError(err)
	clientMaterial, err := bundle.ClientMaterial()
	assert.NoError(err)

	address := startServer(t, nil, 1000)
	c := New(logger.Discard(), Options{Address: address, TLSConfig: certs.ClientConfig(clientMaterial, "127.0.0.1")})

	found, err := c.Exists(context.Background(), Request{Query: "alpha"})
	assert.NoError(err)
	assert.True(found)
}

func TestBothAttemptsFailReturnsTLSError(t *testing.T) {
	assert := require.New(t)
	bundle, err := certs.GenerateBundle([]string{"127.0.0.1"})
	assert.NoError(err)
	clientMaterial, err := bundle.ClientMaterial()
	assert.NoError(err)

	c := New(logger.Discard(), Options{
		Address:   closedAddress(t),
		TLSConfig: certs.ClientConfig(clientMaterial, "127.0.0.1"),
		Timeout:   time.Second,
	})

	_, err = c.Query(context.Background(), Request{Query: "alpha"})
	var attemptErr *AttemptError
	assert.True(errors.As(err, &attemptErr))
	assert.Equal(TransportTLS, attemptErr.Transport)
}

func TestTLSOnlyServerSurfacesTLSError(t *testing.T) {
	assert := require.New(t)
	serverBundle, err := certs.GenerateBundle([]string{"127.0.0.1"})
	assert.NoError(err)
	serverMaterial, err := serverBundle.ServerMaterial()
	assert.NoError(err)

	// A client certificate from another CA fails verification on the server.
	otherBundle, err := certs.GenerateBundle([]string{"127.0.0.1"})
	assert.NoError(err)
	clientMaterial, err := otherBundle.ClientMaterial()
	assert.NoError(err)
	clientMaterial.CAPool = serverMaterial.CAPool

	address := startServer(t, certs.ServerConfig(serverMaterial), 1000)
	c := New(logger.Discard(), Options{Address: address, TLSConfig: certs.ClientConfig(clientMaterial, "127.0.0.1")})

	response, err := c.Query(context.Background(), Request{Query: "alpha"})
	assert.Empty(response)
	var attemptErr *AttemptError
	assert.True(errors.As(err, &attemptErr), "got %v", err)
	assert.Equal(TransportTLS, attemptErr.Transport)
	assert.NotErrorIs(err, ErrServer)
}

func TestSSLRequiredFallbackReplySurfacesTLSError(t *testing.T) {
	assert := require.New(t)
	bundle, err := certs.GenerateBundle([]string{"127.0.0.1"})
	assert.NoError(err)
	clientMaterial, err := bundle.ClientMaterial()
	assert.NoError(err)

	address, _ := startFakeServer(t, "SSL_REQUIRED\n")
	c := New(logger.Discard(), Options{
		Address:   address,
		TLSConfig: certs.ClientConfig(clientMaterial, "127.0.0.1"),
		Timeout:   2 * time.Second,
	})

	_, err = c.Query(context.Background(), Request{Query: "alpha"})
	var attemptErr *AttemptError
	assert.True(errors.As(err, &attemptErr), "got %v", err)
	assert.Equal(TransportTLS, attemptErr.Transport)
}

func TestPlaintextFailure(t *testing.T) {
	assert := require.New(t)
	c := New(logger.Discard(), Options{Address: closedAddress(t), Timeout: time.Second})

	_, err := c.Query(context.Background(), Request{Query: "alpha"})
	var attemptErr *AttemptError
	assert.True(errors.As(err, &attemptErr))
	assert.Equal(TransportPlaintext, attemptErr.Transport)
}

func TestServerNameDefaultsToHost(t *testing.T) {
	assert := require.New(t)
	config := &tls.Config{}

	c := New(logger.Discard(), Options{Address: "127.0.0.1:44445", TLSConfig: config})
	assert.Equal("127.0.0.1", c.options.TLSConfig.ServerName)
	assert.Empty(config.ServerName, "caller's config is not modified")
}
