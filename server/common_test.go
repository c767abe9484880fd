package server

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meghashyamc/linefinder/logger"
	"github.com/meghashyamc/linefinder/metrics"
	"github.com/meghashyamc/linefinder/protocol"
	"github.com/meghashyamc/linefinder/ratelimit"
	"github.com/meghashyamc/linefinder/services/search"
	"github.com/meghashyamc/linefinder/validation"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const clientTimeout = 5 * time.Second

var testLines = []string{
	"test string",
	"3;0;1;28;0;7;5;0;",
	"special !@#$%^&*()",
	"alpha",
	"beta gamma",
}

type testServerOptions struct {
	missingFile          bool
	rereadOnQuery        bool
	maxRequests          int
	checkRateBeforeParse bool
	workers              int
	shutdownTimeout      time.Duration
	tlsConfig            *tls.Config
	nilLimiter           bool
	logs                 *syncBuffer
}

// syncBuffer collects debug logs written from handler goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	server   *Server
	address  string
	filePath string
	limiter  *ratelimit.Limiter
	reader   *sdkmetric.ManualReader
}

func startTestServer(t *testing.T, options testServerOptions) *testServer {
	t.Helper()
	assert := require.New(t)

	filePath := filepath.Join(t.TempDir(), "lines.txt")
	if !options.missingFile {
		assert.NoError(os.WriteFile(filePath, []byte(strings.Join(testLines, "\n")+"\n"), 0644))
	}

	testLogger := logger.Discard()
	if options.logs != nil {
		testLogger = logger.NewWithWriter(options.logs, "debug")
	}
	validator, err := validation.New(testLogger)
	assert.NoError(err)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := metrics.New(provider.Meter(metrics.MeterName))
	assert.NoError(err)

	var limiter *ratelimit.Limiter
	if !options.nilLimiter {
		limiter = ratelimit.New(options.maxRequests, time.Minute)
	}

	handler := NewConnectionHandler(testLogger, search.New(testLogger, filePath, options.rereadOnQuery), protocol.NewCodec(validator), limiter, m, HandlerOptions{
		TLSConfig:            options.tlsConfig,
		HandshakeTimeout:     2 * time.Second,
		ReadTimeout:          10 * time.Second,
		CheckRateBeforeParse: options.checkRateBeforeParse,
	})

	server := New(testLogger, handler, Options{
		Address:         "127.0.0.1:0",
		WorkerPoolSize:  options.workers,
		AcceptTimeout:   20 * time.Millisecond,
		ShutdownTimeout: options.shutdownTimeout,
	})
	assert.NoError(server.Start())
	t.Cleanup(func() { server.Stop() })

	return &testServer{
		server:   server,
		address:  server.Addr().String(),
		filePath: filePath,
		limiter:  limiter,
		reader:   reader,
	}
}

// query sends payload on a fresh plaintext connection and returns the
// response line, or an empty string if the server closed without one.
func query(t *testing.T, address string, payload string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", address, clientTimeout)
	require.NoError(t, err)
	defer conn.Close()

	return exchange(t, conn, payload)
}

func exchange(t *testing.T, conn net.Conn, payload string) string {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(clientTimeout)))

	_, err := conn.Write([]byte(payload))
	require.NoError(t, err)

	response, err := bufio.NewReader(conn).ReadString('\n')
	if !errors.Is(err, io.EOF) {
		require.NoError(t, err)
	}
	return response
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	aggregations := make(map[string]metricdata.Aggregation)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			aggregations[m.Name] = m.Data
		}
	}
	return aggregations
}

func responseCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	counts := make(map[string]int64)
	responses, ok := collectMetrics(t, reader)["linefinder_responses_total"].(metricdata.Sum[int64])
	if !ok {
		return counts
	}
	for _, point := range responses.DataPoints {
		value, _ := point.Attributes.Value("response")
		counts[value.AsString()] = point.Value
	}
	return counts
}
