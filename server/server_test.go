package server

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/meghashyamc/linefinder/logger"
	"github.com/stretchr/testify/require"
)

func TestConcurrentConnections(t *testing.T) {
	assert := require.New(t)
	ts := startTestServer(t, testServerOptions{maxRequests: 1000, workers: 4})

	const clients = 40
	responses := make([]string, clients)
	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := testLines[i%len(testLines)] + "\n"
			if i == 7 {
				payload = `{"query": broken`
			}
			responses[i] = query(t, ts.address, payload)
		}()
	}
	wg.Wait()

	for i, response := range responses {
		if i == 7 {
			assert.Equal("INVALID REQUEST\n", response)
			continue
		}
		assert.Equal("STRING EXISTS\n", response, "client %d", i)
	}
}

func TestSaturatedPoolQueuesConnections(t *testing.T) {
	assert := require.New(t)
	ts := startTestServer(t, testServerOptions{maxRequests: 1000, workers: 1})

	idle, err := net.DialTimeout("tcp", ts.address, clientTimeout)
	assert.NoError(err)
	assert.Eventually(func() bool { return ts.server.ActiveConnections() == 1 }, clientTimeout, 10*time.Millisecond)

	done := make(chan string, 1)
	go func() {
		done <- query(t, ts.address, "alpha\n")
	}()

	select {
	case response := <-done:
		t.Fatalf("queued connection was served while the only worker was busy: %q", response)
	case <-time.After(200 * time.Millisecond):
	}

	assert.Equal("STRING EXISTS\n", exchange(t, idle, "beta gamma\n"))
	idle.Close()

	select {
	case response := <-done:
		assert.Equal("STRING EXISTS\n", response)
	case <-time.After(clientTimeout):
		t.Fatal("queued connection was never served")
	}
}

func TestStopDrainsInFlightConnections(t *testing.T) {
	assert := require.New(t)
	ts := startTestServer(t, testServerOptions{maxRequests: 1000, shutdownTimeout: 5 * time.Second})

	const inFlightCount = 3
	inFlight := make([]net.Conn, inFlightCount)
	for i := range inFlight {
		conn, err := net.DialTimeout("tcp", ts.address, clientTimeout)
		assert.NoError(err)
		defer conn.Close()
		inFlight[i] = conn
	}
	assert.Eventually(func() bool { return ts.server.ActiveConnections() == inFlightCount }, clientTimeout, 10*time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		stopped <- ts.server.Stop()
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while connections were still in flight")
	case <-time.After(200 * time.Millisecond):
	}

	_, err := net.DialTimeout("tcp", ts.address, 500*time.Millisecond)
	assert.Error(err, "listener should be closed once stop begins")

	for i, conn := range inFlight {
		assert.Equal("STRING EXISTS\n", exchange(t, conn, testLines[i]+"\n"))
	}

	select {
	case err := <-stopped:
		assert.NoError(err)
	case <-time.After(clientTimeout):
		t.Fatal("stop did not return after the in-flight connections finished")
	}
	assert.Zero(ts.server.ActiveConnections())

	_, err = net.DialTimeout("tcp", ts.address, 500*time.Millisecond)
	assert.Error(err, "port should be unusable after stop returns")
}

func TestStopTimeoutClosesRemainingConnections(t *testing.T) {
	assert := require.New(t)
	ts := startTestServer(t, testServerOptions{maxRequests: 1000, shutdownTimeout: 100 * time.Millisecond})

	idle, err := net.DialTimeout("tcp", ts.address, clientTimeout)
	assert.NoError(err)
	defer idle.Close()
	assert.Eventually(func() bool { return ts.server.ActiveConnections() == 1 }, clientTimeout, 10*time.Millisecond)

	assert.ErrorIs(ts.server.Stop(), ErrShutdownTimeout)
	assert.Zero(ts.server.ActiveConnections())
}

func TestStopIsIdempotent(t *testing.T) {
	assert := require.New(t)
	ts := startTestServer(t, testServerOptions{maxRequests: 1000})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = ts.server.Stop()
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(err)
	}
	assert.NoError(ts.server.Stop())
	assert.Error(ts.server.Start(), "a stopped server cannot be restarted")
}

func TestStopBeforeStart(t *testing.T) {
	assert := require.New(t)
	server := New(logger.Discard(), nil, Options{Address: "127.0.0.1:0"})

	assert.NoError(server.Stop())
	assert.Nil(server.Addr())
	assert.Error(server.Start())
}

func TestStartBindFailure(t *testing.T) {
	assert := require.New(t)
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(err)
	defer occupied.Close()

	server := New(logger.Discard(), nil, Options{Address: occupied.Addr().String()})
	err = server.Start()
	assert.Error(err)
	assert.Contains(err.Error(), fmt.Sprintf("failed to bind %s", occupied.Addr().String()))
}

func TestStartTwice(t *testing.T) {
	assert := require.New(t)
	ts := startTestServer(t, testServerOptions{maxRequests: 1000})

	assert.ErrorIs(ts.server.Start(), ErrAlreadyStarted)
}

func TestServeBlocksUntilStop(t *testing.T) {
	assert := require.New(t)
	server := New(logger.Discard(), nil, Options{Address: "127.0.0.1:0"})

	served := make(chan error, 1)
	go func() {
		served <- server.Serve()
	}()
	assert.Eventually(func() bool { return server.Addr() != nil }, clientTimeout, 10*time.Millisecond)

	select {
	case <-served:
		t.Fatal("serve returned before stop")
	case <-time.After(100 * time.Millisecond):
	}

	assert.NoError(server.Stop())
	assert.NoError(<-served)
}
