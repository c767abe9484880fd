// Common test helpers
package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/linefinder/logger"
	"github.com/meghashyamc/linefinder/metrics"
	"github.com/meghashyamc/linefinder/ratelimit"
	"github.com/meghashyamc/linefinder/services/search"
	"github.com/meghashyamc/linefinder/validation"
	"github.com/stretchr/testify/require"
)

var testLines = []string{
	"test string",
	"3;0;1;28;0;7;5;0;",
	"special !@#$%^&*()",
	"alpha",
}

type testCase struct {
	name           string
	queryParams    map[string]string
	expectedStatus int
	expectedData   map[string]any
}

type fakeConnectionCounter int64

func (f fakeConnectionCounter) ActiveConnections() int64 {
	return int64(f)
}

func writeTestFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(testLines, "\n")+"\n"), 0644))
	return path
}

func setupTestServer(t *testing.T, assert *require.Assertions, filePath string) (*gin.Engine, *search.Engine) {
	testLogger := logger.NewWithWriter(os.Stderr, "debug")

	validator, err := validation.New(testLogger)
	assert.NoError(err, "could not create validator")
	m, err := metrics.NewGlobal()
	assert.NoError(err, "could not create metrics")

	engine := search.New(testLogger, filePath, false)
	limiter := ratelimit.New(1000, time.Minute)

	gin.SetMode(gin.TestMode)
	router := gin.New()

	SetupSearch(router, testLogger, engine, validator, m)
	SetupBenchmark(router, testLogger, engine, validator)
	SetupStats(router, engine, limiter, fakeConnectionCounter(3))

	return router, engine
}

func makeTestHTTPRequest(router *gin.Engine, assert *require.Assertions, method string, endpoint string, queryParams map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()

	if len(queryParams) > 0 {
		values := url.Values{}
		for key, value := range queryParams {
			values.Set(key, value)
		}
		endpoint = endpoint + "?" + values.Encode()
	}

	req, err := http.NewRequest(method, endpoint, nil)
	assert.NoError(err)

	router.ServeHTTP(w, req)

	return w
}
