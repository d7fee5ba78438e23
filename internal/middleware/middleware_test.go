package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/annel0/blastguard/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func newRouter(t *testing.T, reg *prometheus.Registry, out *syncBuffer) (*gin.Engine, *PrometheusMiddleware) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()

	logger := logging.NewWriterLogger("http", out, logging.DEBUG)
	r.Use(NewRequestLogger(logger, "/metrics").Handler())

	pm := NewPrometheusMiddleware("test", reg)
	r.Use(pm.Handler())
	pm.RegisterMetricsEndpoint(r, reg)

	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/boom", func(c *gin.Context) { c.String(http.StatusInternalServerError, "boom") })
	return r, pm
}

func TestMiddlewareMetricsAndLogs(t *testing.T) {
	reg := prometheus.NewRegistry()
	out := &syncBuffer{}
	r, pm := newRouter(t, reg, out)

	for _, path := range []string{"/ok", "/ok", "/boom", "/missing"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.NotEmpty(t, w.Header().Get("X-Trace-Id"))
	}

	count, err := testutil.GatherAndCount(reg, "test_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "ok, boom и unmatched")

	assert.Equal(t, 2, testutil.CollectAndCount(pm.reqErrors), "500 и 404")
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.reqErrors.WithLabelValues("GET", "/boom", "500")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.reqInflight))

	logs := out.String()
	assert.Contains(t, logs, "GET /ok 200")
	assert.Contains(t, logs, "GET /boom 500")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "test_http_requests_inflight"))
	assert.NotContains(t, out.String(), "GET /metrics", "/metrics не логируется")
}
