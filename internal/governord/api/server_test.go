package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlytics/governor/pkg/health"
	"github.com/crawlytics/governor/pkg/logging"
	"github.com/crawlytics/governor/pkg/memopt"
	"github.com/crawlytics/governor/pkg/metrics"
	"github.com/crawlytics/governor/pkg/ratelimit"
	"github.com/crawlytics/governor/pkg/retry"
)

type fakeCore struct {
	healthReport health.Report
	reportErr    error
	cleanups     []bool
	panicking    bool
}

func (f *fakeCore) RunHealthChecks() health.Report {
	return f.healthReport
}

func (f *fakeCore) CurrentMetrics() metrics.Current {
	if f.panicking {
		panic("core unavailable")
	}
	return metrics.Current{
		Totals: metrics.Totals{TotalRequests: 42, SuccessfulRequests: 40, FailedRequests: 2},
	}
}

func (f *fakeCore) PerformanceReport(lastMinutes int) (metrics.PerformanceReport, error) {
	if f.reportErr != nil {
		return metrics.PerformanceReport{}, f.reportErr
	}
	return metrics.PerformanceReport{WindowMinutes: lastMinutes, RequestCount: 10}, nil
}

func (f *fakeCore) CurrentLimits() ratelimit.Limits {
	return ratelimit.Limits{Delay: time.Second, MaxConcurrent: 5}
}

func (f *fakeCore) RetryMetrics() retry.Metrics {
	return retry.Metrics{TotalAttempts: 7}
}

func (f *fakeCore) Cleanup(aggressive bool) memopt.CleanupResult {
	f.cleanups = append(f.cleanups, aggressive)
	return memopt.CleanupResult{Aggressive: aggressive, FreedMB: 12}
}

func newTestServer(core *fakeCore) *Server {
	return NewServer(Config{Port: "0"}, Dependencies{
		Logger: logging.NewNoOpLogger(),
		Core:   core,
	})
}

func doRequest(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	core := &fakeCore{healthReport: health.Report{Overall: health.StatusHealthy}}
	srv := newTestServer(core)

	rec := doRequest(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StatusHealthy, report.Overall)
}

func TestHealthEndpointCriticalIs503(t *testing.T) {
	core := &fakeCore{healthReport: health.Report{Overall: health.StatusCritical}}
	srv := newTestServer(core)

	rec := doRequest(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(&fakeCore{})

	rec := doRequest(t, srv, http.MethodGet, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)

	var cur metrics.Current
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cur))
	assert.Equal(t, int64(42), cur.Totals.TotalRequests)
}

func TestReportEndpoint(t *testing.T) {
	srv := newTestServer(&fakeCore{})

	rec := doRequest(t, srv, http.MethodGet, "/report?minutes=30")
	assert.Equal(t, http.StatusOK, rec.Code)

	var report metrics.PerformanceReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 30, report.WindowMinutes)
}

func TestReportEndpointInsufficientData(t *testing.T) {
	srv := newTestServer(&fakeCore{reportErr: metrics.ErrInsufficientData})

	rec := doRequest(t, srv, http.MethodGet, "/report")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient data")
}

func TestReportEndpointRejectsBadMinutes(t *testing.T) {
	srv := newTestServer(&fakeCore{})

	rec := doRequest(t, srv, http.MethodGet, "/report?minutes=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/report?minutes=-5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLimitsEndpoint(t *testing.T) {
	srv := newTestServer(&fakeCore{})

	rec := doRequest(t, srv, http.MethodGet, "/limits")
	assert.Equal(t, http.StatusOK, rec.Code)

	var limits ratelimit.Limits
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limits))
	assert.Equal(t, 5, limits.MaxConcurrent)
}

func TestRetryEndpoint(t *testing.T) {
	srv := newTestServer(&fakeCore{})

	rec := doRequest(t, srv, http.MethodGet, "/retry")
	assert.Equal(t, http.StatusOK, rec.Code)

	var m retry.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, int64(7), m.TotalAttempts)
}

func TestCleanupEndpoint(t *testing.T) {
	core := &fakeCore{}
	srv := newTestServer(core)

	rec := doRequest(t, srv, http.MethodPost, "/cleanup?aggressive=true")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, core.cleanups, 1)
	assert.True(t, core.cleanups[0])

	rec = doRequest(t, srv, http.MethodGet, "/cleanup")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "cleanup is POST only")
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := newTestServer(&fakeCore{panicking: true})

	rec := doRequest(t, srv, http.MethodGet, "/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
