package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistered(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	found := make(map[string]bool)
	for _, fam := range families {
		found[fam.GetName()] = true
	}

	// vectors without observations are not gathered, so only check the
	// pre-initialised and scalar collectors here
	for _, name := range []string{
		"buddy_jobs_total",
		"buddy_jobs_in_flight",
		"buddy_record_update_retries_total",
		"buddy_record_update_failures_total",
	} {
		assert.True(t, found[name], "metric %q not registered", name)
	}
}

func TestJobCounters(t *testing.T) {
	before := testutil.ToFloat64(jobsTotal.WithLabelValues("finished"))
	JobStatus("finished")
	assert.Equal(t, before+1, testutil.ToFloat64(jobsTotal.WithLabelValues("finished")))

	inFlight := testutil.ToFloat64(jobsInFlight)
	JobStarted()
	assert.Equal(t, inFlight+1, testutil.ToFloat64(jobsInFlight))
	JobDone()
	assert.Equal(t, inFlight, testutil.ToFloat64(jobsInFlight))

	retries := testutil.ToFloat64(recordUpdateRetries)
	RecordUpdateRetry()
	RecordUpdateRetry()
	assert.Equal(t, retries+2, testutil.ToFloat64(recordUpdateRetries))

	failures := testutil.ToFloat64(recordUpdateFailures)
	RecordUpdateFailed()
	assert.Equal(t, failures+1, testutil.ToFloat64(recordUpdateFailures))
}

func TestObserveUpstream(t *testing.T) {
	ObserveUpstream(UpstreamPrediction, time.Now().Add(-time.Second), nil)
	ObserveUpstream(UpstreamPrediction, time.Now(), errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(upstreamDuration, "buddy_upstream_duration_seconds"))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", Handler())

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/health", "200"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", unmatched, "404")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "buddy_http_requests_total"))
}
