package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

// Upstream label values
const (
	UpstreamRecordCreate = "record_create"
	UpstreamRecordUpdate = "record_update"
	UpstreamPrediction   = "prediction"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddy_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buddy_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddy_jobs_total",
			Help: "Jobs by lifecycle status (running on accept, terminal once written to the record).",
		},
		[]string{"status"},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "buddy_jobs_in_flight",
			Help: "Number of background jobs currently running.",
		},
	)

	recordUpdateRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "buddy_record_update_retries_total",
			Help: "Record update attempts repeated after a transient failure.",
		},
	)

	recordUpdateFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "buddy_record_update_failures_total",
			Help: "Terminal record updates that never landed.",
		},
	)

	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buddy_upstream_duration_seconds",
			Help:    "Duration of calls to the record store and prediction service, in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"upstream", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(jobsInFlight)
	prometheus.MustRegister(recordUpdateRetries)
	prometheus.MustRegister(recordUpdateFailures)
	prometheus.MustRegister(upstreamDuration)

	for _, status := range []string{"running", "finished", "failed", "timeout", "assign_failed"} {
		jobsTotal.WithLabelValues(status)
	}
}

// JobStatus counts a job reaching status
func JobStatus(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// JobStarted and JobDone track the in-flight gauge
func JobStarted() { jobsInFlight.Inc() }

func JobDone() { jobsInFlight.Dec() }

// RecordUpdateRetry counts one repeated update attempt
func RecordUpdateRetry() {
	recordUpdateRetries.Inc()
}

// RecordUpdateFailed counts a terminal update that was given up on
func RecordUpdateFailed() {
	recordUpdateFailures.Inc()
}

// ObserveUpstream records the duration of one upstream operation
func ObserveUpstream(upstream string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	upstreamDuration.WithLabelValues(upstream, outcome).Observe(time.Since(start).Seconds())
}

// Middleware records request count and duration for every HTTP request.
// The gin route template is used as the path label to bound cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatched
		}

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus exposition format
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
