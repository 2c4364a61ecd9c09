package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total number of HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royaltydesk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "code"},
	)

	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "royaltydesk_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// ActiveRequests tracks currently active requests
	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "royaltydesk_http_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"path"},
	)

	// ImportsTotal counts statement imports by detected source and outcome.
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royaltydesk_imports_total",
			Help: "Statement imports by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	// ImportRowsStaged counts staged rows by validation status.
	ImportRowsStaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royaltydesk_import_rows_staged_total",
			Help: "Staged statement rows by validation status",
		},
		[]string{"status"},
	)

	// ImportDuration tracks end-to-end statement processing time.
	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "royaltydesk_import_duration_seconds",
			Help:    "Statement processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// QuarterlyReportRuns counts quarterly balance regeneration runs.
	QuarterlyReportRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "royaltydesk_quarterly_report_runs_total",
			Help: "Quarterly balance report regeneration runs",
		},
	)

	// QuarterlyReportDuration tracks quarterly regeneration time.
	QuarterlyReportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "royaltydesk_quarterly_report_duration_seconds",
			Help:    "Quarterly balance report generation duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	// LookupJobsTotal counts external lookup jobs by terminal state.
	LookupJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royaltydesk_lookup_jobs_total",
			Help: "External identifier lookup jobs by terminal state",
		},
		[]string{"state"},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware collects Prometheus metrics per request. route maps a
// request to its registered mux pattern ({id} stays a literal), keeping label
// cardinality bounded; requests matching no route share one label.
func MetricsMiddleware(route func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := "unmatched"
		if route != nil {
			if p := route(r); p != "" {
				path = p
			}
		}

		ActiveRequests.WithLabelValues(path).Inc()
		defer ActiveRequests.WithLabelValues(path).Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		RequestDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
