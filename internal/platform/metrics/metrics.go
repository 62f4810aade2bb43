package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job results used as the "result" label of hls_jobs_total.
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

// Metrics holds Prometheus counters and gauges for the archiver.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	segmentsDownloaded prometheus.Counter
	segmentRetries     prometheus.Counter
	segmentsFailed     prometheus.Counter
	bytesWritten       prometheus.Counter
	jobsTotal          *prometheus.CounterVec
	activeJobs         prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_status_requests_total",
		Help: "Total number of status server requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_status_errors_total",
		Help: "Total number of status server responses with error status (4xx or 5xx)",
	})
	segmentsDownloaded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_segments_downloaded_total",
		Help: "Total number of segments fetched and stored as temporary artifacts",
	})
	segmentRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_segment_retries_total",
		Help: "Total number of failed segment fetch attempts that were retried",
	})
	segmentsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_segments_failed_total",
		Help: "Total number of segments that exhausted their attempts in a pass",
	})
	bytesWritten := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_reassembled_bytes_total",
		Help: "Total number of bytes appended to output containers",
	})
	jobsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_jobs_total",
		Help: "Total number of finished download jobs by result",
	}, []string{"result"})
	activeJobs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_active_jobs",
		Help: "Number of jobs that have not reached a terminal state",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		segmentsDownloaded,
		segmentRetries,
		segmentsFailed,
		bytesWritten,
		jobsTotal,
		activeJobs,
	)

	return &Metrics{
		registry:           registry,
		requestsTotal:      requestsTotal,
		errorsTotal:        errorsTotal,
		segmentsDownloaded: segmentsDownloaded,
		segmentRetries:     segmentRetries,
		segmentsFailed:     segmentsFailed,
		bytesWritten:       bytesWritten,
		jobsTotal:          jobsTotal,
		activeJobs:         activeJobs,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SegmentDownloaded counts one stored segment.
func (m *Metrics) SegmentDownloaded() {
	m.segmentsDownloaded.Inc()
}

// SegmentRetried counts one failed attempt that will be retried.
func (m *Metrics) SegmentRetried() {
	m.segmentRetries.Inc()
}

// SegmentFailed counts one segment that exhausted its attempts.
func (m *Metrics) SegmentFailed() {
	m.segmentsFailed.Inc()
}

// BytesWritten adds n reassembled bytes.
func (m *Metrics) BytesWritten(n int64) {
	m.bytesWritten.Add(float64(n))
}

// JobFinished counts a job under result (see the Result constants).
func (m *Metrics) JobFinished(result string) {
	m.jobsTotal.WithLabelValues(result).Inc()
}

// SetActiveJobs sets the active jobs gauge.
func (m *Metrics) SetActiveJobs(n int) {
	m.activeJobs.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active jobs).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
