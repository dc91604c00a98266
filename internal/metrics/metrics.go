package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	UploadsTotal         *prometheus.CounterVec
	UploadBytes          *prometheus.CounterVec
	UploadDuration       *prometheus.HistogramVec
	ValidationRejections *prometheus.CounterVec
	ThumbnailsDerived    prometheus.Counter

	LiveWatches    prometheus.Gauge
	LiveConsumers  prometheus.Gauge
	LiveDeliveries *prometheus.CounterVec

	RateLimitHits     *prometheus.CounterVec
	DuplicateRequests *prometheus.CounterVec
	ScheduledClaimed  prometheus.Counter
	ScheduledReleased prometheus.Counter
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		UploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "media_uploads_total",
			Help: "Media uploads by kind and outcome",
		}, []string{"kind", "outcome"}),
		UploadBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "media_upload_bytes_total",
			Help: "Bytes streamed to the media provider",
		}, []string{"kind"}),
		UploadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_upload_duration_seconds",
			Help:    "Media upload duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900, 1800},
		}, []string{"kind"}),
		ValidationRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "media_validation_rejections_total",
			Help: "Files rejected before upload",
		}, []string{"reason"}),
		ThumbnailsDerived: f.NewCounter(prometheus.CounterOpts{
			Name: "media_thumbnails_derived_total",
			Help: "Video thumbnail URLs derived",
		}),
		LiveWatches: f.NewGauge(prometheus.GaugeOpts{
			Name: "livequery_watches",
			Help: "Shared live-query watches currently open",
		}),
		LiveConsumers: f.NewGauge(prometheus.GaugeOpts{
			Name: "livequery_consumers",
			Help: "Consumers attached to live-query watches",
		}),
		LiveDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livequery_deliveries_total",
			Help: "Snapshots delivered to consumers",
		}, []string{"collection", "result"}),
		RateLimitHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_hits_total",
			Help: "Requests rejected by rate limits or daily quotas",
		}, []string{"feature", "reason"}),
		DuplicateRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "duplicate_requests_total",
			Help: "Writes rejected as in-flight duplicates",
		}, []string{"route"}),
		ScheduledClaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "scheduled_posts_claimed_total",
			Help: "Scheduled posts handed to the external publisher",
		}),
		ScheduledReleased: f.NewCounter(prometheus.CounterOpts{
			Name: "scheduled_posts_claims_released_total",
			Help: "Stale scheduled-post claims returned to the queue",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by the mux route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) UploadFinished(kind, outcome string, bytes int64, d time.Duration) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(kind, outcome).Inc()
	if bytes > 0 {
		m.UploadBytes.WithLabelValues(kind).Add(float64(bytes))
	}
	m.UploadDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.ValidationRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) ThumbnailDerived() {
	if m == nil {
		return
	}
	m.ThumbnailsDerived.Inc()
}

func (m *Metrics) WatchOpened() {
	if m == nil {
		return
	}
	m.LiveWatches.Inc()
}

func (m *Metrics) WatchClosed() {
	if m == nil {
		return
	}
	m.LiveWatches.Dec()
}

func (m *Metrics) ConsumerDelta(n int) {
	if m == nil {
		return
	}
	m.LiveConsumers.Add(float64(n))
}

func (m *Metrics) Delivered(collection string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LiveDeliveries.WithLabelValues(collection, result).Inc()
}

func (m *Metrics) Limited(feature, reason string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(feature, reason).Inc()
}

func (m *Metrics) Duplicate(route string) {
	if m == nil {
		return
	}
	m.DuplicateRequests.WithLabelValues(route).Inc()
}

func (m *Metrics) Claimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ScheduledClaimed.Add(float64(n))
}

func (m *Metrics) Released(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ScheduledReleased.Add(float64(n))
}
