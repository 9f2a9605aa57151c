package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes
const (
	OutcomeCreated = "created"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

// Metrics holds the board's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Registry            *prometheus.Registry
	SubmissionsTotal    *prometheus.CounterVec
	UploadErrorsTotal   *prometheus.CounterVec
	ImagesRejectedTotal prometheus.Counter
	EventPublishErrors  prometheus.Counter
	ActiveStreams       prometheus.Gauge
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers the collectors under namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Listing submissions by outcome.",
		}, []string{"outcome"}),
		UploadErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_errors_total",
			Help:      "Failed image upload batches by error code.",
		}, []string{"code"}),
		ImagesRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_rejected_total",
			Help:      "Selected images rejected for exceeding the size ceiling.",
		}),
		EventPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "listing.created events that could not be published.",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Open server-sent event connections.",
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	registry.MustRegister(
		m.SubmissionsTotal,
		m.UploadErrorsTotal,
		m.ImagesRejectedTotal,
		m.EventPublishErrors,
		m.ActiveStreams,
		m.HTTPRequestDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterGauge exposes a value read at scrape time, such as the session count.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveUploadError(code string) {
	if m == nil {
		return
	}
	m.UploadErrorsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) ObserveRejectedImages(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ImagesRejectedTotal.Add(float64(n))
}

func (m *Metrics) ObserveEventPublishError() {
	if m == nil {
		return
	}
	m.EventPublishErrors.Inc()
}

// StreamOpened counts an open stream; call the returned func when it closes.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveStreams.Inc()
	return m.ActiveStreams.Dec
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
