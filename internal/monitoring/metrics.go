// Package monitoring - metrics.go exports Prometheus metrics.
//
// DESIGN: One MetricsCollector per process, registered on its own registry
// so tests can build as many as they like:
//   - files:       admitted, outcomes by status, bytes in/out
//   - batches:     count and duration
//   - suggestions: attached suggestions
//   - http:        requests by route and status, intake rejections
//   - sessions:    live session gauge
//
// Pipeline metrics are fed by Listener(); HTTP metrics by the server.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/compresr/shrinker/internal/pipeline"
)

const namespace = "shrinker"

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	registry *prometheus.Registry

	FilesAdmitted   prometheus.Counter
	FileOutcomes    *prometheus.CounterVec
	BytesIn         prometheus.Counter
	BytesOut        prometheus.Counter
	BatchesTotal    prometheus.Counter
	BatchDuration   prometheus.Histogram
	ActiveBatches   prometheus.Gauge
	Suggestions     prometheus.Counter
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Rejections      *prometheus.CounterVec
	Sessions        prometheus.Gauge
}

// NewMetricsCollector creates a collector with a fresh registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &MetricsCollector{
		registry: reg,
		FilesAdmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_admitted_total",
			Help:      "Total number of files admitted into a queue",
		}),
		FileOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_outcomes_total",
			Help:      "Terminal compression outcomes by status",
		}, []string{"status"}),
		BytesIn: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_in_total",
			Help:      "Source bytes of completed files",
		}),
		BytesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_out_total",
			Help:      "Output bytes of completed files",
		}),
		BatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of finished batches",
		}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of batches in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		ActiveBatches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_batches",
			Help:      "Batches currently running",
		}),
		Suggestions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_total",
			Help:      "Suggestions attached to files",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_rejections_total",
			Help:      "Files refused at intake by reason",
		}, []string{"reason"}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live sessions",
		}),
	}
}

// Listener returns a pipeline listener that feeds the file and batch metrics.
// Outcomes are taken from the batch summary, since file_updated also fires
// for configuration changes on files that are already Done.
func (mc *MetricsCollector) Listener() pipeline.Listener {
	return func(ev pipeline.Event) {
		switch ev.Kind {
		case pipeline.EventBatchStarted:
			mc.ActiveBatches.Inc()
		case pipeline.EventBatchCompleted:
			mc.ActiveBatches.Dec()
			mc.BatchesTotal.Inc()
			if s := ev.Summary; s != nil {
				mc.BatchDuration.Observe(s.Duration.Seconds())
				mc.FileOutcomes.WithLabelValues(string(pipeline.StatusDone)).Add(float64(s.Done))
				mc.FileOutcomes.WithLabelValues(string(pipeline.StatusError)).Add(float64(s.Failed))
				mc.FileOutcomes.WithLabelValues("already_optimized").Add(float64(s.AlreadyOptimized))
				mc.BytesIn.Add(float64(s.BytesIn))
				mc.BytesOut.Add(float64(s.BytesOut))
			}
		case pipeline.EventSuggestionReady:
			mc.Suggestions.Inc()
		}
	}
}

// RecordAdmitted counts files that entered a queue.
func (mc *MetricsCollector) RecordAdmitted(n int) {
	mc.FilesAdmitted.Add(float64(n))
}

// RecordRejection counts a file refused at intake.
func (mc *MetricsCollector) RecordRejection(reason string) {
	mc.Rejections.WithLabelValues(reason).Inc()
}

// RecordRequest records a served HTTP request.
func (mc *MetricsCollector) RecordRequest(route string, code int, d time.Duration) {
	mc.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	mc.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}
