// Package metrics provides Prometheus metrics for searchd.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alfredjeanlab/savedsearch/internal/model"
)

const namespace = "searchd"

// Metrics holds all Prometheus metrics for searchd. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Saved-search operation metrics
	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	ValidationFailures *prometheus.CounterVec
	ListedSearches     prometheus.Counter

	// Background work
	ExportRunsTotal       *prometheus.CounterVec
	ExportedSearchesTotal prometheus.Counter
	ShardReloadsTotal     *prometheus.CounterVec
}

// New creates all metrics on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := newMetrics(reg)
	m.registry = reg
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_operations_total",
			Help:      "Total number of saved-search operations by outcome",
		}, []string{"operation", "outcome"}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_operation_duration_seconds",
			Help:      "Duration of saved-search operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),

		ValidationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Rejected saved-search documents by offending property",
		}, []string{"field"}),

		ListedSearches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listed_searches_total",
			Help:      "Total number of saved searches returned by listings",
		}),

		ExportRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_runs_total",
			Help:      "Total number of export runs by status",
		}, []string{"status"}),

		ExportedSearchesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_searches_total",
			Help:      "Total number of saved searches written by exports",
		}),

		ShardReloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shard_directory_reloads_total",
			Help:      "Shard directory reloads by status",
		}, []string{"status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveOperation records a saved-search operation started at start.
func (m *Metrics) ObserveOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, Outcome(err)).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	var e *model.Error
	if errors.As(err, &e) && (e.Kind == model.KindInvalidInput || e.Kind == model.KindFieldTooLong) {
		field := e.Field
		if field == "" {
			field = "document"
		}
		m.ValidationFailures.WithLabelValues(field).Inc()
	}
}

// ObserveListed adds n to the number of searches returned by listings.
func (m *Metrics) ObserveListed(n int) {
	if m == nil {
		return
	}
	m.ListedSearches.Add(float64(n))
}

// ObserveExport records one export run.
func (m *Metrics) ObserveExport(searches int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ExportRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.ExportRunsTotal.WithLabelValues("ok").Inc()
	m.ExportedSearchesTotal.Add(float64(searches))
}

// ObserveShardReload records one shard directory reload.
func (m *Metrics) ObserveShardReload(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ShardReloadsTotal.WithLabelValues(status).Inc()
}

// Outcome classifies err for the outcome label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var e *model.Error
	if errors.As(err, &e) {
		return e.Kind.String()
	}
	return "error"
}
