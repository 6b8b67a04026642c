// Package metrics provides Prometheus instrumentation for appstatus.
//
// Recorders are no-ops until Init is called with enabled set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "appstatus"

var (
	enabled  bool
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	discrepanciesTotal *prometheus.CounterVec

	rpcCallsTotal *prometheus.CounterVec
)

// Init sets up the collectors on a fresh registry. Calling it again
// discards everything recorded so far.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag

	if !enabled {
		registry = nil
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	constLabels := prometheus.Labels{"service": svcName}

	httpRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "http",
		Name:        "requests_total",
		Help:        "HTTP requests by route and status.",
		ConstLabels: constLabels,
	}, []string{"method", "route", "status"})

	httpDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   "http",
		Name:        "request_duration_seconds",
		Help:        "HTTP request latency.",
		ConstLabels: constLabels,
		Buckets:     prometheus.DefBuckets,
	}, []string{"method", "route"})

	runsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "status",
		Name:        "runs_total",
		Help:        "Reconciliation runs by network and result.",
		ConstLabels: constLabels,
	}, []string{"network", "result"})

	// Runs walk the full event history, so the buckets reach further than
	// the HTTP ones.
	runDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   "status",
		Name:        "run_duration_seconds",
		Help:        "Reconciliation run latency.",
		ConstLabels: constLabels,
		Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"network"})

	discrepanciesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "status",
		Name:        "discrepancies_total",
		Help:        "Discrepancies reported, by check.",
		ConstLabels: constLabels,
	}, []string{"check"})

	rpcCallsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "ledger",
		Name:        "rpc_calls_total",
		Help:        "Ledger JSON-RPC calls by method and outcome.",
		ConstLabels: constLabels,
	}, []string{"method", "status"})
}

// Handler serves the registry in the Prometheus exposition format. With
// metrics disabled it answers 404.
func Handler() http.Handler {
	if !enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Enabled reports whether Init enabled metrics.
func Enabled() bool {
	return enabled
}
