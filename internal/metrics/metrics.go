// Package metrics exposes Prometheus collectors for task execution, artifact
// lifecycle and the HTTP surface.
//
// Collectors are registered on a per-instance registry rather than the global
// default so several services (and tests) can coexist in one process. Every
// recording method is safe on a nil *Collector.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dlx"

// Collector groups the service's metrics.
type Collector struct {
	registry *prometheus.Registry

	// tasksSubmitted counts accepted submissions by kind.
	tasksSubmitted *prometheus.CounterVec

	// tasksFinished counts terminal transitions.
	// Labels:
	//   - kind: task kind
	//   - state: "completed" or "failed"
	//   - category: failure category, empty on success
	tasksFinished *prometheus.CounterVec

	// taskDuration tracks time from running to terminal in seconds.
	taskDuration *prometheus.HistogramVec

	// queueDepth is the number of submitted tasks not yet picked up by a worker.
	queueDepth prometheus.Gauge

	// tasksRunning is the number of tasks currently executing.
	tasksRunning prometheus.Gauge

	// artifactsPurged counts removed artifacts by reason ("delete", "expired", "failed").
	artifactsPurged *prometheus.CounterVec

	linksIssued prometheus.Counter

	// cacheLookups counts resolve cache lookups by result ("hit", "miss").
	cacheLookups *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a Collector registered on reg. A nil reg gets a fresh registry
// carrying the Go runtime and process collectors.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		tasksSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "The total number of accepted task submissions",
		}, []string{"kind"}),
		tasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "The total number of tasks that reached a terminal state",
		}, []string{"kind", "state", "category"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of task execution",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"kind"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of tasks waiting for a worker",
		}),
		tasksRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Number of tasks currently executing",
		}),
		artifactsPurged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_purged_total",
			Help:      "The total number of artifacts removed from the managed directory",
		}, []string{"reason"}),
		linksIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_issued_total",
			Help:      "The total number of temporary download links issued",
		}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_cache_lookups_total",
			Help:      "Resolve cache lookups by result",
		}, []string{"result"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) TaskSubmitted(kind string) {
	if c == nil {
		return
	}
	c.tasksSubmitted.WithLabelValues(kind).Inc()
	c.queueDepth.Inc()
}

func (c *Collector) TaskStarted() {
	if c == nil {
		return
	}
	c.queueDepth.Dec()
	c.tasksRunning.Inc()
}

func (c *Collector) TaskFinished(kind, state, category string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.tasksRunning.Dec()
	c.tasksFinished.WithLabelValues(kind, state, category).Inc()
	c.taskDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (c *Collector) ArtifactPurged(reason string) {
	if c == nil {
		return
	}
	c.artifactsPurged.WithLabelValues(reason).Inc()
}

func (c *Collector) LinkIssued() {
	if c == nil {
		return
	}
	c.linksIssued.Inc()
}

func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

func (c *Collector) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
