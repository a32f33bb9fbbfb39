package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodenexus",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodenexus",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodenexus",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.56s
		},
		[]string{"method", "path"},
	)

	agentSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodenexus",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Current number of live agent sessions held by the session manager.",
		},
	)

	agentSessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodenexus",
			Subsystem: "sessions",
			Name:      "events_total",
			Help:      "Agent session lifecycle events grouped by kind (connect|disconnect|evicted_stale).",
		},
		[]string{"kind"},
	)

	broadcastFanout = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodenexus",
			Subsystem: "broadcast",
			Name:      "messages_total",
			Help:      "Total debounced broadcast messages emitted to subscribers, grouped by topic.",
		},
		[]string{"topic"},
	)

	broadcastDebounceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodenexus",
			Subsystem: "broadcast",
			Name:      "debounce_latency_seconds",
			Help:      "Time between a topic's first coalesced update and the flushed broadcast.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"topic"},
	)

	batchTasksDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodenexus",
			Subsystem: "batch",
			Name:      "child_tasks_total",
			Help:      "Child command tasks dispatched to agents, grouped by terminal status.",
		},
		[]string{"status"},
	)

	batchParentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodenexus",
			Subsystem: "batch",
			Name:      "parent_duration_seconds",
			Help:      "Wall-clock duration of a batch command task from dispatch to parent completion.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"status"},
	)

	alertEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodenexus",
			Subsystem: "alerts",
			Name:      "evaluations_total",
			Help:      "Alert rule evaluations grouped by outcome (triggered|cleared|suppressed_cooldown|ok).",
		},
		[]string{"outcome"},
	)

	trafficResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodenexus",
			Subsystem: "traffic",
			Name:      "cycle_resets_total",
			Help:      "Traffic-cycle counter resets performed by the traffic-cycle manager.",
		},
		[]string{"reason"},
	)

	renewalChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodenexus",
			Subsystem: "renewal",
			Name:      "checks_total",
			Help:      "Renewal scheduler sweep outcomes grouped by result (reminder_armed|reminder_dismissed|no_op).",
		},
		[]string{"result"},
	)

	writerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodenexus",
			Subsystem: "writer",
			Name:      "queue_depth",
			Help:      "Current number of pending performance snapshots awaiting a storage write.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		agentSessionsActive,
		agentSessionEvents,
		broadcastFanout,
		broadcastDebounceLatency,
		batchTasksDispatched,
		batchParentDuration,
		alertEvaluations,
		trafficResets,
		renewalChecks,
		writerQueueDepth,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// SetActiveSessions publishes the current live agent session count.
func SetActiveSessions(n int) {
	agentSessionsActive.Set(float64(n))
}

// RecordSessionEvent increments the session lifecycle counter for kind.
func RecordSessionEvent(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	agentSessionEvents.WithLabelValues(kind).Inc()
}

// RecordBroadcast records a flushed broadcast for topic and the latency since
// the debounce window opened.
func RecordBroadcast(topic string, debounceLatency time.Duration) {
	if topic == "" {
		topic = "unknown"
	}
	broadcastFanout.WithLabelValues(topic).Inc()
	if debounceLatency > 0 {
		broadcastDebounceLatency.WithLabelValues(topic).Observe(debounceLatency.Seconds())
	}
}

// RecordChildTask records a child command task's terminal status.
func RecordChildTask(status string) {
	if status == "" {
		status = "unknown"
	}
	batchTasksDispatched.WithLabelValues(status).Inc()
}

// RecordBatchParentCompletion records a parent batch task's outcome and its
// end-to-end duration.
func RecordBatchParentCompletion(status string, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	if duration < 0 {
		duration = 0
	}
	batchParentDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordAlertEvaluation records a single alert-rule evaluation outcome.
func RecordAlertEvaluation(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	alertEvaluations.WithLabelValues(outcome).Inc()
}

// RecordTrafficReset records a traffic-cycle counter reset.
func RecordTrafficReset(reason string) {
	if reason == "" {
		reason = "scheduled"
	}
	trafficResets.WithLabelValues(reason).Inc()
}

// RecordRenewalCheck records a renewal-scheduler sweep outcome.
func RecordRenewalCheck(result string) {
	if result == "" {
		result = "no_op"
	}
	renewalChecks.WithLabelValues(result).Inc()
}

// SetWriterQueueDepth publishes the current depth of the metric writer queue.
func SetWriterQueueDepth(depth int) {
	writerQueueDepth.Set(float64(depth))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return "/"
	}
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	// collapse the first path segment's own identifier (e.g. /hosts/:id) so the
	// histogram/counter label cardinality stays bounded.
	return "/" + parts[0] + "/:id"
}
