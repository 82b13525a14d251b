package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	relayForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "relay",
			Name:      "forwarded_total",
			Help:      "Messages forwarded by the relay core.",
		},
		[]string{"relay", "direction"},
	)
	relayDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Messages dropped by the relay core, by reason.",
		},
		[]string{"relay", "reason"},
	)
	hookInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "hook",
			Name:      "invocations_total",
			Help:      "Per-frame hook invocations.",
		},
		[]string{"relay", "direction"},
	)
	hookFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "hook",
			Name:      "faults_total",
			Help:      "Hook failures degraded to pass-through.",
		},
		[]string{"relay", "direction"},
	)
	controlCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "control",
			Name:      "commands_total",
			Help:      "Control commands observed by the relay core.",
		},
		[]string{"relay", "kind"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total ops server HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relayctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Ops server HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			relayForwarded, relayDropped,
			hookInvocations, hookFaults,
			controlCommands,
			httpRequests, httpDuration,
		)
	})
}

func RecordForwarded(relay, direction string) {
	RegisterMetrics()
	relayForwarded.WithLabelValues(relay, direction).Inc()
}

func RecordDropped(relay, reason string) {
	RegisterMetrics()
	relayDropped.WithLabelValues(relay, reason).Inc()
}

func RecordHookInvocations(relay, direction string, invoked, faulted int) {
	RegisterMetrics()
	if invoked > 0 {
		hookInvocations.WithLabelValues(relay, direction).Add(float64(invoked))
	}
	if faulted > 0 {
		hookFaults.WithLabelValues(relay, direction).Add(float64(faulted))
	}
}

func RecordControlCommand(relay, kind string) {
	RegisterMetrics()
	controlCommands.WithLabelValues(relay, kind).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
