package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendRequestsTotal counts backend round trips by component and status.
	BackendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shisuka_backend_requests_total",
		Help: "Total number of backend requests by component and HTTP status",
	}, []string{"component", "method", "status"})

	// BackendRequestLatency records backend round-trip latency.
	BackendRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shisuka_backend_request_latency_seconds",
		Help:    "Backend request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "method"})

	// BackendRetriesTotal counts retried requests by component.
	BackendRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shisuka_backend_retries_total",
		Help: "Total number of retried backend requests",
	}, []string{"component"})

	// RealtimeConnected is 1 while the realtime websocket is connected.
	RealtimeConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shisuka_realtime_connected",
		Help: "Whether the realtime websocket connection is established",
	})

	// RealtimeEventsTotal counts realtime events by topic.
	RealtimeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shisuka_realtime_events_total",
		Help: "Total realtime events received by topic",
	}, []string{"topic"})

	// StateDroppedUpdates counts state-store notifications dropped because a
	// subscriber channel was full.
	StateDroppedUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shisuka_state_dropped_updates_total",
		Help: "Total state updates dropped due to slow subscribers",
	}, []string{"store"})
)

// ObserveBackendRequest records the metrics for one completed round trip.
func ObserveBackendRequest(component, method string, status int, start time.Time, retried bool) {
	BackendRequestsTotal.WithLabelValues(component, method, strconv.Itoa(status)).Inc()
	BackendRequestLatency.WithLabelValues(component, method).Observe(time.Since(start).Seconds())
	if retried {
		BackendRetriesTotal.WithLabelValues(component).Inc()
	}
}
