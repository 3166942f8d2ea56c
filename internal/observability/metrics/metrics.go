package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_operations_total",
			Help: "Total number of query and mutation calls by outcome code.",
		},
		[]string{"kind", "name", "code"},
	)

	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_commits_total",
			Help: "Total number of committed write transactions.",
		},
		[]string{"mutation"},
	)

	InvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_invalidations_total",
			Help: "Total number of subscriptions enqueued for re-evaluation.",
		},
		[]string{"reason"},
	)

	ReconcilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_reconciles_total",
			Help: "Total number of subscription re-evaluations by outcome.",
		},
		[]string{"query", "outcome"},
	)

	PushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_pushes_total",
			Help: "Total number of results pushed to observers.",
		},
		[]string{"outcome"},
	)

	LiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "livechat_live_subscriptions",
			Help: "Number of live shared subscriptions.",
		},
	)

	WebSocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "livechat_websocket_connections",
			Help: "Number of open WebSocket connections.",
		},
	)
)

// MustRegister registers every collector with the default registry, with a
// constant service label. Collectors work unregistered, so tests never
// call it.
func MustRegister(serviceName string) {
	registerOnce.Do(func() {
		reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
		reg.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			OperationsTotal,
			CommitsTotal,
			InvalidationsTotal,
			ReconcilesTotal,
			PushesTotal,
			LiveSubscriptions,
			WebSocketConnections,
		)
	})
}
