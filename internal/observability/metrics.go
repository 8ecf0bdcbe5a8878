package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_http_requests_total",
			Help: "Total number of HTTP requests processed by the sync daemon.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_sync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	remoteOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_remote_operations_total",
			Help: "Remote store operations by outcome (ok, transient, rejected, error).",
		},
		[]string{"operation", "resource", "outcome"},
	)
	remoteOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_sync_remote_operation_duration_seconds",
			Help:    "Remote store operation latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_realtime_events_total",
			Help: "Change events delivered to subscription handlers.",
		},
		[]string{"resource", "type"},
	)
	derivationPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_derivation_passes_total",
			Help: "Conversation list derivation passes by outcome (applied, stale, failed).",
		},
		[]string{"outcome"},
	)
	derivationPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_sync_derivation_pass_duration_seconds",
			Help:    "Conversation list derivation pass latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	messageSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_message_sends_total",
			Help: "Optimistic message sends by outcome (confirmed, failed, discarded).",
		},
		[]string{"outcome"},
	)
	readStateErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sync_read_state_errors_total",
			Help: "Read-state lookups that failed and were treated as read.",
		},
	)
	inconsistentStateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_inconsistent_state_total",
			Help: "Multi-step writes that left partial state behind.",
		},
		[]string{"operation"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sync_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_ws_events_total",
			Help: "Total number of websocket events pushed to local clients.",
		},
		[]string{"event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		remoteOperationsTotal,
		remoteOperationDuration,
		realtimeEventsTotal,
		derivationPassesTotal,
		derivationPassDuration,
		messageSendsTotal,
		readStateErrorsTotal,
		inconsistentStateTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func ObserveRemoteOperation(operation, resource, outcome string, elapsed time.Duration) {
	remoteOperationsTotal.WithLabelValues(operation, resource, outcome).Inc()
	remoteOperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func IncRealtimeEvent(resource, eventType string) {
	realtimeEventsTotal.WithLabelValues(resource, eventType).Inc()
}

func ObserveDerivationPass(outcome string, elapsed time.Duration) {
	derivationPassesTotal.WithLabelValues(outcome).Inc()
	derivationPassDuration.Observe(elapsed.Seconds())
}

func IncMessageSend(outcome string) {
	messageSendsTotal.WithLabelValues(outcome).Inc()
}

func IncReadStateError() {
	readStateErrorsTotal.Inc()
}

func IncInconsistentState(operation string) {
	inconsistentStateTotal.WithLabelValues(operation).Inc()
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
