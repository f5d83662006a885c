package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppv_http_requests_total",
			Help: "Total number of HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ppv_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	ActionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppv_action_requests_total",
			Help: "Total number of access endpoint calls by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// Device sessions

	DeviceAdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppv_device_admissions_total",
			Help: "Device admission decisions",
		},
		[]string{"path", "outcome"}, // outcome: known, new, denied
	)

	DeviceSessionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ppv_device_sessions_swept_total",
			Help: "Device sessions reclaimed by the inactivity sweep",
		},
	)

	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppv_heartbeats_total",
			Help: "Heartbeats by outcome",
		},
		[]string{"outcome"},
	)

	ViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppv_security_violations_total",
			Help: "Security violations recorded by type and resulting action",
		},
		[]string{"type", "action"},
	)

	// Fulfillment

	FulfillmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppv_fulfillments_total",
			Help: "Idempotent completions by source and result",
		},
		[]string{"source", "result"}, // result: created, replayed
	)

	RefundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppv_refunds_total",
			Help: "Refund revocations by result",
		},
		[]string{"result"},
	)

	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppv_payment_webhooks_total",
			Help: "Payment provider webhook deliveries by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	SecurityGateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppv_security_gate_decisions_total",
			Help: "Security gate verdicts by action",
		},
		[]string{"action", "outcome"}, // outcome: allowed, blocked, unavailable
	)

	// External collaborators

	ExternalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ppv_external_call_duration_seconds",
			Help:    "Duration of calls to external collaborators",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"collaborator", "operation", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ppv_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppv_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Outbox

	OutboxRelayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ppv_outbox_relayed_total",
			Help: "Outbox rows processed by event type and outcome",
		},
		[]string{"event_type", "outcome"}, // outcome: published, retry, dead_lettered
	)
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordExternalCall records one outbound collaborator call.
func RecordExternalCall(collaborator, operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ExternalCallDuration.WithLabelValues(collaborator, operation, status).Observe(duration.Seconds())
}
