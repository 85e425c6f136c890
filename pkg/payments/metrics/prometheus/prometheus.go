// Package prommetrics provides a Prometheus implementation of the
// payments.Metrics interface.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements payments.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	gatewayOperationsTotal    *prometheus.CounterVec
	gatewayOperationDuration  *prometheus.HistogramVec
	statusTransitionsTotal    *prometheus.CounterVec
	paymentErrorsTotal        *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation for payment
// operations.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Total number of webhook events received from payment gateways.",
		}, []string{"gateway", "event_type", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of webhook ingestion in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "event_type"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook ingestion errors.",
		}, []string{"gateway", "error_type"}),

		gatewayOperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "gateway_operations_total",
			Help:      "Total number of outbound gateway operations.",
		}, []string{"gateway", "operation", "status"}),

		gatewayOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "gateway_operation_duration_seconds",
			Help:      "Duration of outbound gateway operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "operation"}),

		statusTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "status_transitions_total",
			Help:      "Total number of transaction status transitions.",
		}, []string{"gateway", "from", "to"}),

		paymentErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "payment_errors_total",
			Help:      "Total number of structured payment failures by code.",
		}, []string{"gateway", "code"}),
	}
}

// DefaultMetrics creates metrics registered on the default Prometheus
// registry.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

func (m *Metrics) RecordWebhookEvent(gateway, eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(gateway, eventType, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(gateway, eventType string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(gateway, eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(gateway, errorType string) {
	m.webhookErrorsTotal.WithLabelValues(gateway, errorType).Inc()
}

func (m *Metrics) RecordGatewayOperation(gateway, operation, status string) {
	m.gatewayOperationsTotal.WithLabelValues(gateway, operation, status).Inc()
}

func (m *Metrics) RecordGatewayOperationDuration(gateway, operation string, duration time.Duration) {
	m.gatewayOperationDuration.WithLabelValues(gateway, operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordStatusTransition(gateway, from, to string) {
	m.statusTransitionsTotal.WithLabelValues(gateway, from, to).Inc()
}

func (m *Metrics) RecordPaymentError(gateway, code string) {
	m.paymentErrorsTotal.WithLabelValues(gateway, code).Inc()
}
