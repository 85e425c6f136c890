package payments

import "time"

// Metrics defines the interface for tracking payment operations.
// All methods are optional - components should gracefully handle nil metrics
// by substituting NoopMetrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from a gateway.
	// status: "success", "duplicate" or "error"
	RecordWebhookEvent(gateway, eventType, status string)

	// RecordWebhookProcessingDuration records how long ingestion took.
	RecordWebhookProcessingDuration(gateway, eventType string, duration time.Duration)

	// RecordWebhookError records an ingestion failure.
	// errorType: "invalid_signature", "invalid_payload", "tenant_mismatch",
	// "amount_mismatch", "transaction_not_found", "processing_error"
	RecordWebhookError(gateway, errorType string)

	// RecordGatewayOperation records an outbound gateway operation.
	// operation: "create_intent", "verify", "refund", "void", "tokenize",
	// "recurring_charge"; status: "success" or "error"
	RecordGatewayOperation(gateway, operation, status string)

	// RecordGatewayOperationDuration records provider round-trip latency.
	RecordGatewayOperationDuration(gateway, operation string, duration time.Duration)

	// RecordStatusTransition records a transaction status change.
	RecordStatusTransition(gateway, from, to string)

	// RecordPaymentError records a structured payment failure by code.
	RecordPaymentError(gateway, code string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordGatewayOperation(_, _, _ string)                        {}
func (n *NoopMetrics) RecordGatewayOperationDuration(_, _ string, _ time.Duration)  {}
func (n *NoopMetrics) RecordStatusTransition(_, _, _ string)                        {}
func (n *NoopMetrics) RecordPaymentError(_, _ string)                               {}
