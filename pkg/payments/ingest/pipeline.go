// Package ingest implements the webhook ingestion pipeline: it authenticates
// raw provider callbacks, normalizes them, validates tenant and amount
// consistency against the local transaction, and applies the status
// transition exactly once under provider retries and concurrent delivery.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

// Pipeline drives one inbound provider notification through the ingestion
// steps. It is safe for concurrent use.
type Pipeline struct {
	registry *payments.Registry
	store    payments.Store
	logger   payments.Logger
	metrics  payments.Metrics
	now      func() time.Time

	// group collapses concurrent in-process deliveries of the same event
	// so only one of them reaches the store; the durable guarantee is the
	// store's atomic ApplyEvent.
	group singleflight.Group
}

// Config wires a Pipeline.
type Config struct {
	// Registry resolves the gateway named in the webhook route (required).
	Registry *payments.Registry

	// Store is the transaction aggregate + idempotency log (required).
	Store payments.Store

	// Logger is optional; defaults to NoopLogger.
	Logger payments.Logger

	// Metrics is optional; defaults to NoopMetrics.
	Metrics payments.Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates an ingestion pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &payments.NoopLogger{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &payments.NoopMetrics{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		registry: cfg.Registry,
		store:    cfg.Store,
		logger:   logger,
		metrics:  metrics,
		now:      now,
	}, nil
}

// Gateways lists the registered gateway names, for mounting one webhook
// route per gateway.
func (p *Pipeline) Gateways() []string { return p.registry.Names() }

// Result is the outcome of processing one delivery.
type Result struct {
	// Payload is the normalized event.
	Payload *payments.WebhookPayload

	// Outcome is the applied (or read-back) effect on the transaction.
	Outcome *payments.EventOutcome
}

// Process runs the ingestion state machine for one raw delivery:
// authenticate, parse, tenant check, amount check, idempotent apply.
//
// Error contract: a *payments.WebhookValidationError means the delivery was
// rejected at the edge and must not be retried by us (the provider gets a
// 4xx). payments.ErrTransactionNotFound and payments.ErrStoreUnavailable are
// retryable: no idempotency record was written, so the provider's next
// delivery can complete. A duplicate event is NOT an error; the prior
// outcome is returned with Outcome.Duplicate set.
func (p *Pipeline) Process(ctx context.Context, gatewayName string, r *http.Request, body []byte) (*Result, error) {
	g, err := p.registry.Resolve(gatewayName)
	if err != nil {
		return nil, err
	}
	receiver, ok := g.(payments.WebhookReceiver)
	if !ok {
		return nil, payments.CapabilityNotSupported(gatewayName, payments.CapabilityWebhooks)
	}

	// Step 1: authenticate. Nothing in the payload is trusted before this.
	if !receiver.VerifyWebhookSignature(r, body) {
		p.metrics.RecordWebhookError(gatewayName, "invalid_signature")
		p.logger.Warn("webhook signature verification failed",
			payments.Field{Key: "gateway", Value: gatewayName},
			payments.Field{Key: "remote_addr", Value: r.RemoteAddr},
		)
		return nil, payments.NewWebhookError(payments.WebhookInvalidSignature, gatewayName, "signature verification failed")
	}

	// Step 2: parse into the normalized payload.
	payload, err := receiver.ParseWebhookPayload(r, body)
	if err != nil {
		if errors.Is(err, payments.ErrEventIgnored) {
			p.logger.Debug("webhook event type ignored",
				payments.Field{Key: "gateway", Value: gatewayName},
			)
			return nil, err
		}
		p.metrics.RecordWebhookError(gatewayName, "invalid_payload")
		return nil, payments.NewWebhookError(payments.WebhookInvalidPayload, gatewayName, "payload could not be parsed").
			WithContext("parse_error", err.Error())
	}
	if payload.EventID == "" || payload.TransactionRef == "" {
		p.metrics.RecordWebhookError(gatewayName, "invalid_payload")
		return nil, payments.NewWebhookError(payments.WebhookInvalidPayload, gatewayName, "payload missing event id or transaction reference")
	}

	// Locate the local transaction. Absence is retryable: the intent row
	// may not have committed yet, and no idempotency record is written.
	tx, err := p.store.TransactionByRef(ctx, gatewayName, payload.TransactionRef)
	if err != nil {
		if errors.Is(err, payments.ErrTransactionNotFound) {
			p.metrics.RecordWebhookError(gatewayName, "transaction_not_found")
			p.logger.Warn("webhook references unknown transaction",
				payments.Field{Key: "gateway", Value: gatewayName},
				payments.Field{Key: "gateway_ref", Value: payload.TransactionRef},
				payments.Field{Key: "event_id", Value: payload.EventID},
			)
		}
		return nil, err
	}

	// Step 3: tenant check. Guards against cross-tenant payload confusion
	// when multiple tenants share one gateway account.
	if payload.TenantID != "" && payload.TenantID != tx.TenantID {
		p.metrics.RecordWebhookError(gatewayName, "tenant_mismatch")
		p.logger.Error("webhook tenant mismatch",
			payments.Field{Key: "gateway", Value: gatewayName},
			payments.Field{Key: "event_id", Value: payload.EventID},
			payments.Field{Key: "expected_tenant", Value: tx.TenantID},
			payments.Field{Key: "received_tenant", Value: payload.TenantID},
		)
		return nil, payments.NewWebhookError(payments.WebhookTenantMismatch, gatewayName, "payload tenant does not match transaction tenant").
			WithContext("expected", tx.TenantID).
			WithContext("received", payload.TenantID)
	}

	// Step 4: amount check against the amount recorded at intent creation.
	// Refund events may carry a partial amount; everything else must match
	// exactly.
	if payload.Amount > 0 && payload.Type != payments.EventRefund && payload.Amount != tx.Amount {
		p.metrics.RecordWebhookError(gatewayName, "amount_mismatch")
		p.logger.Error("webhook amount mismatch",
			payments.Field{Key: "gateway", Value: gatewayName},
			payments.Field{Key: "event_id", Value: payload.EventID},
			payments.Field{Key: "expected_amount", Value: tx.Amount},
			payments.Field{Key: "received_amount", Value: payload.Amount},
		)
		return nil, payments.NewWebhookError(payments.WebhookAmountMismatch, gatewayName, "payload amount does not match transaction amount").
			WithContext("expected", tx.Amount).
			WithContext("received", payload.Amount)
	}
	if payload.Type == payments.EventRefund && payload.Amount > tx.Amount {
		p.metrics.RecordWebhookError(gatewayName, "amount_mismatch")
		return nil, payments.NewWebhookError(payments.WebhookAmountMismatch, gatewayName, "refund amount exceeds transaction amount").
			WithContext("expected", tx.Amount).
			WithContext("received", payload.Amount)
	}

	// Steps 5+6: idempotency check and atomic apply. The store does both
	// as a unit; singleflight just keeps concurrent in-process deliveries
	// of the same event from racing to the store.
	key := gatewayName + ":" + payload.EventID
	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		return p.store.ApplyEvent(ctx, &payments.EventApplication{
			Gateway:       gatewayName,
			EventID:       payload.EventID,
			TransactionID: tx.ID,
			EventType:     payload.Type,
			Succeeded:     payload.Succeeded,
			OccurredAt:    payload.Timestamp,
		})
	})
	if err != nil {
		p.metrics.RecordWebhookError(gatewayName, "processing_error")
		return nil, err
	}
	outcome := v.(*payments.EventOutcome)

	status := "success"
	if outcome.Duplicate {
		status = "duplicate"
	}
	p.metrics.RecordWebhookEvent(gatewayName, string(payload.Type), status)
	if outcome.Applied && !outcome.Duplicate {
		p.metrics.RecordStatusTransition(gatewayName, string(tx.Status), string(outcome.Status))
	}

	p.logger.Info("webhook processed",
		payments.Field{Key: "gateway", Value: gatewayName},
		payments.Field{Key: "event_id", Value: payload.EventID},
		payments.Field{Key: "event_type", Value: string(payload.Type)},
		payments.Field{Key: "transaction_id", Value: tx.ID},
		payments.Field{Key: "status", Value: string(outcome.Status)},
		payments.Field{Key: "duplicate", Value: outcome.Duplicate},
		payments.Field{Key: "applied", Value: outcome.Applied},
	)

	return &Result{Payload: payload, Outcome: outcome}, nil
}
