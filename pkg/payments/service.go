package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service coordinates payment operations: it resolves the gateway, asserts
// the relevant capability, asserts business preconditions, invokes the
// provider, and normalizes the result into the common contracts. It is the
// entry point for checkout controllers and subscription billing.
type Service struct {
	registry *Registry
	store    Store
	logger   Logger
	metrics  Metrics
	now      func() time.Time
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	// Registry resolves gateways by name (required).
	Registry *Registry

	// Store persists transactions and saved methods (required).
	Store Store

	// Logger is optional; defaults to NoopLogger.
	Logger Logger

	// Metrics is optional; defaults to NoopMetrics.
	Metrics Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewService creates a payment service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		registry: cfg.Registry,
		store:    cfg.Store,
		logger:   logger,
		metrics:  metrics,
		now:      now,
	}, nil
}

// CreatePayment initiates a charge on the named gateway and records the
// local transaction aggregate. The returned result may be pending for
// redirect flows; the terminal outcome arrives through webhook ingestion.
func (s *Service) CreatePayment(ctx context.Context, gatewayName string, intent *PaymentIntent) (*PaymentResult, error) {
	g, err := s.registry.Resolve(gatewayName)
	if err != nil {
		return nil, err
	}
	if intent == nil || intent.Amount <= 0 {
		return nil, NewError(CodeInvalidAmount, gatewayName, "payment intent amount must be positive")
	}

	start := s.now()
	result, err := g.CreatePaymentIntent(ctx, intent)
	s.metrics.RecordGatewayOperationDuration(gatewayName, "create_intent", s.now().Sub(start))
	if err != nil {
		s.metrics.RecordGatewayOperation(gatewayName, "create_intent", "error")
		s.recordPaymentError(gatewayName, err)
		return nil, err
	}
	s.metrics.RecordGatewayOperation(gatewayName, "create_intent", "success")

	tx := &Transaction{
		ID:         uuid.NewString(),
		TenantID:   intent.TenantID,
		Gateway:    gatewayName,
		GatewayRef: result.TransactionRef,
		Amount:     intent.Amount,
		Currency:   intent.Currency,
		Status:     result.Status,
		CreatedAt:  s.now(),
		UpdatedAt:  s.now(),
		Metadata:   intent.Metadata,
	}
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	if tx.Status == StatusAuthorized {
		at := s.now()
		tx.AuthorizedAt = &at
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	s.logger.Info("payment created",
		Field{Key: "gateway", Value: gatewayName},
		Field{Key: "transaction_id", Value: tx.ID},
		Field{Key: "gateway_ref", Value: tx.GatewayRef},
		Field{Key: "amount", Value: tx.Amount},
		Field{Key: "currency", Value: tx.Currency},
	)
	return result, nil
}

// VerifyPayment queries the gateway for a transaction's current state,
// typically after a redirect callback, and applies a confirmed capture to
// the local aggregate.
func (s *Service) VerifyPayment(ctx context.Context, gatewayName, transactionRef string, data map[string]string) (*PaymentResult, error) {
	g, err := s.registry.Resolve(gatewayName)
	if err != nil {
		return nil, err
	}

	start := s.now()
	result, err := g.VerifyPayment(ctx, transactionRef, data)
	s.metrics.RecordGatewayOperationDuration(gatewayName, "verify", s.now().Sub(start))
	if err != nil {
		s.metrics.RecordGatewayOperation(gatewayName, "verify", "error")
		return nil, err
	}
	s.metrics.RecordGatewayOperation(gatewayName, "verify", "success")

	tx, err := s.store.TransactionByRef(ctx, gatewayName, transactionRef)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return result, nil
		}
		return nil, err
	}
	if result.Success && result.Status != tx.Status && CanTransition(tx.Status, result.Status) {
		if err := s.store.UpdateStatus(ctx, tx.ID, result.Status, s.now()); err != nil {
			return nil, err
		}
		s.metrics.RecordStatusTransition(gatewayName, string(tx.Status), string(result.Status))
	}
	return result, nil
}

// Refund reverses a captured transaction. Preconditions checked locally
// before any provider call: refund capability, captured status, partial
// refund support, and the gateway's refund window.
func (s *Service) Refund(ctx context.Context, gatewayName, transactionID string, amount int64, reason string) (*PaymentResult, error) {
	g, err := s.registry.Resolve(gatewayName)
	if err != nil {
		return nil, err
	}
	refunder, ok := g.(Refunder)
	if !ok {
		return nil, CapabilityNotSupported(gatewayName, CapabilityRefunds)
	}

	tx, err := s.store.Transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != StatusCaptured {
		return nil, NewError(CodeProcessingError, gatewayName, "only captured transactions can be refunded").
			WithContext("transaction_id", transactionID).
			WithContext("status", string(tx.Status))
	}
	if amount < 0 || amount > tx.Amount {
		return nil, NewError(CodeInvalidAmount, gatewayName, "refund amount exceeds transaction amount").
			WithContext("amount", amount).
			WithContext("transaction_amount", tx.Amount)
	}
	if amount > 0 && amount != tx.Amount && !refunder.SupportsPartialRefunds() {
		return nil, NewError(CodeProcessingError, gatewayName, "gateway does not support partial refunds")
	}
	if window := refunder.RefundWindow(); window != nil && tx.CapturedAt != nil {
		if s.now().After(tx.CapturedAt.Add(*window)) {
			return nil, NewError(CodeProcessingError, gatewayName, "refund window has elapsed").
				WithContext("captured_at", *tx.CapturedAt).
				WithContext("window", window.String())
		}
	}

	start := s.now()
	result, err := refunder.Refund(ctx, tx.GatewayRef, amount, reason)
	s.metrics.RecordGatewayOperationDuration(gatewayName, "refund", s.now().Sub(start))
	if err != nil {
		s.metrics.RecordGatewayOperation(gatewayName, "refund", "error")
		s.recordPaymentError(gatewayName, err)
		return nil, err
	}
	s.metrics.RecordGatewayOperation(gatewayName, "refund", "success")

	// The settled refund normally arrives by webhook; apply directly only
	// when the provider already reports it final.
	if result.Success && result.Status == StatusRefunded {
		if err := s.store.UpdateStatus(ctx, tx.ID, StatusRefunded, s.now()); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		s.metrics.RecordStatusTransition(gatewayName, string(tx.Status), string(StatusRefunded))
	}
	return result, nil
}

// Void cancels an authorized, not-yet-settled transaction. CanVoid runs
// locally first; a transaction outside the gateway's void window or already
// settled is rejected without a provider call.
func (s *Service) Void(ctx context.Context, gatewayName, transactionID, reason string) (*PaymentResult, error) {
	g, err := s.registry.Resolve(gatewayName)
	if err != nil {
		return nil, err
	}
	voider, ok := g.(Voider)
	if !ok {
		return nil, CapabilityNotSupported(gatewayName, CapabilityVoid)
	}

	tx, err := s.store.Transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !voider.CanVoid(tx, s.now()) {
		return nil, NewError(CodeProcessingError, gatewayName, "transaction cannot be voided").
			WithContext("transaction_id", transactionID).
			WithContext("status", string(tx.Status))
	}

	start := s.now()
	result, err := voider.Void(ctx, tx.GatewayRef, reason)
	s.metrics.RecordGatewayOperationDuration(gatewayName, "void", s.now().Sub(start))
	if err != nil {
		s.metrics.RecordGatewayOperation(gatewayName, "void", "error")
		s.recordPaymentError(gatewayName, err)
		return nil, err
	}
	s.metrics.RecordGatewayOperation(gatewayName, "void", "success")

	if result.Success && result.Status == StatusVoided {
		if err := s.store.UpdateStatus(ctx, tx.ID, StatusVoided, s.now()); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		s.metrics.RecordStatusTransition(gatewayName, string(tx.Status), string(StatusVoided))
	}
	return result, nil
}

// ChargeSavedMethod performs an off-session recurring charge of a saved
// payment method. The charge is rejected locally, without a provider call,
// when the method cannot recur or the minimum recurring interval has not
// elapsed since the last charge.
func (s *Service) ChargeSavedMethod(ctx context.Context, gatewayName, methodID string, amount int64, currency string, metadata map[string]string) (*PaymentResult, error) {
	g, err := s.registry.Resolve(gatewayName)
	if err != nil {
		return nil, err
	}
	recurring, ok := g.(RecurringCharger)
	if !ok {
		return nil, CapabilityNotSupported(gatewayName, CapabilityRecurring)
	}
	if amount <= 0 {
		return nil, NewError(CodeInvalidAmount, gatewayName, "recurring charge amount must be positive")
	}

	method, err := s.store.SavedMethod(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if !method.CanRecur {
		return nil, NewError(CodeProcessingError, gatewayName, "saved method does not allow recurring charges").
			WithContext("method_id", methodID)
	}

	interval := recurring.MinimumRecurringInterval()
	if method.MinRecurringInterval > interval {
		interval = method.MinRecurringInterval
	}
	if !method.LastChargedAt.IsZero() && s.now().Sub(method.LastChargedAt) < interval {
		return nil, NewError(CodeDuplicatePayment, gatewayName, "minimum recurring interval has not elapsed").
			WithContext("method_id", methodID).
			WithContext("last_charged_at", method.LastChargedAt).
			WithContext("minimum_interval", interval.String())
	}

	start := s.now()
	result, err := recurring.ChargeSavedMethod(ctx, method, amount, currency, metadata)
	s.metrics.RecordGatewayOperationDuration(gatewayName, "recurring_charge", s.now().Sub(start))
	if err != nil {
		s.metrics.RecordGatewayOperation(gatewayName, "recurring_charge", "error")
		s.recordPaymentError(gatewayName, err)
		return nil, err
	}
	s.metrics.RecordGatewayOperation(gatewayName, "recurring_charge", "success")

	if err := s.store.TouchSavedMethodCharge(ctx, methodID, s.now()); err != nil {
		s.logger.Error("failed to record last charge time",
			Field{Key: "method_id", Value: methodID},
			Field{Key: "error", Value: err.Error()},
		)
	}

	tx := &Transaction{
		ID:         uuid.NewString(),
		TenantID:   method.TenantID,
		Gateway:    gatewayName,
		GatewayRef: result.TransactionRef,
		Amount:     amount,
		Currency:   currency,
		Status:     result.Status,
		CreatedAt:  s.now(),
		UpdatedAt:  s.now(),
		Metadata:   metadata,
	}
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to record recurring transaction: %w", err)
	}
	return result, nil
}

// TokenizeCard exchanges raw card details for a reusable token on the named
// gateway and persists the saved method. Raw card data is discarded after
// the provider call.
func (s *Service) TokenizeCard(ctx context.Context, gatewayName, tenantID, userID string, card *CardDetails) (*TokenizationResult, error) {
	g, err := s.registry.Resolve(gatewayName)
	if err != nil {
		return nil, err
	}
	tokenizer, ok := g.(Tokenizer)
	if !ok {
		return nil, CapabilityNotSupported(gatewayName, CapabilityTokenization)
	}

	start := s.now()
	result, err := tokenizer.TokenizeCard(ctx, tenantID, card)
	s.metrics.RecordGatewayOperationDuration(gatewayName, "tokenize", s.now().Sub(start))
	if err != nil {
		s.metrics.RecordGatewayOperation(gatewayName, "tokenize", "error")
		s.recordPaymentError(gatewayName, err)
		return nil, err
	}
	s.metrics.RecordGatewayOperation(gatewayName, "tokenize", "success")

	if result.Success {
		method := &SavedPaymentMethod{
			ID:       uuid.NewString(),
			TenantID: tenantID,
			UserID:   userID,
			Gateway:  gatewayName,
			Token:    result.Token,
			Masked:   result.Masked,
			CanRecur: Supports(g, CapabilityRecurring),
		}
		if err := s.store.PutSavedMethod(ctx, method); err != nil {
			return nil, fmt.Errorf("failed to persist saved method: %w", err)
		}
	}
	return result, nil
}

func (s *Service) recordPaymentError(gateway string, err error) {
	var perr *Error
	if errors.As(err, &perr) {
		s.metrics.RecordPaymentError(gateway, string(perr.Code))
	}
}
