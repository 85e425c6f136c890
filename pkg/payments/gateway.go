package payments

import (
	"context"
	"net/http"
	"time"
)

// Capability names an optional gateway contract. A gateway advertises a
// capability by implementing the corresponding interface; callers must check
// before invoking.
type Capability string

const (
	CapabilityTokenization Capability = "tokenization"
	CapabilityRecurring    Capability = "recurring"
	CapabilityRefunds      Capability = "refunds"
	CapabilityVoid         Capability = "void"
	CapabilityWebhooks     Capability = "webhooks"
)

// Gateway is the base contract every payment provider integration must
// satisfy. Optional operations live in separate capability interfaces
// (Tokenizer, RecurringCharger, Refunder, Voider, WebhookReceiver) so that a
// provider never has to stub operations it cannot perform.
type Gateway interface {
	// Name returns the gateway identifier, e.g. "paymob".
	Name() string

	// DisplayName returns the human-readable, localized name.
	DisplayName() string

	// IsConfigured reports whether all required credentials are present.
	// The registry refuses to resolve unconfigured gateways so that missing
	// keys fail fast at the call site, not deep inside a provider call.
	IsConfigured() bool

	// SupportedMethods lists the instrument kinds this gateway accepts.
	SupportedMethods() []MethodKind

	// FlowType declares how this gateway collects payment details.
	FlowType() FlowType

	// BaseURL returns the provider API base for the active environment.
	BaseURL() string

	// Sandbox reports whether the gateway points at the provider's test
	// environment.
	Sandbox() bool

	// CreatePaymentIntent initiates a charge. For redirect flows the result
	// is pending and carries a RedirectURL; the terminal outcome arrives by
	// webhook. Never retried automatically: a blind retry could double
	// charge unless the gateway honors the intent's idempotency key.
	CreatePaymentIntent(ctx context.Context, intent *PaymentIntent) (*PaymentResult, error)

	// VerifyPayment queries the provider for the current state of a
	// transaction, typically after a redirect callback.
	VerifyPayment(ctx context.Context, transactionRef string, data map[string]string) (*PaymentResult, error)
}

// Tokenizer is the optional card tokenization capability.
type Tokenizer interface {
	// TokenizeCard exchanges raw card details for an opaque reusable token.
	// Card data is never persisted by this library.
	TokenizeCard(ctx context.Context, tenantID string, card *CardDetails) (*TokenizationResult, error)

	// ChargeToken charges a previously issued token.
	ChargeToken(ctx context.Context, token string, intent *PaymentIntent) (*PaymentResult, error)

	// DeleteToken invalidates a token at the provider.
	DeleteToken(ctx context.Context, token string) error

	// TokenDetails returns the masked descriptor for a token.
	TokenDetails(ctx context.Context, token string) (*MaskedCard, error)
}

// RecurringCharger is the optional off-session recurring charge capability.
type RecurringCharger interface {
	// ChargeSavedMethod charges a saved payment method off-session.
	ChargeSavedMethod(ctx context.Context, method *SavedPaymentMethod, amount int64, currency string, metadata map[string]string) (*PaymentResult, error)

	// MinimumRecurringInterval is the gateway-declared floor between
	// consecutive charges of the same method.
	MinimumRecurringInterval() time.Duration
}

// Refunder is the optional refund capability. Refunds apply to settled
// (captured) transactions and may be fee-bearing.
type Refunder interface {
	// Refund reverses a captured transaction. amount == 0 means full
	// refund; partial amounts require SupportsPartialRefunds.
	Refund(ctx context.Context, transactionRef string, amount int64, reason string) (*PaymentResult, error)

	// SupportsPartialRefunds reports whether amounts below the original
	// charge are accepted.
	SupportsPartialRefunds() bool

	// RefundWindow is the provider-declared window after capture in which
	// refunds are accepted. Nil means no limit.
	RefundWindow() *time.Duration
}

// Voider is the optional void capability. Void cancels an authorized,
// not-yet-settled transaction fee-free.
type Voider interface {
	// Void cancels an authorized transaction.
	Void(ctx context.Context, transactionRef string, reason string) (*PaymentResult, error)

	// VoidWindow is the provider-declared window after authorization in
	// which voids are accepted. Nil means no limit.
	VoidWindow() *time.Duration

	// CanVoid checks both the transaction's current state and the time
	// window. Settlement (capture) closes the window regardless of time.
	CanVoid(tx *Transaction, now time.Time) bool
}

// WebhookReceiver is the optional inbound notification capability.
type WebhookReceiver interface {
	// VerifyWebhookSignature authenticates a raw delivery. It must be
	// called before any part of the payload is trusted.
	VerifyWebhookSignature(r *http.Request, body []byte) bool

	// ParseWebhookPayload normalizes an authenticated delivery.
	ParseWebhookPayload(r *http.Request, body []byte) (*WebhookPayload, error)

	// WebhookSecret returns the shared secret used for verification.
	WebhookSecret() []byte

	// SupportedWebhookEvents lists the event types this gateway emits.
	SupportedWebhookEvents() []EventType
}

// Supports reports whether a gateway implements the given capability. Plain
// type assertions; no reflection.
func Supports(g Gateway, c Capability) bool {
	switch c {
	case CapabilityTokenization:
		_, ok := g.(Tokenizer)
		return ok
	case CapabilityRecurring:
		_, ok := g.(RecurringCharger)
		return ok
	case CapabilityRefunds:
		_, ok := g.(Refunder)
		return ok
	case CapabilityVoid:
		_, ok := g.(Voider)
		return ok
	case CapabilityWebhooks:
		_, ok := g.(WebhookReceiver)
		return ok
	default:
		return false
	}
}
