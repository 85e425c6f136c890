package payments

import (
	"fmt"
	"strings"
	"time"
)

// Status is the normalized lifecycle state of a transaction, shared by every
// gateway regardless of the provider's own status vocabulary.
type Status string

const (
	// StatusPending means the intent was created but the provider has not
	// reported a final outcome yet (redirect flows sit here until callback).
	StatusPending Status = "pending"

	// StatusAuthorized means funds are reserved but not yet settled.
	// A transaction in this state can still be voided fee-free.
	StatusAuthorized Status = "authorized"

	// StatusCaptured means funds are settled. Settlement closes the void
	// window; reversal from here on is a refund.
	StatusCaptured Status = "captured"

	// StatusFailed is a terminal provider or business failure.
	StatusFailed Status = "failed"

	// StatusRefunded means a settled transaction was reversed.
	StatusRefunded Status = "refunded"

	// StatusVoided means an authorized transaction was cancelled before
	// settlement.
	StatusVoided Status = "voided"
)

// FlowType describes how a gateway collects payment details.
type FlowType string

const (
	// FlowRedirect sends the customer to a provider-hosted page.
	FlowRedirect FlowType = "redirect"

	// FlowHostedFields embeds provider-hosted input fields in the merchant page.
	FlowHostedFields FlowType = "hosted_fields"

	// FlowServerToServer passes payment details through the merchant backend.
	FlowServerToServer FlowType = "server_to_server"
)

// MethodKind identifies a class of payment instrument.
type MethodKind string

const (
	MethodCard   MethodKind = "card"
	MethodWallet MethodKind = "wallet"
	MethodBank   MethodKind = "bank_transfer"
	MethodCash   MethodKind = "cash"
	MethodToken  MethodKind = "token"
)

// CardDetails holds raw card input for server-to-server flows. It is passed
// through to the gateway and never persisted; only gateway-issued tokens are
// stored.
type CardDetails struct {
	Number     string
	HolderName string
	ExpMonth   int
	ExpYear    int
	CVC        string
}

// MaskedCard is the persistable descriptor of a tokenized card.
type MaskedCard struct {
	LastFour string `json:"last_four"`
	Brand    string `json:"brand"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// MethodDescriptor selects the instrument for a payment intent: raw card
// fields, a saved-token reference, or nothing for redirect flows where the
// provider collects the details itself.
type MethodDescriptor struct {
	Kind MethodKind

	// Card is set for server-to-server card payments. Never persisted.
	Card *CardDetails

	// Token references a previously tokenized instrument.
	Token string
}

// PaymentIntent describes a requested charge. Amounts are integer minor
// units (halalas, cents); floating point is never used for money.
// An intent is immutable once constructed.
type PaymentIntent struct {
	// Amount in minor units of Currency.
	Amount int64

	// Currency is an ISO 4217 code, e.g. "SAR", "EGP".
	Currency string

	// TenantID scopes the charge to one tenant (academy) on a shared
	// gateway account.
	TenantID string

	// Method selects the payment instrument.
	Method MethodDescriptor

	// IdempotencyKey is supplied by the caller and forwarded to gateways
	// that honor idempotent create semantics.
	IdempotencyKey string

	// SuccessURL and CancelURL drive redirect flows.
	SuccessURL string
	CancelURL  string

	// WebhookURL is where the provider should deliver lifecycle events.
	WebhookURL string

	// Metadata is free-form caller context (subscription id, invoice id).
	// It travels to the provider and comes back on webhooks.
	Metadata map[string]string
}

// NewPaymentIntent validates and builds an intent.
func NewPaymentIntent(amount int64, currency, tenantID string, method MethodDescriptor) (*PaymentIntent, error) {
	if amount <= 0 {
		return nil, &Error{Code: CodeInvalidAmount, Message: fmt.Sprintf("amount must be positive, got %d", amount)}
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, &Error{Code: CodeInvalidAmount, Message: fmt.Sprintf("invalid currency %q", currency)}
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, &Error{Code: CodeProcessingError, Message: "tenant id is required"}
	}
	return &PaymentIntent{
		Amount:   amount,
		Currency: currency,
		TenantID: tenantID,
		Method:   method,
	}, nil
}

// PaymentResult is the outcome of any gateway operation (create, verify,
// refund, void, recurring charge).
type PaymentResult struct {
	// Success reports whether the operation itself succeeded. A pending
	// redirect-flow result is a success; the terminal outcome arrives via
	// webhook.
	Success bool

	// TransactionRef is the gateway-side transaction reference.
	TransactionRef string

	// Status is the normalized transaction status after this operation.
	Status Status

	// Amount actually processed, in minor units.
	Amount int64

	// Currency of the processed amount.
	Currency string

	// RedirectURL is set for redirect flows; the caller sends the customer
	// there to complete payment.
	RedirectURL string

	// Raw is the provider's response payload, retained for audit.
	Raw map[string]any

	// Err carries the structured failure when Success is false.
	Err *Error
}

// TokenizationResult is the outcome of saving a payment method.
type TokenizationResult struct {
	Success bool

	// Token is an opaque gateway-issued reference. The core never stores
	// raw card data.
	Token string

	Masked MaskedCard

	Err *Error
}

// EventType classifies an inbound provider notification.
type EventType string

const (
	// EventTransaction reports a transaction outcome (capture or failure).
	EventTransaction EventType = "transaction"

	// EventRefund reports a settled refund.
	EventRefund EventType = "refund"

	// EventVoid confirms a void.
	EventVoid EventType = "void"

	// EventSubscriptionCharge reports a recurring charge outcome.
	EventSubscriptionCharge EventType = "subscription_charge"
)

// WebhookPayload is the normalized form of an authenticated inbound provider
// notification. Immutable once parsed.
type WebhookPayload struct {
	// EventID is the provider's event identifier, used for deduplication.
	EventID string

	// Type classifies the event.
	Type EventType

	// Succeeded reports the provider-side outcome of the event. A failed
	// transaction event transitions the local transaction to failed.
	Succeeded bool

	// TransactionRef is the gateway transaction reference the event is about.
	TransactionRef string

	// Amount in minor units, as declared by the provider.
	Amount int64

	// Currency as declared by the provider.
	Currency string

	// TenantID is the tenant declared in the payload metadata. It must
	// match the tenant recorded on the local transaction.
	TenantID string

	// Timestamp is when the event occurred at the provider.
	Timestamp time.Time

	// Raw is the parsed provider payload, retained for audit.
	Raw map[string]any
}

// SavedPaymentMethod is a persisted token plus ownership and recurring
// capability metadata. The core reads it to build recurring charges but does
// not own its lifecycle.
type SavedPaymentMethod struct {
	ID       string
	TenantID string
	UserID   string
	Gateway  string
	Token    string
	Masked   MaskedCard

	// CanRecur reports whether the instrument may be charged off-session.
	CanRecur bool

	// MinRecurringInterval is the method-level floor between charges.
	// The effective floor is the larger of this and the gateway's declared
	// minimum.
	MinRecurringInterval time.Duration

	// LastChargedAt is zero if the method was never charged.
	LastChargedAt time.Time
}

// Transaction is the local aggregate view of one payment, keyed by the
// internal id and the gateway reference.
type Transaction struct {
	ID         string
	TenantID   string
	Gateway    string
	GatewayRef string
	Amount     int64
	Currency   string
	Status     Status

	// AuthorizedAt and CapturedAt bound the void and refund windows.
	AuthorizedAt *time.Time
	CapturedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Metadata map[string]string
}

// ProcessedEventRecord is the durable dedup row for one accepted provider
// event. The (Gateway, EventID) pair is unique; the record is never updated,
// only optionally pruned after a retention window.
type ProcessedEventRecord struct {
	Gateway     string
	EventID     string
	ProcessedAt time.Time
	Outcome     EventOutcome
}

// EventOutcome is what applying (or having already applied) an event
// produced. Losers of a concurrent-delivery race read back the winner's
// outcome from here.
type EventOutcome struct {
	// TransactionID is the local transaction the event was applied to.
	TransactionID string `json:"transaction_id"`

	// Status is the transaction status after the event.
	Status Status `json:"status"`

	// Applied is false when the event was accepted but produced no state
	// change (out-of-order or business no-op).
	Applied bool `json:"applied"`

	// Duplicate is true when this outcome was read back from the
	// idempotency store rather than produced by this delivery.
	Duplicate bool `json:"duplicate"`

	// Note carries a short machine-readable reason when Applied is false.
	Note string `json:"note,omitempty"`
}
