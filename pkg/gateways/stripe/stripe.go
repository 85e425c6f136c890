// Package stripe implements the Stripe gateway on the official stripe-go
// client: PaymentIntents for charges, PaymentMethods for tokenization,
// off-session confirmation for recurring, Refunds, and signed webhook events.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

const (
	gatewayName = "stripe"

	// Stripe accepts refunds up to 180 days after the charge.
	refundWindowDays = 180

	minRecurringInterval = time.Hour
)

// Config holds Stripe gateway configuration.
type Config struct {
	// APIKey is the secret key ("sk_live_..." / "sk_test_...").
	APIKey string

	// WebhookSecret is the signing secret ("whsec_...") for the configured
	// webhook endpoint.
	WebhookSecret string

	// Logger is optional; defaults to NoopLogger.
	Logger payments.Logger
}

// Gateway implements payments.Gateway plus the Tokenizer, RecurringCharger,
// Refunder, Voider and WebhookReceiver capabilities.
type Gateway struct {
	config        Config
	client        *stripe.Client
	webhookSecret []byte
	logger        payments.Logger
	sandbox       bool
}

// New creates a Stripe gateway.
func New(config Config) *Gateway {
	logger := config.Logger
	if logger == nil {
		logger = &payments.NoopLogger{}
	}
	apiKey := strings.TrimSpace(config.APIKey)
	var client *stripe.Client
	if apiKey != "" {
		client = stripe.NewClient(apiKey)
	}
	return &Gateway{
		config:        config,
		client:        client,
		webhookSecret: []byte(strings.TrimSpace(config.WebhookSecret)),
		logger:        logger,
		sandbox:       strings.HasPrefix(apiKey, "sk_test_"),
	}
}

func (g *Gateway) Name() string        { return gatewayName }
func (g *Gateway) DisplayName() string { return "Stripe" }
func (g *Gateway) BaseURL() string     { return stripe.APIURL }
func (g *Gateway) Sandbox() bool       { return g.sandbox }

func (g *Gateway) IsConfigured() bool {
	return g.client != nil && len(g.webhookSecret) > 0
}

func (g *Gateway) SupportedMethods() []payments.MethodKind {
	return []payments.MethodKind{payments.MethodCard, payments.MethodToken}
}

func (g *Gateway) FlowType() payments.FlowType { return payments.FlowHostedFields }

// CreatePaymentIntent creates a Stripe PaymentIntent. The intent's
// idempotency key is forwarded, so a network-level retry of the same create
// cannot double charge.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, intent *payments.PaymentIntent) (*payments.PaymentResult, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(intent.Amount),
		Currency: stripe.String(strings.ToLower(intent.Currency)),
		Metadata: paymentMetadata(intent),
	}
	if intent.Method.Token != "" {
		params.PaymentMethod = stripe.String(intent.Method.Token)
		params.Confirm = stripe.Bool(true)
	}
	if intent.IdempotencyKey != "" {
		params.SetIdempotencyKey(intent.IdempotencyKey)
	}

	pi, err := g.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return resultFromIntent(pi), nil
}

// VerifyPayment retrieves the PaymentIntent and normalizes its state.
func (g *Gateway) VerifyPayment(ctx context.Context, transactionRef string, data map[string]string) (*payments.PaymentResult, error) {
	pi, err := g.client.V1PaymentIntents.Retrieve(ctx, transactionRef, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return nil, mapStripeError(err)
	}
	return resultFromIntent(pi), nil
}

func paymentMetadata(intent *payments.PaymentIntent) map[string]string {
	metadata := map[string]string{"tenant_id": intent.TenantID}
	for k, v := range intent.Metadata {
		metadata[k] = v
	}
	return metadata
}

func resultFromIntent(pi *stripe.PaymentIntent) *payments.PaymentResult {
	status := statusFromIntent(pi.Status)
	result := &payments.PaymentResult{
		Success:        status != payments.StatusFailed,
		TransactionRef: pi.ID,
		Status:         status,
		Amount:         pi.Amount,
		Currency:       strings.ToUpper(string(pi.Currency)),
		Raw:            rawPayload(pi.LastResponse),
	}
	if status == payments.StatusFailed {
		result.Err = payments.NewError(payments.CodeCardDeclined, gatewayName, "payment was not completed")
	}
	return result
}

// rawPayload decodes the provider's response body so results retain the full
// payload for audit.
func rawPayload(resp *stripe.APIResponse) map[string]any {
	if resp == nil || len(resp.RawJSON) == 0 {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(resp.RawJSON, &raw); err != nil {
		return nil
	}
	return raw
}

func statusFromIntent(s stripe.PaymentIntentStatus) payments.Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return payments.StatusCaptured
	case stripe.PaymentIntentStatusRequiresCapture:
		return payments.StatusAuthorized
	case stripe.PaymentIntentStatusCanceled:
		return payments.StatusVoided
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		return payments.StatusPending
	default:
		return payments.StatusFailed
	}
}

// mapStripeError translates stripe-go errors into the shared taxonomy so
// callers never branch on provider-specific codes.
func mapStripeError(err error) error {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return payments.WrapError(payments.CodeProcessingError, gatewayName, "provider call failed", err)
	}

	code := payments.CodeProcessingError
	switch serr.Code {
	case stripe.ErrorCodeCardDeclined:
		code = payments.CodeCardDeclined
		if serr.DeclineCode == stripe.DeclineCodeInsufficientFunds {
			code = payments.CodeInsufficientFunds
		}
	case stripe.ErrorCodeExpiredCard:
		code = payments.CodeExpiredCard
	case stripe.ErrorCodeIncorrectNumber, stripe.ErrorCodeInvalidNumber,
		stripe.ErrorCodeIncorrectCVC, stripe.ErrorCodeInvalidCVC:
		code = payments.CodeInvalidCard
	case stripe.ErrorCodeAmountTooLarge:
		code = payments.CodeAmountLimitExceeded
	case stripe.ErrorCodeAPIKeyExpired:
		code = payments.CodeAuthenticationFailed
	}

	return payments.WrapError(code, gatewayName, serr.Msg, err).
		WithContext("stripe_code", string(serr.Code))
}
