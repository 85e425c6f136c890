// Package paymob implements the Paymob Accept gateway: server-to-server card
// payments with tokenization, recurring charges, refunds, voids, and webhook
// callbacks.
package paymob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

const (
	gatewayName        = "paymob"
	defaultBaseURL     = "https://accept.paymob.com"
	defaultHTTPTimeout = 10 * time.Second

	// Paymob settles authorized transactions within 24 hours; voids are
	// only accepted before settlement.
	voidWindowHours = 24

	// Refunds are accepted up to 60 days after capture.
	refundWindowDays = 60

	minRecurringInterval = 24 * time.Hour
)

// Config holds Paymob gateway configuration.
type Config struct {
	// APIKey authenticates the merchant to obtain short-lived auth tokens.
	APIKey string

	// HMACSecret verifies webhook callbacks.
	HMACSecret string

	// IntegrationID selects the Paymob payment integration (card, wallet).
	IntegrationID string

	// IframeID builds the hosted-payment redirect URL.
	IframeID string

	// BaseURL overrides the Paymob API base (tests). Default: production.
	BaseURL string

	// SandboxMode marks the integration as a test-mode integration.
	SandboxMode bool

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout is used.
	HTTPClient *http.Client

	// Logger is optional; defaults to NoopLogger.
	Logger payments.Logger
}

// Gateway implements payments.Gateway plus the Tokenizer, RecurringCharger,
// Refunder, Voider and WebhookReceiver capabilities.
type Gateway struct {
	config     Config
	baseURL    string
	httpClient *http.Client
	logger     payments.Logger
}

// New creates a Paymob gateway.
func New(config Config) *Gateway {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = &payments.NoopLogger{}
	}
	return &Gateway{
		config:     config,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (g *Gateway) Name() string        { return gatewayName }
func (g *Gateway) DisplayName() string { return "باي موب" }
func (g *Gateway) BaseURL() string     { return g.baseURL }
func (g *Gateway) Sandbox() bool       { return g.config.SandboxMode }

func (g *Gateway) IsConfigured() bool {
	return g.config.APIKey != "" && g.config.HMACSecret != "" && g.config.IntegrationID != ""
}

func (g *Gateway) SupportedMethods() []payments.MethodKind {
	return []payments.MethodKind{payments.MethodCard, payments.MethodWallet, payments.MethodToken}
}

func (g *Gateway) FlowType() payments.FlowType { return payments.FlowServerToServer }

// CreatePaymentIntent runs the Paymob three-step flow: auth token, order
// registration, payment key. With raw card details or a saved token the
// charge is submitted server-to-server; otherwise the result is pending with
// a hosted-iframe redirect URL and the terminal outcome arrives by webhook.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, intent *payments.PaymentIntent) (*payments.PaymentResult, error) {
	if intent.Method.Card != nil {
		resp, err := g.pay(ctx, intent, map[string]any{
			"identifier": intent.Method.Card.Number,
			"subtype":    "CARD",
			"cvn":        intent.Method.Card.CVC,
		})
		if err != nil {
			return nil, err
		}
		result := &payments.PaymentResult{
			Success:        resp.Success || resp.Pending,
			TransactionRef: strconv.FormatInt(resp.Order.ID, 10),
			Status:         resp.status(),
			Amount:         resp.AmountCents,
			Currency:       resp.Currency,
			Raw:            resp.raw,
		}
		if !result.Success {
			result.Err = payments.NewError(payments.CodeCardDeclined, gatewayName, "provider declined the charge")
		}
		return result, nil
	}
	if intent.Method.Token != "" {
		return g.ChargeToken(ctx, intent.Method.Token, intent)
	}

	authToken, err := g.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	orderID, err := g.registerOrder(ctx, authToken, intent)
	if err != nil {
		return nil, err
	}

	paymentKey, err := g.paymentKey(ctx, authToken, orderID, intent)
	if err != nil {
		return nil, err
	}

	redirectURL := ""
	if g.config.IframeID != "" {
		redirectURL = fmt.Sprintf("%s/api/acceptance/iframes/%s?payment_token=%s",
			g.baseURL, g.config.IframeID, paymentKey)
	}

	return &payments.PaymentResult{
		Success:        true,
		TransactionRef: strconv.FormatInt(orderID, 10),
		Status:         payments.StatusPending,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		RedirectURL:    redirectURL,
	}, nil
}

// VerifyPayment queries the transaction inquiry endpoint and normalizes the
// reported state.
func (g *Gateway) VerifyPayment(ctx context.Context, transactionRef string, data map[string]string) (*payments.PaymentResult, error) {
	authToken, err := g.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	var resp transactionObject
	err = g.doJSON(ctx, http.MethodPost, "/api/ecommerce/orders/transaction_inquiry", map[string]any{
		"auth_token":        authToken,
		"merchant_order_id": transactionRef,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &payments.PaymentResult{
		Success:        resp.Success,
		TransactionRef: transactionRef,
		Status:         resp.status(),
		Amount:         resp.AmountCents,
		Currency:       resp.Currency,
		Raw:            resp.raw,
	}, nil
}

// authenticate exchanges the API key for a short-lived auth token.
func (g *Gateway) authenticate(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := g.doJSON(ctx, http.MethodPost, "/api/auth/tokens", map[string]any{
		"api_key": g.config.APIKey,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", payments.NewError(payments.CodeAuthenticationFailed, gatewayName, "empty auth token from provider")
	}
	return resp.Token, nil
}

// registerOrder creates a Paymob order and returns its id, which this
// gateway uses as the transaction reference.
func (g *Gateway) registerOrder(ctx context.Context, authToken string, intent *payments.PaymentIntent) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	err := g.doJSON(ctx, http.MethodPost, "/api/ecommerce/orders", map[string]any{
		"auth_token":      authToken,
		"amount_cents":    intent.Amount,
		"currency":        intent.Currency,
		"delivery_needed": false,
		"items":           []any{},
	}, &resp)
	if err != nil {
		return 0, err
	}
	if resp.ID == 0 {
		return 0, payments.NewError(payments.CodeProcessingError, gatewayName, "order registration returned no id")
	}
	return resp.ID, nil
}

// paymentKey obtains the payment key that authorizes a charge against the
// order. The tenant id rides in the key's extra claims and comes back on the
// webhook, which is how ingestion ties the callback to the tenant.
func (g *Gateway) paymentKey(ctx context.Context, authToken string, orderID int64, intent *payments.PaymentIntent) (string, error) {
	body := map[string]any{
		"auth_token":     authToken,
		"amount_cents":   intent.Amount,
		"currency":       intent.Currency,
		"order_id":       orderID,
		"integration_id": g.config.IntegrationID,
		"expiration":     3600,
		"billing_data":   billingData(intent.Metadata),
		"extra": map[string]string{
			"tenant_id": intent.TenantID,
		},
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := g.doJSON(ctx, http.MethodPost, "/api/acceptance/payment_keys", body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", payments.NewError(payments.CodeProcessingError, gatewayName, "payment key request returned no token")
	}
	return resp.Token, nil
}

// billingData fills Paymob's mandatory billing block from intent metadata,
// defaulting the fields Paymob requires but the platform does not collect.
func billingData(metadata map[string]string) map[string]string {
	get := func(key, fallback string) string {
		if v, ok := metadata[key]; ok && v != "" {
			return v
		}
		return fallback
	}
	return map[string]string{
		"first_name":   get("first_name", "NA"),
		"last_name":    get("last_name", "NA"),
		"email":        get("email", "na@example.com"),
		"phone_number": get("phone", "NA"),
		"country":      get("country", "NA"),
		"city":         get("city", "NA"),
		"street":       "NA",
		"building":     "NA",
		"floor":        "NA",
		"apartment":    "NA",
	}
}

// doJSON performs one outbound API call. No automatic retry: create and
// charge operations are not idempotent on the provider side.
func (g *Gateway) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return payments.WrapError(payments.CodeTimeout, gatewayName, "provider call cancelled or timed out", err)
		}
		return payments.WrapError(payments.CodeProcessingError, gatewayName, "provider call failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return payments.WrapError(payments.CodeProcessingError, gatewayName, "failed to read provider response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return payments.NewError(payments.CodeAuthenticationFailed, gatewayName, "provider rejected credentials").
			WithContext("status", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return payments.NewError(payments.CodeProcessingError, gatewayName, "provider returned an error").
			WithContext("status", resp.StatusCode).
			WithContext("body", string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return payments.WrapError(payments.CodeProcessingError, gatewayName, "failed to decode provider response", err)
		}
		if rec, ok := out.(rawRecorder); ok {
			var raw map[string]any
			if err := json.Unmarshal(data, &raw); err == nil {
				rec.setRaw(raw)
			}
		}
	}
	return nil
}

// rawRecorder lets response types keep the undecoded provider payload for
// audit alongside their typed fields.
type rawRecorder interface {
	setRaw(raw map[string]any)
}

// transactionObject is the subset of Paymob's transaction shape the gateway
// reads, both from inquiry responses and webhook callbacks.
type transactionObject struct {
	ID          int64  `json:"id"`
	Success     bool   `json:"success"`
	Pending     bool   `json:"pending"`
	IsAuth      bool   `json:"is_auth"`
	IsCapture   bool   `json:"is_capture"`
	IsRefunded  bool   `json:"is_refunded"`
	IsVoided    bool   `json:"is_voided"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	CreatedAt   string `json:"created_at"`
	Order       struct {
		ID int64 `json:"id"`
	} `json:"order"`
	PaymentKeyClaims struct {
		Extra map[string]string `json:"extra"`
	} `json:"payment_key_claims"`

	raw map[string]any
}

func (t *transactionObject) setRaw(raw map[string]any) { t.raw = raw }

func (t *transactionObject) status() payments.Status {
	switch {
	case t.IsRefunded:
		return payments.StatusRefunded
	case t.IsVoided:
		return payments.StatusVoided
	case t.Pending:
		return payments.StatusPending
	case t.Success && t.IsAuth && !t.IsCapture:
		return payments.StatusAuthorized
	case t.Success:
		return payments.StatusCaptured
	default:
		return payments.StatusFailed
	}
}
