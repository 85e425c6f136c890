// Package easykash implements the EasyKash gateway: a redirect-only provider
// where the customer pays on an EasyKash-hosted page and the outcome arrives
// exclusively by webhook. No tokenization, recurring, refund or void
// capability is exposed by the provider API.
package easykash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

const (
	gatewayName        = "easykash"
	defaultBaseURL     = "https://back.easykash.net"
	defaultHTTPTimeout = 10 * time.Second
)

// Config holds EasyKash gateway configuration.
type Config struct {
	// PrivateKey authenticates Direct Pay API calls.
	PrivateKey string

	// SecretKey signs and verifies webhook callbacks.
	SecretKey string

	// BaseURL overrides the API base (tests).
	BaseURL string

	// SandboxMode marks a test-mode account.
	SandboxMode bool

	// PaymentOptions restricts the methods shown on the hosted page.
	// Empty means all methods enabled for the account.
	PaymentOptions []int

	// HTTPClient is an optional HTTP client for API calls.
	HTTPClient *http.Client

	// Logger is optional; defaults to NoopLogger.
	Logger payments.Logger
}

// Gateway implements payments.Gateway and payments.WebhookReceiver.
type Gateway struct {
	config     Config
	baseURL    string
	httpClient *http.Client
	logger     payments.Logger
}

// Compile-time capability checks. EasyKash deliberately implements only the
// base contract and webhooks.
var (
	_ payments.Gateway         = (*Gateway)(nil)
	_ payments.WebhookReceiver = (*Gateway)(nil)
)

// New creates an EasyKash gateway.
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
func (g *Gateway) DisplayName() string { return "إيزي كاش" }
func (g *Gateway) BaseURL() string     { return g.baseURL }
func (g *Gateway) Sandbox() bool       { return g.config.SandboxMode }

func (g *Gateway) IsConfigured() bool {
	return g.config.PrivateKey != "" && g.config.SecretKey != ""
}

func (g *Gateway) SupportedMethods() []payments.MethodKind {
	return []payments.MethodKind{payments.MethodCard, payments.MethodWallet, payments.MethodCash}
}

func (g *Gateway) FlowType() payments.FlowType { return payments.FlowRedirect }

// CreatePaymentIntent registers a Direct Pay request and returns the hosted
// payment page URL. The customerReference sent to the provider is the
// transaction reference; every later callback carries it back.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, intent *payments.PaymentIntent) (*payments.PaymentResult, error) {
	customerReference := intent.IdempotencyKey
	if customerReference == "" {
		customerReference = uuid.NewString()
	}

	body := map[string]any{
		"amount":            minorToMajor(intent.Amount),
		"currency":          intent.Currency,
		"paymentOptions":    g.paymentOptions(),
		"cashExpiry":        24,
		"customerReference": customerReference,
		"redirectUrl":       intent.SuccessURL,
		"name":              metaOr(intent.Metadata, "name", "NA"),
		"email":             metaOr(intent.Metadata, "email", "na@example.com"),
		"mobile":            metaOr(intent.Metadata, "phone", "NA"),
	}

	var resp struct {
		RedirectURL string `json:"redirectUrl"`
		Status      string `json:"status"`
		Message     string `json:"message"`
	}
	raw, err := g.doJSON(ctx, http.MethodPost, "/api/directpayv1/pay", body, &resp)
	if err != nil {
		return nil, err
	}
	if resp.RedirectURL == "" {
		return nil, payments.NewError(payments.CodeProcessingError, gatewayName, "provider returned no redirect url").
			WithContext("provider_message", resp.Message)
	}

	return &payments.PaymentResult{
		Success:        true,
		TransactionRef: customerReference,
		Status:         payments.StatusPending,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		RedirectURL:    resp.RedirectURL,
		Raw:            raw,
	}, nil
}

// VerifyPayment queries the Direct Pay inquiry endpoint by customer
// reference.
func (g *Gateway) VerifyPayment(ctx context.Context, transactionRef string, data map[string]string) (*payments.PaymentResult, error) {
	var resp struct {
		Status string `json:"status"`
		Amount string `json:"amount"`
	}
	raw, err := g.doJSON(ctx, http.MethodPost, "/api/directpayv1/inquire", map[string]any{
		"customerReference": transactionRef,
	}, &resp)
	if err != nil {
		return nil, err
	}

	status := statusFor(resp.Status)
	amount, _ := parseMajorAmount(resp.Amount)
	return &payments.PaymentResult{
		Success:        status == payments.StatusCaptured,
		TransactionRef: transactionRef,
		Status:         status,
		Amount:         amount,
		Raw:            raw,
	}, nil
}

func (g *Gateway) paymentOptions() []int {
	if len(g.config.PaymentOptions) > 0 {
		return g.config.PaymentOptions
	}
	return []int{}
}

// doJSON performs one API call and returns the decoded response payload so
// callers can retain it for audit.
func (g *Gateway) doJSON(ctx context.Context, method, path string, body any, out any) (map[string]any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", g.config.PrivateKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, payments.WrapError(payments.CodeTimeout, gatewayName, "provider call cancelled or timed out", err)
		}
		return nil, payments.WrapError(payments.CodeProcessingError, gatewayName, "provider call failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, payments.WrapError(payments.CodeProcessingError, gatewayName, "failed to read provider response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, payments.NewError(payments.CodeAuthenticationFailed, gatewayName, "provider rejected credentials").
			WithContext("status", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, payments.NewError(payments.CodeProcessingError, gatewayName, "provider returned an error").
			WithContext("status", resp.StatusCode).
			WithContext("body", string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, payments.WrapError(payments.CodeProcessingError, gatewayName, "failed to decode provider response", err)
		}
	}
	var payload map[string]any
	_ = json.Unmarshal(raw, &payload)
	return payload, nil
}

func metaOr(metadata map[string]string, key, fallback string) string {
	if v, ok := metadata[key]; ok && v != "" {
		return v
	}
	return fallback
}
