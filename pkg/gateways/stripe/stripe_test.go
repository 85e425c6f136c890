package stripe

import (
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v83"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

func TestNewGatewayConfiguration(t *testing.T) {
	g := New(Config{APIKey: "sk_test_123", WebhookSecret: "whsec_1"})
	if !g.IsConfigured() {
		t.Error("Expected gateway with key and secret to be configured")
	}
	if !g.Sandbox() {
		t.Error("Expected sk_test_ key to select sandbox mode")
	}

	if New(Config{APIKey: "sk_live_123", WebhookSecret: "whsec_1"}).Sandbox() {
		t.Error("Expected sk_live_ key to select live mode")
	}
	if New(Config{APIKey: "sk_test_123"}).IsConfigured() {
		t.Error("Expected missing webhook secret to leave gateway unconfigured")
	}
	if New(Config{WebhookSecret: "whsec_1"}).IsConfigured() {
		t.Error("Expected missing API key to leave gateway unconfigured")
	}
}

func TestStatusFromIntent(t *testing.T) {
	tests := []struct {
		in   stripe.PaymentIntentStatus
		want payments.Status
	}{
		{stripe.PaymentIntentStatusSucceeded, payments.StatusCaptured},
		{stripe.PaymentIntentStatusRequiresCapture, payments.StatusAuthorized},
		{stripe.PaymentIntentStatusCanceled, payments.StatusVoided},
		{stripe.PaymentIntentStatusProcessing, payments.StatusPending},
		{stripe.PaymentIntentStatusRequiresAction, payments.StatusPending},
		{stripe.PaymentIntentStatusRequiresConfirmation, payments.StatusPending},
		{stripe.PaymentIntentStatusRequiresPaymentMethod, payments.StatusPending},
	}
	for _, tt := range tests {
		if got := statusFromIntent(tt.in); got != tt.want {
			t.Errorf("statusFromIntent(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestMapStripeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want payments.ErrorCode
	}{
		{
			name: "card declined",
			err:  &stripe.Error{Code: stripe.ErrorCodeCardDeclined, Msg: "declined"},
			want: payments.CodeCardDeclined,
		},
		{
			name: "insufficient funds decline",
			err: &stripe.Error{
				Code:        stripe.ErrorCodeCardDeclined,
				DeclineCode: stripe.DeclineCodeInsufficientFunds,
				Msg:         "declined",
			},
			want: payments.CodeInsufficientFunds,
		},
		{
			name: "expired card",
			err:  &stripe.Error{Code: stripe.ErrorCodeExpiredCard, Msg: "expired"},
			want: payments.CodeExpiredCard,
		},
		{
			name: "invalid number",
			err:  &stripe.Error{Code: stripe.ErrorCodeInvalidNumber, Msg: "bad number"},
			want: payments.CodeInvalidCard,
		},
		{
			name: "amount too large",
			err:  &stripe.Error{Code: stripe.ErrorCodeAmountTooLarge, Msg: "too large"},
			want: payments.CodeAmountLimitExceeded,
		},
		{
			name: "expired api key",
			err:  &stripe.Error{Code: stripe.ErrorCodeAPIKeyExpired, Msg: "key expired"},
			want: payments.CodeAuthenticationFailed,
		},
		{
			name: "non-stripe error",
			err:  errors.New("connection reset"),
			want: payments.CodeProcessingError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapStripeError(tt.err)
			var perr *payments.Error
			if !errors.As(mapped, &perr) {
				t.Fatalf("Expected *payments.Error, got %T", mapped)
			}
			if perr.Code != tt.want {
				t.Errorf("Expected code %s, got %s", tt.want, perr.Code)
			}
			if !errors.Is(mapped, tt.err) {
				t.Error("Expected original error to remain in the chain")
			}
		})
	}
}

func TestResultFromIntent(t *testing.T) {
	result := resultFromIntent(&stripe.PaymentIntent{
		ID:       "pi_1",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   15000,
		Currency: stripe.CurrencyEGP,
	})
	if !result.Success || result.Status != payments.StatusCaptured {
		t.Errorf("Expected captured success, got %v/%s", result.Success, result.Status)
	}
	if result.Currency != "EGP" {
		t.Errorf("Expected upper-cased currency, got %q", result.Currency)
	}

	failed := resultFromIntent(&stripe.PaymentIntent{
		ID:     "pi_2",
		Status: stripe.PaymentIntentStatus("requires_source"),
	})
	if failed.Success || failed.Err == nil {
		t.Error("Expected unknown status to produce a failed result with an error")
	}
}

func TestResultFromIntentRetainsRawPayload(t *testing.T) {
	result := resultFromIntent(&stripe.PaymentIntent{
		APIResource: stripe.APIResource{
			LastResponse: &stripe.APIResponse{
				RawJSON: []byte(`{"id":"pi_1","amount":15000,"metadata":{"tenant_id":"academy-1"}}`),
			},
		},
		ID:       "pi_1",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   15000,
		Currency: stripe.CurrencyEGP,
	})
	if result.Raw == nil {
		t.Fatal("Expected result to retain the provider payload")
	}
	if result.Raw["id"] != "pi_1" {
		t.Errorf("Expected raw payload id, got %v", result.Raw["id"])
	}
}

func TestRawPayload(t *testing.T) {
	if rawPayload(nil) != nil {
		t.Error("Expected nil response to yield no payload")
	}
	if rawPayload(&stripe.APIResponse{RawJSON: []byte("not json")}) != nil {
		t.Error("Expected undecodable body to yield no payload")
	}
	raw := rawPayload(&stripe.APIResponse{RawJSON: []byte(`{"object":"refund"}`)})
	if raw == nil || raw["object"] != "refund" {
		t.Errorf("Expected decoded payload, got %v", raw)
	}
}
