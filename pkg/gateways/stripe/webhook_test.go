package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	stripelib "github.com/stripe/stripe-go/v83"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

const testWebhookSecret = "whsec_test_secret"

func newTestGateway() *Gateway {
	return New(Config{
		APIKey:        "sk_test_123",
		WebhookSecret: testWebhookSecret,
	})
}

// signPayload produces a Stripe-Signature header value for the given body:
// HMAC-SHA256 over "<timestamp>.<body>" with the endpoint secret.
func signPayload(body []byte, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventBody(eventType, objectJSON string, created time.Time) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"object": "event",
		"api_version": %q,
		"type": %q,
		"created": %d,
		"data": {"object": %s}
	}`, stripelib.APIVersion, eventType, created.Unix(), objectJSON))
}

func signedRequest(body []byte, sig string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(body)))
	if sig != "" {
		r.Header.Set("Stripe-Signature", sig)
	}
	return r
}

func TestVerifyWebhookSignature(t *testing.T) {
	g := newTestGateway()
	now := time.Now()
	body := eventBody("payment_intent.succeeded", `{"id": "pi_1", "amount": 15000, "currency": "egp"}`, now)

	if !g.VerifyWebhookSignature(signedRequest(body, signPayload(body, now)), body) {
		t.Error("Expected valid signature to verify")
	}
	if g.VerifyWebhookSignature(signedRequest(body, ""), body) {
		t.Error("Expected missing header to fail verification")
	}

	tampered := eventBody("payment_intent.succeeded", `{"id": "pi_1", "amount": 1, "currency": "egp"}`, now)
	if g.VerifyWebhookSignature(signedRequest(tampered, signPayload(body, now)), tampered) {
		t.Error("Expected tampered body to fail verification")
	}

	stale := signPayload(body, now.Add(-24*time.Hour))
	if g.VerifyWebhookSignature(signedRequest(body, stale), body) {
		t.Error("Expected stale timestamp to fail verification")
	}
}

func TestParseWebhookPayloadPaymentIntent(t *testing.T) {
	g := newTestGateway()
	now := time.Now()
	body := eventBody("payment_intent.succeeded",
		`{"id": "pi_1", "amount": 15000, "currency": "egp", "metadata": {"tenant_id": "academy-1"}}`, now)

	payload, err := g.ParseWebhookPayload(signedRequest(body, signPayload(body, now)), body)
	if err != nil {
		t.Fatalf("ParseWebhookPayload failed: %v", err)
	}
	if payload.Type != payments.EventTransaction || !payload.Succeeded {
		t.Errorf("Expected successful transaction event, got %s/%v", payload.Type, payload.Succeeded)
	}
	if payload.EventID != "evt_test_1" {
		t.Errorf("Expected event id evt_test_1, got %q", payload.EventID)
	}
	if payload.TransactionRef != "pi_1" {
		t.Errorf("Expected payment intent id as transaction ref, got %q", payload.TransactionRef)
	}
	if payload.Amount != 15000 || payload.Currency != "EGP" {
		t.Errorf("Amount/currency not carried: %d %s", payload.Amount, payload.Currency)
	}
	if payload.TenantID != "academy-1" {
		t.Errorf("Expected tenant from metadata, got %q", payload.TenantID)
	}
}

func TestParseWebhookPayloadEventMapping(t *testing.T) {
	tests := []struct {
		eventType string
		object    string
		wantType  payments.EventType
		succeeded bool
		amount    int64
		ref       string
	}{
		{
			eventType: "payment_intent.payment_failed",
			object:    `{"id": "pi_2", "amount": 5000, "currency": "egp"}`,
			wantType:  payments.EventTransaction,
			succeeded: false,
			amount:    5000,
			ref:       "pi_2",
		},
		{
			eventType: "payment_intent.canceled",
			object:    `{"id": "pi_3", "amount": 5000, "currency": "egp"}`,
			wantType:  payments.EventVoid,
			succeeded: true,
			amount:    5000,
			ref:       "pi_3",
		},
		{
			eventType: "charge.refunded",
			object:    `{"id": "ch_1", "payment_intent": "pi_4", "amount": 5000, "amount_refunded": 2000, "currency": "egp"}`,
			wantType:  payments.EventRefund,
			succeeded: true,
			amount:    2000,
			ref:       "pi_4",
		},
		{
			eventType: "invoice.payment_succeeded",
			object:    `{"id": "in_1", "payment_intent": "pi_5", "amount_paid": 9900, "currency": "egp"}`,
			wantType:  payments.EventSubscriptionCharge,
			succeeded: true,
			amount:    9900,
			ref:       "pi_5",
		},
	}

	g := newTestGateway()
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			now := time.Now()
			body := eventBody(tt.eventType, tt.object, now)
			payload, err := g.ParseWebhookPayload(signedRequest(body, signPayload(body, now)), body)
			if err != nil {
				t.Fatalf("ParseWebhookPayload failed: %v", err)
			}
			if payload.Type != tt.wantType || payload.Succeeded != tt.succeeded {
				t.Errorf("Expected %s/%v, got %s/%v", tt.wantType, tt.succeeded, payload.Type, payload.Succeeded)
			}
			if payload.Amount != tt.amount {
				t.Errorf("Expected amount %d, got %d", tt.amount, payload.Amount)
			}
			if payload.TransactionRef != tt.ref {
				t.Errorf("Expected transaction ref %q, got %q", tt.ref, payload.TransactionRef)
			}
		})
	}
}

func TestParseWebhookPayloadIgnoresUnmappedTypes(t *testing.T) {
	g := newTestGateway()
	now := time.Now()
	body := eventBody("customer.created", `{"id": "cus_1"}`, now)

	_, err := g.ParseWebhookPayload(signedRequest(body, signPayload(body, now)), body)
	if !errors.Is(err, payments.ErrEventIgnored) {
		t.Errorf("Expected ErrEventIgnored for unmapped event type, got %v", err)
	}
}

func TestTransactionRef(t *testing.T) {
	if got := (&eventObject{PaymentIntent: "pi_9"}).transactionRef(); got != "pi_9" {
		t.Errorf("Expected payment_intent field to win, got %q", got)
	}
	if got := (&eventObject{ID: "pi_9"}).transactionRef(); got != "pi_9" {
		t.Errorf("Expected pi_ prefixed id to be used, got %q", got)
	}
	if got := (&eventObject{ID: "ch_9"}).transactionRef(); got != "" {
		t.Errorf("Expected non-intent object without payment_intent to yield empty ref, got %q", got)
	}
}
