package easykash

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

func newServerGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{
		PrivateKey: "pk",
		SecretKey:  testSecret,
		BaseURL:    server.URL,
	})
}

func TestCreatePaymentIntentRetainsRawPayload(t *testing.T) {
	g := newServerGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/directpayv1/pay" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"redirectUrl":"https://pay.example/p/1","status":"success","paymentId":"EK-555"}`))
	})

	intent, err := payments.NewPaymentIntent(15000, "EGP", "academy-1", payments.MethodDescriptor{
		Kind: payments.MethodCard,
	})
	if err != nil {
		t.Fatalf("NewPaymentIntent failed: %v", err)
	}

	result, err := g.CreatePaymentIntent(context.Background(), intent)
	if err != nil {
		t.Fatalf("CreatePaymentIntent failed: %v", err)
	}
	if result.RedirectURL != "https://pay.example/p/1" {
		t.Errorf("Expected hosted page URL, got %q", result.RedirectURL)
	}
	if result.Raw == nil {
		t.Fatal("Expected result to retain the provider payload")
	}
	if result.Raw["paymentId"] != "EK-555" {
		t.Errorf("Expected raw payload field paymentId, got %v", result.Raw["paymentId"])
	}
}

func TestVerifyPaymentRetainsRawPayload(t *testing.T) {
	g := newServerGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"PAID","amount":"150.00","easykashRef":"EK-789"}`))
	})

	result, err := g.VerifyPayment(context.Background(), "order-42", nil)
	if err != nil {
		t.Fatalf("VerifyPayment failed: %v", err)
	}
	if result.Status != payments.StatusCaptured || result.Amount != 15000 {
		t.Errorf("Expected captured 15000, got %s/%d", result.Status, result.Amount)
	}
	if result.Raw == nil {
		t.Fatal("Expected result to retain the provider payload")
	}
	if result.Raw["easykashRef"] != "EK-789" {
		t.Errorf("Expected raw payload field easykashRef, got %v", result.Raw["easykashRef"])
	}
}
