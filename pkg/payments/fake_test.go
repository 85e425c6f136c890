package payments_test

import (
	"context"
	"net/http"
	"time"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

// fakeGateway implements every capability with programmable behavior.
type fakeGateway struct {
	name       string
	configured bool
	flow       payments.FlowType

	voidWindow     *time.Duration
	refundWindow   *time.Duration
	partialRefunds bool
	minInterval    time.Duration

	createFunc func(ctx context.Context, intent *payments.PaymentIntent) (*payments.PaymentResult, error)
	verifyFunc func(ctx context.Context, ref string, data map[string]string) (*payments.PaymentResult, error)
	refundFunc func(ctx context.Context, ref string, amount int64, reason string) (*payments.PaymentResult, error)
	voidFunc   func(ctx context.Context, ref, reason string) (*payments.PaymentResult, error)
	chargeFunc func(ctx context.Context, method *payments.SavedPaymentMethod, amount int64, currency string, metadata map[string]string) (*payments.PaymentResult, error)

	chargeCalls int
	refundCalls int
	voidCalls   int
}

func newFakeGateway(name string) *fakeGateway {
	hour := time.Hour
	return &fakeGateway{
		name:           name,
		configured:     true,
		flow:           payments.FlowServerToServer,
		voidWindow:     &hour,
		partialRefunds: true,
		minInterval:    24 * time.Hour,
	}
}

func (g *fakeGateway) Name() string                            { return g.name }
func (g *fakeGateway) DisplayName() string                     { return g.name }
func (g *fakeGateway) IsConfigured() bool                      { return g.configured }
func (g *fakeGateway) SupportedMethods() []payments.MethodKind { return nil }
func (g *fakeGateway) FlowType() payments.FlowType             { return g.flow }
func (g *fakeGateway) BaseURL() string                         { return "https://example.test" }
func (g *fakeGateway) Sandbox() bool                           { return true }

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, intent *payments.PaymentIntent) (*payments.PaymentResult, error) {
	if g.createFunc != nil {
		return g.createFunc(ctx, intent)
	}
	return &payments.PaymentResult{
		Success:        true,
		TransactionRef: "ref-" + g.name,
		Status:         payments.StatusPending,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
	}, nil
}

func (g *fakeGateway) VerifyPayment(ctx context.Context, ref string, data map[string]string) (*payments.PaymentResult, error) {
	if g.verifyFunc != nil {
		return g.verifyFunc(ctx, ref, data)
	}
	return &payments.PaymentResult{Success: true, TransactionRef: ref, Status: payments.StatusPending}, nil
}

func (g *fakeGateway) TokenizeCard(ctx context.Context, tenantID string, card *payments.CardDetails) (*payments.TokenizationResult, error) {
	return &payments.TokenizationResult{
		Success: true,
		Token:   "tok-" + g.name,
		Masked:  payments.MaskedCard{LastFour: "4242", Brand: "visa"},
	}, nil
}

func (g *fakeGateway) ChargeToken(ctx context.Context, token string, intent *payments.PaymentIntent) (*payments.PaymentResult, error) {
	return &payments.PaymentResult{Success: true, TransactionRef: "ref-token", Status: payments.StatusCaptured}, nil
}

func (g *fakeGateway) DeleteToken(ctx context.Context, token string) error { return nil }

func (g *fakeGateway) TokenDetails(ctx context.Context, token string) (*payments.MaskedCard, error) {
	return &payments.MaskedCard{LastFour: "4242", Brand: "visa"}, nil
}

func (g *fakeGateway) ChargeSavedMethod(ctx context.Context, method *payments.SavedPaymentMethod, amount int64, currency string, metadata map[string]string) (*payments.PaymentResult, error) {
	g.chargeCalls++
	if g.chargeFunc != nil {
		return g.chargeFunc(ctx, method, amount, currency, metadata)
	}
	return &payments.PaymentResult{
		Success:        true,
		TransactionRef: "recur-ref",
		Status:         payments.StatusCaptured,
		Amount:         amount,
		Currency:       currency,
	}, nil
}

func (g *fakeGateway) MinimumRecurringInterval() time.Duration { return g.minInterval }

func (g *fakeGateway) Refund(ctx context.Context, ref string, amount int64, reason string) (*payments.PaymentResult, error) {
	g.refundCalls++
	if g.refundFunc != nil {
		return g.refundFunc(ctx, ref, amount, reason)
	}
	return &payments.PaymentResult{Success: true, TransactionRef: ref, Status: payments.StatusRefunded, Amount: amount}, nil
}

func (g *fakeGateway) SupportsPartialRefunds() bool { return g.partialRefunds }
func (g *fakeGateway) RefundWindow() *time.Duration { return g.refundWindow }

func (g *fakeGateway) Void(ctx context.Context, ref, reason string) (*payments.PaymentResult, error) {
	g.voidCalls++
	if g.voidFunc != nil {
		return g.voidFunc(ctx, ref, reason)
	}
	return &payments.PaymentResult{Success: true, TransactionRef: ref, Status: payments.StatusVoided}, nil
}

func (g *fakeGateway) VoidWindow() *time.Duration { return g.voidWindow }

func (g *fakeGateway) CanVoid(tx *payments.Transaction, now time.Time) bool {
	if tx == nil || tx.Status != payments.StatusAuthorized || tx.AuthorizedAt == nil {
		return false
	}
	if g.voidWindow == nil {
		return true
	}
	return now.Sub(*tx.AuthorizedAt) <= *g.voidWindow
}

func (g *fakeGateway) WebhookSecret() []byte { return []byte("test-secret") }

func (g *fakeGateway) SupportedWebhookEvents() []payments.EventType {
	return []payments.EventType{payments.EventTransaction, payments.EventRefund, payments.EventVoid}
}

func (g *fakeGateway) VerifyWebhookSignature(r *http.Request, body []byte) bool {
	return r.Header.Get("X-Test-Signature") == "valid"
}

func (g *fakeGateway) ParseWebhookPayload(r *http.Request, body []byte) (*payments.WebhookPayload, error) {
	return nil, payments.ErrEventIgnored
}
