package stripe

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

func (g *Gateway) WebhookSecret() []byte { return g.webhookSecret }

func (g *Gateway) SupportedWebhookEvents() []payments.EventType {
	return []payments.EventType{
		payments.EventTransaction,
		payments.EventRefund,
		payments.EventVoid,
		payments.EventSubscriptionCharge,
	}
}

// VerifyWebhookSignature checks the Stripe-Signature header against the
// endpoint's signing secret. ConstructEvent does the timestamp and HMAC
// validation.
func (g *Gateway) VerifyWebhookSignature(r *http.Request, body []byte) bool {
	if len(g.webhookSecret) == 0 {
		return false
	}
	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}
	if sig == "" {
		return false
	}
	_, err := stripe.ConstructEvent(body, sig, string(g.webhookSecret))
	return err == nil
}

// ParseWebhookPayload normalizes a verified Stripe event. Event types with
// no transaction lifecycle meaning are acknowledged and ignored.
func (g *Gateway) ParseWebhookPayload(r *http.Request, body []byte) (*payments.WebhookPayload, error) {
	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}
	event, err := stripe.ConstructEvent(body, sig, string(g.webhookSecret))
	if err != nil {
		return nil, payments.WrapError(payments.CodeProcessingError, gatewayName, "event construction failed", err)
	}

	var (
		eventType payments.EventType
		succeeded bool
	)
	switch event.Type {
	case "payment_intent.succeeded":
		eventType, succeeded = payments.EventTransaction, true
	case "payment_intent.payment_failed":
		eventType, succeeded = payments.EventTransaction, false
	case "payment_intent.canceled":
		eventType, succeeded = payments.EventVoid, true
	case "charge.refunded":
		eventType, succeeded = payments.EventRefund, true
	case "invoice.payment_succeeded":
		eventType, succeeded = payments.EventSubscriptionCharge, true
	case "invoice.payment_failed":
		eventType, succeeded = payments.EventSubscriptionCharge, false
	default:
		return nil, payments.ErrEventIgnored
	}

	object, err := decodeEventObject(&event)
	if err != nil {
		return nil, payments.WrapError(payments.CodeProcessingError, gatewayName, "malformed event object", err)
	}

	var raw map[string]any
	_ = json.Unmarshal(body, &raw)

	return &payments.WebhookPayload{
		EventID:        event.ID,
		Type:           eventType,
		Succeeded:      succeeded,
		TransactionRef: object.transactionRef(),
		Amount:         object.amount(eventType),
		Currency:       strings.ToUpper(object.Currency),
		TenantID:       object.Metadata["tenant_id"],
		Timestamp:      time.Unix(event.Created, 0).UTC(),
		Raw:            raw,
	}, nil
}

// eventObject is the cross-type subset of Stripe event data objects: a
// PaymentIntent, a Charge, or an Invoice depending on the event type.
type eventObject struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	AmountPaid     int64             `json:"amount_paid"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

func decodeEventObject(event *stripe.Event) (*eventObject, error) {
	var object eventObject
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return nil, err
	}
	return &object, nil
}

// transactionRef is the PaymentIntent id: directly for payment_intent
// events, via the payment_intent field for charges and invoices.
func (o *eventObject) transactionRef() string {
	if o.PaymentIntent != "" {
		return o.PaymentIntent
	}
	if strings.HasPrefix(o.ID, "pi_") {
		return o.ID
	}
	return ""
}

func (o *eventObject) amount(t payments.EventType) int64 {
	switch t {
	case payments.EventRefund:
		return o.AmountRefunded
	case payments.EventSubscriptionCharge:
		return o.AmountPaid
	default:
		return o.Amount
	}
}
