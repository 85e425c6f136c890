package paymob

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

// hmacFields is Paymob's documented field list for transaction callbacks,
// lexicographically ordered. Values are concatenated in this order and
// signed with HMAC-SHA512.
var hmacFields = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order.id",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
}

func (g *Gateway) WebhookSecret() []byte { return []byte(g.config.HMACSecret) }

func (g *Gateway) SupportedWebhookEvents() []payments.EventType {
	return []payments.EventType{payments.EventTransaction, payments.EventRefund, payments.EventVoid}
}

// VerifyWebhookSignature recomputes the HMAC over the ordered field values
// of the transaction object and compares it, constant-time, against the hmac
// query parameter Paymob appends to the callback URL.
func (g *Gateway) VerifyWebhookSignature(r *http.Request, body []byte) bool {
	if g.config.HMACSecret == "" {
		return false
	}
	provided := r.URL.Query().Get("hmac")
	if provided == "" {
		return false
	}

	obj, ok := decodeCallbackObject(body)
	if !ok {
		return false
	}

	var sb strings.Builder
	for _, field := range hmacFields {
		sb.WriteString(lookupField(obj, field))
	}

	mac := hmac.New(sha512.New, []byte(g.config.HMACSecret))
	mac.Write([]byte(sb.String()))
	expected := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(provided))) == 1
}

// ParseWebhookPayload normalizes a verified callback. The transaction
// reference is the Paymob order id, which is what CreatePaymentIntent
// recorded; the event id is the provider transaction id, which is distinct
// per refund and void because those create child transactions.
func (g *Gateway) ParseWebhookPayload(r *http.Request, body []byte) (*payments.WebhookPayload, error) {
	var envelope struct {
		Type string            `json:"type"`
		Obj  transactionObject `json:"obj"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, payments.WrapError(payments.CodeProcessingError, gatewayName, "malformed callback body", err)
	}
	if envelope.Type != "TRANSACTION" {
		return nil, payments.NewError(payments.CodeProcessingError, gatewayName, "unsupported callback type").
			WithContext("type", envelope.Type)
	}
	obj := envelope.Obj
	if obj.ID == 0 || obj.Order.ID == 0 {
		return nil, payments.NewError(payments.CodeProcessingError, gatewayName, "callback missing transaction or order id")
	}

	eventType := payments.EventTransaction
	switch {
	case obj.IsRefunded:
		eventType = payments.EventRefund
	case obj.IsVoided:
		eventType = payments.EventVoid
	}

	occurredAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, obj.CreatedAt); err == nil {
		occurredAt = t.UTC()
	}

	var raw map[string]any
	_ = json.Unmarshal(body, &raw)

	return &payments.WebhookPayload{
		EventID:        strconv.FormatInt(obj.ID, 10),
		Type:           eventType,
		Succeeded:      obj.Success && !obj.Pending,
		TransactionRef: strconv.FormatInt(obj.Order.ID, 10),
		Amount:         obj.AmountCents,
		Currency:       obj.Currency,
		TenantID:       obj.PaymentKeyClaims.Extra["tenant_id"],
		Timestamp:      occurredAt,
		Raw:            raw,
	}, nil
}

// decodeCallbackObject decodes the callback's obj into a generic map using
// json.Number so numeric values keep the exact textual form they were signed
// with.
func decodeCallbackObject(body []byte) (map[string]any, bool) {
	var envelope struct {
		Obj map[string]any `json:"obj"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil || envelope.Obj == nil {
		return nil, false
	}
	return envelope.Obj, true
}

// lookupField resolves a possibly dotted field path and renders the value
// the way Paymob signs it: booleans as true/false, numbers verbatim, absent
// values as the empty string.
func lookupField(obj map[string]any, path string) string {
	var value any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := value.(map[string]any)
		if !ok {
			return ""
		}
		value, ok = m[part]
		if !ok {
			return ""
		}
	}

	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
