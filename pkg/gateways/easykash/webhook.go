package easykash

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

// Callback statuses emitted by EasyKash.
const (
	statusPaid      = "PAID"
	statusFailed    = "FAILED"
	statusExpired   = "EXPIRED"
	statusDelivered = "DELIVERED"
	statusCanceled  = "CANCELED"
	statusRefunded  = "REFUNDED"
)

// callbackPayload is the EasyKash webhook body. Amount arrives as a decimal
// string in major units.
type callbackPayload struct {
	ProductCode       string `json:"ProductCode"`
	Amount            string `json:"Amount"`
	ProductType       string `json:"ProductType"`
	PaymentMethod     string `json:"PaymentMethod"`
	Status            string `json:"status"`
	EasykashRef       string `json:"easykashRef"`
	CustomerReference string `json:"customerReference"`
	SignatureHash     string `json:"signatureHash"`
}

func (g *Gateway) WebhookSecret() []byte { return []byte(g.config.SecretKey) }

func (g *Gateway) SupportedWebhookEvents() []payments.EventType {
	return []payments.EventType{payments.EventTransaction, payments.EventRefund}
}

// VerifyWebhookSignature recomputes HMAC-SHA512 over the concatenation of
// ProductCode, Amount, ProductType, PaymentMethod, status, easykashRef and
// customerReference, in that order, and compares it constant-time against
// the signatureHash field.
func (g *Gateway) VerifyWebhookSignature(r *http.Request, body []byte) bool {
	if g.config.SecretKey == "" {
		return false
	}
	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	if payload.SignatureHash == "" {
		return false
	}

	signed := payload.ProductCode +
		payload.Amount +
		payload.ProductType +
		payload.PaymentMethod +
		payload.Status +
		payload.EasykashRef +
		payload.CustomerReference

	mac := hmac.New(sha512.New, []byte(g.config.SecretKey))
	mac.Write([]byte(signed))
	expected := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(payload.SignatureHash))) == 1
}

// ParseWebhookPayload normalizes a verified callback. DELIVERED reports a
// cash voucher handed to the customer before payment; it carries no
// lifecycle meaning and is acknowledged without recording.
func (g *Gateway) ParseWebhookPayload(r *http.Request, body []byte) (*payments.WebhookPayload, error) {
	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, payments.WrapError(payments.CodeProcessingError, gatewayName, "malformed callback body", err)
	}
	if payload.EasykashRef == "" || payload.CustomerReference == "" {
		return nil, payments.NewError(payments.CodeProcessingError, gatewayName, "callback missing reference fields")
	}

	var (
		eventType payments.EventType
		succeeded bool
	)
	switch payload.Status {
	case statusPaid:
		eventType, succeeded = payments.EventTransaction, true
	case statusFailed, statusExpired, statusCanceled:
		eventType, succeeded = payments.EventTransaction, false
	case statusRefunded:
		eventType, succeeded = payments.EventRefund, true
	case statusDelivered:
		return nil, payments.ErrEventIgnored
	default:
		return nil, payments.NewError(payments.CodeProcessingError, gatewayName, "unknown callback status").
			WithContext("status", payload.Status)
	}

	amount, err := parseMajorAmount(payload.Amount)
	if err != nil {
		return nil, payments.WrapError(payments.CodeProcessingError, gatewayName, "unparseable callback amount", err)
	}

	var raw map[string]any
	_ = json.Unmarshal(body, &raw)

	return &payments.WebhookPayload{
		// One EasyKash reference can emit several lifecycle callbacks, so
		// the status participates in the dedup key.
		EventID:        payload.EasykashRef + ":" + payload.Status,
		Type:           eventType,
		Succeeded:      succeeded,
		TransactionRef: payload.CustomerReference,
		Amount:         amount,
		Timestamp:      time.Now().UTC(),
		Raw:            raw,
	}, nil
}

func statusFor(status string) payments.Status {
	switch status {
	case statusPaid:
		return payments.StatusCaptured
	case statusRefunded:
		return payments.StatusRefunded
	case statusFailed, statusExpired, statusCanceled:
		return payments.StatusFailed
	default:
		return payments.StatusPending
	}
}

// minorToMajor renders minor units as the decimal string EasyKash expects.
func minorToMajor(amount int64) string {
	return strconv.FormatInt(amount/100, 10) + "." + pad2(amount%100)
}

// parseMajorAmount converts a decimal major-unit string to minor units
// without going through floating point.
func parseMajorAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative amount %q", s)
	}
	whole, frac, _ := strings.Cut(s, ".")
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	if frac == "" {
		return major * 100, nil
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	minor, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	return major*100 + minor, nil
}

func pad2(v int64) string {
	if v < 10 {
		return "0" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}
