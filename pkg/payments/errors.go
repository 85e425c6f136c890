package payments

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a stable machine-readable payment failure code. Callers branch
// on codes, not message text.
type ErrorCode string

const (
	CodeInsufficientFunds      ErrorCode = "insufficient_funds"
	CodeCardDeclined           ErrorCode = "card_declined"
	CodeExpiredCard            ErrorCode = "expired_card"
	CodeInvalidCard            ErrorCode = "invalid_card"
	CodeProcessingError        ErrorCode = "processing_error"
	CodeAuthenticationFailed   ErrorCode = "authentication_failed"
	CodeTimeout                ErrorCode = "timeout"
	CodeDuplicateTransaction   ErrorCode = "duplicate_transaction"
	CodeAmountLimitExceeded    ErrorCode = "amount_limit_exceeded"
	CodeGatewayNotConfigured   ErrorCode = "gateway_not_configured"
	CodeCapabilityNotSupported ErrorCode = "capability_not_supported"
	CodeInvalidAmount          ErrorCode = "invalid_amount"
	CodeDuplicatePayment       ErrorCode = "duplicate_payment"
)

// Error is a provider or business payment failure. It carries a stable code,
// the originating gateway where applicable, and a structured context map for
// logging and audit.
type Error struct {
	Code    ErrorCode
	Gateway string
	Message string
	Context map[string]any
	cause   error
}

// NewError builds a payment error.
func NewError(code ErrorCode, gateway, message string) *Error {
	return &Error{Code: code, Gateway: gateway, Message: message}
}

// WrapError builds a payment error around an underlying cause.
func WrapError(code ErrorCode, gateway, message string, cause error) *Error {
	return &Error{Code: code, Gateway: gateway, Message: message, cause: cause}
}

// NotConfigured signals an operator configuration defect. Never retried.
func NotConfigured(gateway string) *Error {
	return &Error{
		Code:    CodeGatewayNotConfigured,
		Gateway: gateway,
		Message: fmt.Sprintf("gateway %q is not configured", gateway),
	}
}

// CapabilityNotSupported signals that the resolved gateway does not implement
// the requested capability. Distinct from configuration failure so callers
// can tell "wrong gateway for this operation" from "operator forgot a key".
func CapabilityNotSupported(gateway string, capability Capability) *Error {
	return &Error{
		Code:    CodeCapabilityNotSupported,
		Gateway: gateway,
		Message: fmt.Sprintf("gateway %q does not support %s", gateway, capability),
		Context: map[string]any{"capability": string(capability)},
	}
}

// WithContext attaches a key/value pair and returns the same error for
// chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("payment error ")
	b.WriteString(string(e.Code))
	if e.Gateway != "" {
		b.WriteString(" (gateway ")
		b.WriteString(e.Gateway)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two payment errors by code, so callers can use
// errors.Is(err, &Error{Code: CodeCardDeclined}).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == "" || other.Code == e.Code
}

// WebhookErrorCode classifies ingestion-boundary failures.
type WebhookErrorCode string

const (
	WebhookInvalidSignature WebhookErrorCode = "invalid_signature"
	WebhookDuplicateEvent   WebhookErrorCode = "duplicate_event"
	WebhookInvalidPayload   WebhookErrorCode = "invalid_payload"
	WebhookTenantMismatch   WebhookErrorCode = "tenant_mismatch"
	WebhookAmountMismatch   WebhookErrorCode = "amount_mismatch"
)

// WebhookValidationError is an ingestion-boundary failure: the inbound
// delivery could not be trusted or reconciled. It is operator/security
// actionable, unlike Error which is user actionable.
type WebhookValidationError struct {
	Code    WebhookErrorCode
	Gateway string
	Message string
	Context map[string]any
	cause   error
}

// NewWebhookError builds a webhook validation error.
func NewWebhookError(code WebhookErrorCode, gateway, message string) *WebhookValidationError {
	return &WebhookValidationError{Code: code, Gateway: gateway, Message: message}
}

// WithContext attaches a key/value pair and returns the same error for
// chaining.
func (e *WebhookValidationError) WithContext(key string, value any) *WebhookValidationError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *WebhookValidationError) Error() string {
	msg := fmt.Sprintf("webhook validation failed (%s)", e.Code)
	if e.Gateway != "" {
		msg += " gateway " + e.Gateway
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *WebhookValidationError) Unwrap() error { return e.cause }

// Is matches webhook validation errors by code.
func (e *WebhookValidationError) Is(target error) bool {
	var other *WebhookValidationError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == "" || other.Code == e.Code
}

// Storage-level sentinels, wrapped by store implementations.
var (
	// ErrTransactionNotFound is returned when no local transaction matches
	// the lookup. For webhook ingestion this is retryable: the intent row
	// may not have committed yet.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrSavedMethodNotFound is returned when a saved payment method does
	// not exist.
	ErrSavedMethodNotFound = errors.New("saved payment method not found")

	// ErrInvalidTransition is returned when a status change violates the
	// transaction state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEventIgnored is returned by webhook parsers for event types that
	// carry no transaction lifecycle meaning. The delivery is acknowledged
	// so the provider stops retrying, but nothing is recorded.
	ErrEventIgnored = errors.New("event type ignored")

	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached. Transient; leaves webhook events unprocessed and retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// userMessages maps error codes to user-facing text per locale. The platform
// is Arabic-first; English is the fallback.
var userMessages = map[string]map[ErrorCode]string{
	"en": {
		CodeInsufficientFunds:      "Insufficient funds. Please use a different card.",
		CodeCardDeclined:           "Your card was declined. Please contact your bank.",
		CodeExpiredCard:            "Your card has expired. Please use a different card.",
		CodeInvalidCard:            "The card details are invalid. Please check and try again.",
		CodeProcessingError:        "The payment could not be processed. Please try again later.",
		CodeAuthenticationFailed:   "Payment authentication failed. Please try again.",
		CodeTimeout:                "The payment provider did not respond in time. Please try again.",
		CodeDuplicateTransaction:   "This payment was already submitted.",
		CodeAmountLimitExceeded:    "The amount exceeds your card limit.",
		CodeGatewayNotConfigured:   "This payment method is currently unavailable.",
		CodeCapabilityNotSupported: "This operation is not available for the selected payment method.",
		CodeInvalidAmount:          "The payment amount is invalid.",
		CodeDuplicatePayment:       "A payment for this item is already in progress.",
	},
	"ar": {
		CodeInsufficientFunds:      "الرصيد غير كافٍ. يرجى استخدام بطاقة أخرى.",
		CodeCardDeclined:           "تم رفض البطاقة. يرجى التواصل مع البنك.",
		CodeExpiredCard:            "انتهت صلاحية البطاقة. يرجى استخدام بطاقة أخرى.",
		CodeInvalidCard:            "بيانات البطاقة غير صحيحة. يرجى التحقق والمحاولة مرة أخرى.",
		CodeProcessingError:        "تعذّرت معالجة الدفع. يرجى المحاولة لاحقاً.",
		CodeAuthenticationFailed:   "فشل التحقق من الدفع. يرجى المحاولة مرة أخرى.",
		CodeTimeout:                "لم يستجب مزوّد الدفع في الوقت المحدد. يرجى المحاولة مرة أخرى.",
		CodeDuplicateTransaction:   "تم إرسال هذا الدفع مسبقاً.",
		CodeAmountLimitExceeded:    "المبلغ يتجاوز حد البطاقة.",
		CodeGatewayNotConfigured:   "وسيلة الدفع هذه غير متاحة حالياً.",
		CodeCapabilityNotSupported: "هذه العملية غير متاحة لوسيلة الدفع المختارة.",
		CodeInvalidAmount:          "مبلغ الدفع غير صحيح.",
		CodeDuplicatePayment:       "هناك عملية دفع جارية لهذا العنصر بالفعل.",
	},
}

// UserMessage resolves a code to localized user-facing text. Unknown locales
// fall back to English; unknown codes fall back to the processing-error text.
func UserMessage(code ErrorCode, locale string) string {
	catalog, ok := userMessages[strings.ToLower(locale)]
	if !ok {
		catalog = userMessages["en"]
	}
	if msg, ok := catalog[code]; ok {
		return msg
	}
	return catalog[CodeProcessingError]
}
