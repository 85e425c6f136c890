package ingest

import (
	"errors"
	"net/http"
	"time"

	"github.com/tahseelhq/tahseel/pkg/payments"
	"github.com/tahseelhq/tahseel/pkg/payments/internal"
)

const (
	maxBodyBytes             = 256 * 1024
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Handler adapts a Pipeline to net/http for one gateway's webhook endpoint.
//
// Response contract: 200 on successful ingestion, including the
// duplicate-event short-circuit and business-level no-ops, so the provider
// stops retrying. 4xx only for signature/parse/tenant/amount failures. 503
// when the event is valid but cannot be applied yet (transaction row not
// committed, store down) so the provider retries.
type Handler struct {
	pipeline *Pipeline
	gateway  string
	metrics  payments.Metrics
	limiter  *internal.RateLimiter
}

// NewHandler creates a webhook HTTP handler for the named gateway.
func NewHandler(pipeline *Pipeline, gateway string) *Handler {
	return &Handler{
		pipeline: pipeline,
		gateway:  gateway,
		metrics:  pipeline.metrics,
		limiter:  internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
	}
}

// Router returns the handler wrapped with per-IP rate limiting.
func (h *Handler) Router() http.Handler {
	return h.limiter.Middleware(h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			h.metrics.RecordWebhookError(h.gateway, "payload_too_large")
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		} else {
			h.metrics.RecordWebhookError(h.gateway, "invalid_payload")
			http.Error(w, "invalid payload", http.StatusBadRequest)
		}
		return
	}

	result, err := h.pipeline.Process(r.Context(), h.gateway, r, body)
	if err != nil {
		if errors.Is(err, payments.ErrEventIgnored) {
			// Acknowledge so the provider stops retrying.
			_ = internal.WriteJSON(w, http.StatusOK, map[string]string{
				"status":  "ignored",
				"message": "unsupported event type",
			})
			h.recordDuration(start, result)
			return
		}
		h.writeError(w, err)
		h.recordDuration(start, result)
		return
	}

	resp := map[string]string{"status": "ok"}
	if result.Outcome.Duplicate {
		resp = map[string]string{"status": "ignored", "message": "duplicate event"}
	} else if !result.Outcome.Applied {
		resp = map[string]string{"status": "ok", "message": result.Outcome.Note}
	}
	_ = internal.WriteJSON(w, http.StatusOK, resp)
	h.recordDuration(start, result)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var werr *payments.WebhookValidationError
	if errors.As(err, &werr) {
		code := http.StatusBadRequest
		if werr.Code == payments.WebhookInvalidSignature {
			code = http.StatusUnauthorized
		}
		_ = internal.WriteJSON(w, code, map[string]string{
			"status": "error",
			"code":   string(werr.Code),
		})
		return
	}

	var perr *payments.Error
	if errors.As(err, &perr) {
		// Resolution/capability failures are operator defects; the
		// provider should back off rather than hammer a dead endpoint.
		_ = internal.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "error",
			"code":   string(perr.Code),
		})
		return
	}

	if errors.Is(err, payments.ErrTransactionNotFound) || errors.Is(err, payments.ErrStoreUnavailable) {
		// Retryable: no idempotency record was written.
		_ = internal.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "error", "message": "retry later",
		})
		return
	}

	_ = internal.WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"status": "error", "message": "internal error",
	})
}

func (h *Handler) recordDuration(start time.Time, result *Result) {
	eventType := "unknown"
	if result != nil && result.Payload != nil {
		eventType = string(result.Payload.Type)
	}
	h.metrics.RecordWebhookProcessingDuration(h.gateway, eventType, time.Since(start))
}
