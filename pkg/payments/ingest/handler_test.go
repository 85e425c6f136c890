package ingest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahseelhq/tahseel/pkg/payments"
	"github.com/tahseelhq/tahseel/pkg/payments/ingest"
	"github.com/tahseelhq/tahseel/storage/memory"
)

func newTestHandler(t *testing.T) (*ingest.Handler, *memory.Store) {
	t.Helper()
	pipeline, store := newTestPipeline(t)
	return ingest.NewHandler(pipeline, "paymob"), store
}

func postWebhook(handler http.Handler, signature string, payload payments.WebhookPayload) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/paymob", bytes.NewReader(body))
	r.Header.Set("X-Test-Signature", signature)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/webhooks/paymob", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandlerSuccessfulDelivery(t *testing.T) {
	handler, store := newTestHandler(t)
	seedTransaction(t, store, "tx-1", "ref-1", 10000)

	w := postWebhook(handler, "valid", payments.WebhookPayload{
		EventID:        "evt-1",
		Type:           payments.EventTransaction,
		Succeeded:      true,
		TransactionRef: "ref-1",
		Amount:         10000,
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])

	// Security headers on every response.
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestHandlerDuplicateDelivery(t *testing.T) {
	handler, store := newTestHandler(t)
	seedTransaction(t, store, "tx-1", "ref-1", 10000)

	payload := payments.WebhookPayload{
		EventID:        "evt-1",
		Type:           payments.EventTransaction,
		Succeeded:      true,
		TransactionRef: "ref-1",
		Amount:         10000,
	}

	first := postWebhook(handler, "valid", payload)
	require.Equal(t, http.StatusOK, first.Code)

	// Redelivery acknowledged with 200 so the provider stops retrying.
	second := postWebhook(handler, "valid", payload)
	assert.Equal(t, http.StatusOK, second.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp["status"])
}

func TestHandlerInvalidSignature(t *testing.T) {
	handler, store := newTestHandler(t)
	seedTransaction(t, store, "tx-1", "ref-1", 10000)

	w := postWebhook(handler, "forged", payments.WebhookPayload{
		EventID:        "evt-1",
		Type:           payments.EventTransaction,
		Succeeded:      true,
		TransactionRef: "ref-1",
		Amount:         10000,
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(payments.WebhookInvalidSignature), resp["code"])
}

func TestHandlerTamperedAmount(t *testing.T) {
	handler, store := newTestHandler(t)
	seedTransaction(t, store, "tx-1", "ref-1", 10000)

	w := postWebhook(handler, "valid", payments.WebhookPayload{
		EventID:        "evt-1",
		Type:           payments.EventTransaction,
		Succeeded:      true,
		TransactionRef: "ref-1",
		Amount:         99900,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerUnknownTransactionRetryable(t *testing.T) {
	handler, _ := newTestHandler(t)

	w := postWebhook(handler, "valid", payments.WebhookPayload{
		EventID:        "evt-early",
		Type:           payments.EventTransaction,
		Succeeded:      true,
		TransactionRef: "ref-early",
		Amount:         10000,
	})

	// 503 asks the provider to redeliver once the transaction row lands.
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandlerIgnoredEventType(t *testing.T) {
	handler, _ := newTestHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/webhooks/paymob", strings.NewReader("ignored"))
	r.Header.Set("X-Test-Signature", "valid")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp["status"])
}

func TestHandlerOversizedBody(t *testing.T) {
	handler, _ := newTestHandler(t)

	big := strings.Repeat("a", 257*1024)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/paymob", strings.NewReader(big))
	r.Header.Set("X-Test-Signature", "valid")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHandlerRouterRateLimits(t *testing.T) {
	pipeline, store := newTestPipeline(t)
	seedTransaction(t, store, "tx-1", "ref-1", 10000)
	router := ingest.NewHandler(pipeline, "paymob").Router()

	var lastCode int
	limited := false
	for i := 0; i < 150; i++ {
		w := postWebhook(router, "valid", payments.WebhookPayload{
			EventID:        "evt-1",
			Type:           payments.EventTransaction,
			Succeeded:      true,
			TransactionRef: "ref-1",
			Amount:         10000,
			Timestamp:      time.Now().UTC(),
		})
		lastCode = w.Code
		if w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "expected 429 after exceeding the per-IP limit, last code %d", lastCode)
}
