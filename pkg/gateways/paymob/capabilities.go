package paymob

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

// Compile-time capability checks.
var (
	_ payments.Gateway          = (*Gateway)(nil)
	_ payments.Tokenizer        = (*Gateway)(nil)
	_ payments.RecurringCharger = (*Gateway)(nil)
	_ payments.Refunder         = (*Gateway)(nil)
	_ payments.Voider           = (*Gateway)(nil)
	_ payments.WebhookReceiver  = (*Gateway)(nil)
)

// payResponse is the shape of /api/acceptance/payments/pay responses. It is
// the transaction object plus the card token issued when the integration is
// configured to tokenize.
type payResponse struct {
	transactionObject
	Token      string `json:"token"`
	SourceData struct {
		Pan     string `json:"pan"`
		SubType string `json:"sub_type"`
	} `json:"source_data"`
}

// TokenizeCard charges a minimal verification amount through the MOTO
// integration with the card attached; Paymob issues the reusable token on
// the pay response. The verification charge is voided by the provider.
func (g *Gateway) TokenizeCard(ctx context.Context, tenantID string, card *payments.CardDetails) (*payments.TokenizationResult, error) {
	intent := &payments.PaymentIntent{
		Amount:   100,
		Currency: "EGP",
		TenantID: tenantID,
	}

	resp, err := g.pay(ctx, intent, map[string]any{
		"identifier": card.Number,
		"subtype":    "CARD",
		"cvn":        card.CVC,
	})
	if err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return &payments.TokenizationResult{
			Success: false,
			Err:     payments.NewError(payments.CodeProcessingError, gatewayName, "provider did not issue a card token"),
		}, nil
	}

	return &payments.TokenizationResult{
		Success: true,
		Token:   resp.Token,
		Masked: payments.MaskedCard{
			LastFour: lastFour(resp.SourceData.Pan),
			Brand:    resp.SourceData.SubType,
			ExpMonth: card.ExpMonth,
			ExpYear:  card.ExpYear,
		},
	}, nil
}

// ChargeToken charges a previously issued card token.
func (g *Gateway) ChargeToken(ctx context.Context, token string, intent *payments.PaymentIntent) (*payments.PaymentResult, error) {
	resp, err := g.pay(ctx, intent, map[string]any{
		"identifier": token,
		"subtype":    "TOKEN",
	})
	if err != nil {
		return nil, err
	}

	result := &payments.PaymentResult{
		Success:        resp.Success,
		TransactionRef: strconv.FormatInt(resp.Order.ID, 10),
		Status:         resp.status(),
		Amount:         resp.AmountCents,
		Currency:       resp.Currency,
		Raw:            resp.raw,
	}
	if !resp.Success && !resp.Pending {
		result.Err = payments.NewError(payments.CodeCardDeclined, gatewayName, "provider declined the charge")
	}
	return result, nil
}

// DeleteToken is not supported remotely; Paymob tokens expire with the card.
// Callers drop the saved method locally.
func (g *Gateway) DeleteToken(ctx context.Context, token string) error {
	return payments.CapabilityNotSupported(gatewayName, payments.CapabilityTokenization).
		WithContext("operation", "delete_token")
}

// TokenDetails scans the merchant's saved card tokens for the given token.
func (g *Gateway) TokenDetails(ctx context.Context, token string) (*payments.MaskedCard, error) {
	authToken, err := g.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Results []struct {
			Token     string `json:"token"`
			MaskedPan string `json:"masked_pan"`
			SubType   string `json:"card_subtype"`
		} `json:"results"`
	}
	path := "/api/acceptance/card_tokens?token=" + authToken
	if err := g.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	for _, saved := range resp.Results {
		if saved.Token == token {
			return &payments.MaskedCard{
				LastFour: lastFour(saved.MaskedPan),
				Brand:    saved.SubType,
			}, nil
		}
	}
	return nil, payments.ErrSavedMethodNotFound
}

// ChargeSavedMethod charges a saved token off-session.
func (g *Gateway) ChargeSavedMethod(ctx context.Context, method *payments.SavedPaymentMethod, amount int64, currency string, metadata map[string]string) (*payments.PaymentResult, error) {
	intent := &payments.PaymentIntent{
		Amount:   amount,
		Currency: currency,
		TenantID: method.TenantID,
		Metadata: metadata,
	}
	return g.ChargeToken(ctx, method.Token, intent)
}

func (g *Gateway) MinimumRecurringInterval() time.Duration { return minRecurringInterval }

// Refund reverses a captured transaction. Paymob refunds by provider
// transaction id, so the order reference is resolved through transaction
// inquiry first.
func (g *Gateway) Refund(ctx context.Context, transactionRef string, amount int64, reason string) (*payments.PaymentResult, error) {
	authToken, err := g.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	providerTxID, originalAmount, err := g.resolveTransaction(ctx, authToken, transactionRef)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		amount = originalAmount
	}

	var resp transactionObject
	err = g.doJSON(ctx, http.MethodPost, "/api/acceptance/void_refund/refund", map[string]any{
		"auth_token":     authToken,
		"transaction_id": providerTxID,
		"amount_cents":   amount,
	}, &resp)
	if err != nil {
		return nil, err
	}

	result := &payments.PaymentResult{
		Success:        resp.Success,
		TransactionRef: transactionRef,
		Status:         payments.StatusRefunded,
		Amount:         amount,
		Currency:       resp.Currency,
		Raw:            resp.raw,
	}
	if !resp.Success {
		result.Status = payments.StatusCaptured
		result.Err = payments.NewError(payments.CodeProcessingError, gatewayName, "provider rejected the refund")
	}
	return result, nil
}

func (g *Gateway) SupportsPartialRefunds() bool { return true }

func (g *Gateway) RefundWindow() *time.Duration {
	window := refundWindowDays * 24 * time.Hour
	return &window
}

// Void cancels an authorized transaction before settlement.
func (g *Gateway) Void(ctx context.Context, transactionRef string, reason string) (*payments.PaymentResult, error) {
	authToken, err := g.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	providerTxID, _, err := g.resolveTransaction(ctx, authToken, transactionRef)
	if err != nil {
		return nil, err
	}

	var resp transactionObject
	err = g.doJSON(ctx, http.MethodPost, "/api/acceptance/void_refund/void?token="+authToken, map[string]any{
		"transaction_id": providerTxID,
	}, &resp)
	if err != nil {
		return nil, err
	}

	result := &payments.PaymentResult{
		Success:        resp.Success,
		TransactionRef: transactionRef,
		Status:         payments.StatusVoided,
		Amount:         resp.AmountCents,
		Currency:       resp.Currency,
		Raw:            resp.raw,
	}
	if !resp.Success {
		result.Status = payments.StatusAuthorized
		result.Err = payments.NewError(payments.CodeProcessingError, gatewayName, "provider rejected the void")
	}
	return result, nil
}

func (g *Gateway) VoidWindow() *time.Duration {
	window := voidWindowHours * time.Hour
	return &window
}

// CanVoid reports whether the transaction is still inside the void window.
// Settlement closes the window regardless of elapsed time.
func (g *Gateway) CanVoid(tx *payments.Transaction, now time.Time) bool {
	if tx == nil || tx.Status != payments.StatusAuthorized {
		return false
	}
	if tx.AuthorizedAt == nil {
		return false
	}
	return now.Sub(*tx.AuthorizedAt) <= voidWindowHours*time.Hour
}

// pay runs the order and payment-key steps and submits a server-to-server
// charge against the configured integration.
func (g *Gateway) pay(ctx context.Context, intent *payments.PaymentIntent, source map[string]any) (*payResponse, error) {
	authToken, err := g.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	orderID, err := g.registerOrder(ctx, authToken, intent)
	if err != nil {
		return nil, err
	}
	paymentKey, err := g.paymentKey(ctx, authToken, orderID, intent)
	if err != nil {
		return nil, err
	}

	var resp payResponse
	err = g.doJSON(ctx, http.MethodPost, "/api/acceptance/payments/pay", map[string]any{
		"source":        source,
		"payment_token": paymentKey,
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Order.ID = orderID
	return &resp, nil
}

// resolveTransaction looks up the provider transaction id and amount behind
// an order reference.
func (g *Gateway) resolveTransaction(ctx context.Context, authToken, transactionRef string) (int64, int64, error) {
	var resp transactionObject
	err := g.doJSON(ctx, http.MethodPost, "/api/ecommerce/orders/transaction_inquiry", map[string]any{
		"auth_token":        authToken,
		"merchant_order_id": transactionRef,
	}, &resp)
	if err != nil {
		return 0, 0, err
	}
	if resp.ID == 0 {
		return 0, 0, payments.ErrTransactionNotFound
	}
	return resp.ID, resp.AmountCents, nil
}

func lastFour(pan string) string {
	if len(pan) <= 4 {
		return pan
	}
	return pan[len(pan)-4:]
}
