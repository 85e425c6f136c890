package stripe

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

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

// TokenizeCard creates a reusable PaymentMethod from raw card details.
func (g *Gateway) TokenizeCard(ctx context.Context, tenantID string, card *payments.CardDetails) (*payments.TokenizationResult, error) {
	pm, err := g.client.V1PaymentMethods.Create(ctx, &stripe.PaymentMethodCreateParams{
		Type: stripe.String("card"),
		Card: &stripe.PaymentMethodCreateCardParams{
			Number:   stripe.String(card.Number),
			ExpMonth: stripe.Int64(int64(card.ExpMonth)),
			ExpYear:  stripe.Int64(int64(card.ExpYear)),
			CVC:      stripe.String(card.CVC),
		},
		Metadata: map[string]string{"tenant_id": tenantID},
	})
	if err != nil {
		mapped := mapStripeError(err)
		var perr *payments.Error
		if errors.As(mapped, &perr) && isCardCode(perr.Code) {
			return &payments.TokenizationResult{Success: false, Err: perr}, nil
		}
		return nil, mapped
	}

	return &payments.TokenizationResult{
		Success: true,
		Token:   pm.ID,
		Masked:  maskedFromPaymentMethod(pm),
	}, nil
}

// ChargeToken charges a PaymentMethod on-session.
func (g *Gateway) ChargeToken(ctx context.Context, token string, intent *payments.PaymentIntent) (*payments.PaymentResult, error) {
	copied := *intent
	copied.Method = payments.MethodDescriptor{Kind: payments.MethodToken, Token: token}
	return g.CreatePaymentIntent(ctx, &copied)
}

// DeleteToken detaches the PaymentMethod, invalidating it for future charges.
func (g *Gateway) DeleteToken(ctx context.Context, token string) error {
	_, err := g.client.V1PaymentMethods.Detach(ctx, token, &stripe.PaymentMethodDetachParams{})
	if err != nil {
		return mapStripeError(err)
	}
	return nil
}

// TokenDetails returns the masked descriptor for a PaymentMethod.
func (g *Gateway) TokenDetails(ctx context.Context, token string) (*payments.MaskedCard, error) {
	pm, err := g.client.V1PaymentMethods.Retrieve(ctx, token, &stripe.PaymentMethodRetrieveParams{})
	if err != nil {
		return nil, mapStripeError(err)
	}
	masked := maskedFromPaymentMethod(pm)
	return &masked, nil
}

// ChargeSavedMethod charges a saved PaymentMethod off-session, which lets
// Stripe apply stored authentication exemptions for recurring merchants.
func (g *Gateway) ChargeSavedMethod(ctx context.Context, method *payments.SavedPaymentMethod, amount int64, currency string, metadata map[string]string) (*payments.PaymentResult, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(strings.ToLower(currency)),
		PaymentMethod: stripe.String(method.Token),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Metadata:      recurringMetadata(method, metadata),
	}

	pi, err := g.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return resultFromIntent(pi), nil
}

func (g *Gateway) MinimumRecurringInterval() time.Duration { return minRecurringInterval }

// Refund reverses a captured PaymentIntent. amount == 0 refunds the full
// remaining balance.
func (g *Gateway) Refund(ctx context.Context, transactionRef string, amount int64, reason string) (*payments.PaymentResult, error) {
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(transactionRef),
	}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	if reason != "" {
		params.Metadata = map[string]string{"reason": reason}
	}

	refund, err := g.client.V1Refunds.Create(ctx, params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	return &payments.PaymentResult{
		Success:        refund.Status != stripe.RefundStatusFailed,
		TransactionRef: transactionRef,
		Status:         payments.StatusRefunded,
		Amount:         refund.Amount,
		Currency:       strings.ToUpper(string(refund.Currency)),
		Raw:            rawPayload(refund.LastResponse),
	}, nil
}

func (g *Gateway) SupportsPartialRefunds() bool { return true }

func (g *Gateway) RefundWindow() *time.Duration {
	window := refundWindowDays * 24 * time.Hour
	return &window
}

// Void cancels an uncaptured PaymentIntent.
func (g *Gateway) Void(ctx context.Context, transactionRef string, reason string) (*payments.PaymentResult, error) {
	params := &stripe.PaymentIntentCancelParams{}
	if reason != "" {
		params.CancellationReason = stripe.String("requested_by_customer")
	}

	pi, err := g.client.V1PaymentIntents.Cancel(ctx, transactionRef, params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	return &payments.PaymentResult{
		Success:        pi.Status == stripe.PaymentIntentStatusCanceled,
		TransactionRef: transactionRef,
		Status:         payments.StatusVoided,
		Amount:         pi.Amount,
		Currency:       strings.ToUpper(string(pi.Currency)),
		Raw:            rawPayload(pi.LastResponse),
	}, nil
}

// VoidWindow is nil: Stripe accepts cancellation any time before capture.
func (g *Gateway) VoidWindow() *time.Duration { return nil }

// CanVoid only requires the transaction to be uncaptured.
func (g *Gateway) CanVoid(tx *payments.Transaction, now time.Time) bool {
	return tx != nil && tx.Status == payments.StatusAuthorized
}

func recurringMetadata(method *payments.SavedPaymentMethod, metadata map[string]string) map[string]string {
	merged := map[string]string{
		"tenant_id":       method.TenantID,
		"saved_method_id": method.ID,
		"recurring":       strconv.FormatBool(true),
	}
	for k, v := range metadata {
		merged[k] = v
	}
	return merged
}

func maskedFromPaymentMethod(pm *stripe.PaymentMethod) payments.MaskedCard {
	masked := payments.MaskedCard{}
	if pm.Card != nil {
		masked.LastFour = pm.Card.Last4
		masked.Brand = string(pm.Card.Brand)
		masked.ExpMonth = int(pm.Card.ExpMonth)
		masked.ExpYear = int(pm.Card.ExpYear)
	}
	return masked
}

func isCardCode(code payments.ErrorCode) bool {
	switch code {
	case payments.CodeCardDeclined, payments.CodeExpiredCard, payments.CodeInvalidCard, payments.CodeInsufficientFunds:
		return true
	}
	return false
}
