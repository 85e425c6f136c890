package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

func newPendingTransaction(id, ref string) *payments.Transaction {
	now := time.Now().UTC()
	return &payments.Transaction{
		ID:         id,
		TenantID:   "academy-1",
		Gateway:    "paymob",
		GatewayRef: ref,
		Amount:     10000,
		Currency:   "EGP",
		Status:     payments.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateAndLookupTransaction(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, newPendingTransaction("tx-1", "ref-1")))

	byID, err := store.Transaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "ref-1", byID.GatewayRef)

	byRef, err := store.TransactionByRef(ctx, "paymob", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", byRef.ID)

	_, err = store.Transaction(ctx, "missing")
	assert.ErrorIs(t, err, payments.ErrTransactionNotFound)

	_, err = store.TransactionByRef(ctx, "stripe", "ref-1")
	assert.ErrorIs(t, err, payments.ErrTransactionNotFound)
}

func TestCreateTransactionDuplicateID(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, newPendingTransaction("tx-1", "ref-1")))
	assert.Error(t, store.CreateTransaction(ctx, newPendingTransaction("tx-1", "ref-2")))
}

func TestTransactionCopiesAreDefensive(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, newPendingTransaction("tx-1", "ref-1")))

	first, err := store.Transaction(ctx, "tx-1")
	require.NoError(t, err)
	first.Status = payments.StatusFailed

	second, err := store.Transaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPending, second.Status, "mutating a returned transaction must not affect the store")
}

func TestUpdateStatusEnforcesStateMachine(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateTransaction(ctx, newPendingTransaction("tx-1", "ref-1")))

	require.NoError(t, store.UpdateStatus(ctx, "tx-1", payments.StatusCaptured, now))

	tx, err := store.Transaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCaptured, tx.Status)
	require.NotNil(t, tx.CapturedAt)

	// captured -> voided is illegal
	err = store.UpdateStatus(ctx, "tx-1", payments.StatusVoided, now)
	assert.ErrorIs(t, err, payments.ErrInvalidTransition)
}

func TestApplyEventTransitionsAndRecords(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, newPendingTransaction("tx-1", "ref-1")))

	outcome, err := store.ApplyEvent(ctx, &payments.EventApplication{
		Gateway:       "paymob",
		EventID:       "evt-1",
		TransactionID: "tx-1",
		EventType:     payments.EventTransaction,
		Succeeded:     true,
		OccurredAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, payments.StatusCaptured, outcome.Status)

	tx, err := store.Transaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCaptured, tx.Status)

	recorded, err := store.EventOutcome(ctx, "paymob", "evt-1")
	require.NoError(t, err)
	require.NotNil(t, recorded)
	assert.Equal(t, "tx-1", recorded.TransactionID)
}

func TestApplyEventStampsProviderTimestamp(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, newPendingTransaction("tx-1", "ref-1")))

	occurred := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	outcome, err := store.ApplyEvent(ctx, &payments.EventApplication{
		Gateway:       "paymob",
		EventID:       "evt-1",
		TransactionID: "tx-1",
		EventType:     payments.EventTransaction,
		Succeeded:     true,
		OccurredAt:    occurred,
	})
	require.NoError(t, err)
	require.True(t, outcome.Applied)

	// The transition carries the provider-reported time, not the wall clock
	// at processing.
	tx, err := store.Transaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, occurred, tx.UpdatedAt)
	require.NotNil(t, tx.CapturedAt)
	assert.Equal(t, occurred, *tx.CapturedAt)
}

func TestApplyEventDuplicateReturnsPriorOutcome(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, newPendingTransaction("tx-1", "ref-1")))

	app := &payments.EventApplication{
		Gateway:       "paymob",
		EventID:       "evt-1",
		TransactionID: "tx-1",
		EventType:     payments.EventTransaction,
		Succeeded:     true,
		OccurredAt:    time.Now().UTC(),
	}
	first, err := store.ApplyEvent(ctx, app)
	require.NoError(t, err)
	require.True(t, first.Applied)

	// Redelivery: no state change, prior outcome with Duplicate set.
	second, err := store.ApplyEvent(ctx, app)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.TransactionID, second.TransactionID)
}

func TestApplyEventOutOfOrderIsRecordedNoOp(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, newPendingTransaction("tx-1", "ref-1")))

	// Refund before capture: illegal transition, recorded as a no-op.
	outcome, err := store.ApplyEvent(ctx, &payments.EventApplication{
		Gateway:       "paymob",
		EventID:       "evt-refund",
		TransactionID: "tx-1",
		EventType:     payments.EventRefund,
		Succeeded:     true,
		OccurredAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.Equal(t, "illegal_transition", outcome.Note)

	// The transaction did not move.
	tx, err := store.Transaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPending, tx.Status)

	// The event is still durably deduplicated.
	recorded, err := store.EventOutcome(ctx, "paymob", "evt-refund")
	require.NoError(t, err)
	require.NotNil(t, recorded)
}

func TestApplyEventUnknownTransactionRecordsNothing(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.ApplyEvent(ctx, &payments.EventApplication{
		Gateway:       "paymob",
		EventID:       "evt-1",
		TransactionID: "missing",
		EventType:     payments.EventTransaction,
		Succeeded:     true,
	})
	assert.ErrorIs(t, err, payments.ErrTransactionNotFound)

	// Nothing recorded: the provider's retry must be able to complete.
	recorded, err := store.EventOutcome(ctx, "paymob", "evt-1")
	require.NoError(t, err)
	assert.Nil(t, recorded)
}

func TestApplyEventConcurrentDeliveries(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, newPendingTransaction("tx-1", "ref-1")))

	const workers = 32
	outcomes := make([]*payments.EventOutcome, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = store.ApplyEvent(ctx, &payments.EventApplication{
				Gateway:       "paymob",
				EventID:       "evt-race",
				TransactionID: "tx-1",
				EventType:     payments.EventTransaction,
				Succeeded:     true,
				OccurredAt:    time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	// Exactly one winner applied the transition.
	winners := 0
	for _, outcome := range outcomes {
		require.NotNil(t, outcome)
		assert.Equal(t, payments.StatusCaptured, outcome.Status)
		if !outcome.Duplicate {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	tx, err := store.Transaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCaptured, tx.Status)
}

func TestSavedMethodLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	method := &payments.SavedPaymentMethod{
		ID:       "pm-1",
		TenantID: "academy-1",
		UserID:   "user-1",
		Gateway:  "stripe",
		Token:    "tok-1",
		Masked:   payments.MaskedCard{LastFour: "4242", Brand: "visa"},
		CanRecur: true,
	}
	require.NoError(t, store.PutSavedMethod(ctx, method))

	loaded, err := store.SavedMethod(ctx, "pm-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", loaded.Token)
	assert.True(t, loaded.LastChargedAt.IsZero())

	chargedAt := time.Now().UTC()
	require.NoError(t, store.TouchSavedMethodCharge(ctx, "pm-1", chargedAt))

	loaded, err = store.SavedMethod(ctx, "pm-1")
	require.NoError(t, err)
	assert.Equal(t, chargedAt, loaded.LastChargedAt)

	_, err = store.SavedMethod(ctx, "missing")
	assert.ErrorIs(t, err, payments.ErrSavedMethodNotFound)

	assert.Error(t, store.TouchSavedMethodCharge(ctx, "missing", chargedAt))
}
