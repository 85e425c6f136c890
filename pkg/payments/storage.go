package payments

import (
	"context"
	"time"
)

// EventApplication asks the store to transition a transaction and record the
// provider event as processed, atomically. Either both commit or neither
// does; this is the recovery boundary for webhook re-delivery.
type EventApplication struct {
	// Gateway and EventID form the unique dedup key.
	Gateway string
	EventID string

	// TransactionID is the local transaction to transition.
	TransactionID string

	// EventType and Succeeded determine the target status via
	// StatusForEvent.
	EventType EventType
	Succeeded bool

	// OccurredAt is the provider-side event timestamp.
	OccurredAt time.Time
}

// AppliedAt is the timestamp stores stamp on the applied transition: the
// provider-reported occurrence time when present, wall clock otherwise.
func (a *EventApplication) AppliedAt() time.Time {
	if !a.OccurredAt.IsZero() {
		return a.OccurredAt
	}
	return time.Now().UTC()
}

// Store is the durable collaborator behind the orchestrators and the webhook
// ingestion pipeline: the transaction aggregate, the idempotency log, and
// saved payment methods.
//
// ApplyEvent must be safe under concurrent invocation for the same
// (Gateway, EventID): exactly one caller applies the transition, every other
// caller gets the winner's recorded outcome with Duplicate set.
type Store interface {
	// CreateTransaction persists a new transaction aggregate.
	CreateTransaction(ctx context.Context, tx *Transaction) error

	// Transaction looks up a transaction by internal id.
	// Returns ErrTransactionNotFound if absent.
	Transaction(ctx context.Context, id string) (*Transaction, error)

	// TransactionByRef looks up a transaction by gateway name and
	// gateway-side reference. Returns ErrTransactionNotFound if absent.
	TransactionByRef(ctx context.Context, gateway, ref string) (*Transaction, error)

	// UpdateStatus transitions a transaction outside webhook ingestion
	// (orchestrator-confirmed provider responses). Rejects illegal
	// transitions with ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, next Status, at time.Time) error

	// ApplyEvent atomically records the event in the idempotency log and
	// applies the status transition. If the event was already recorded, no
	// state changes and the prior outcome is returned with Duplicate=true.
	// An event that arrives out of order is recorded with Applied=false
	// rather than rejected. If the transaction does not exist the event is
	// NOT recorded and ErrTransactionNotFound is returned, so a provider
	// retry can complete once the transaction row lands.
	ApplyEvent(ctx context.Context, app *EventApplication) (*EventOutcome, error)

	// EventOutcome reads back a processed event's outcome. Returns
	// (nil, nil) when the event has not been processed.
	EventOutcome(ctx context.Context, gateway, eventID string) (*EventOutcome, error)

	// SavedMethod looks up a saved payment method by id.
	// Returns ErrSavedMethodNotFound if absent.
	SavedMethod(ctx context.Context, id string) (*SavedPaymentMethod, error)

	// PutSavedMethod persists a saved payment method (token + masked
	// descriptor only, never raw card data).
	PutSavedMethod(ctx context.Context, m *SavedPaymentMethod) error

	// TouchSavedMethodCharge records the time a method was last charged,
	// which gates the minimum recurring interval.
	TouchSavedMethodCharge(ctx context.Context, id string, at time.Time) error
}
