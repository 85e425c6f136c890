// Package firestore provides a Cloud Firestore implementation of the
// payments.Store interface. Event application runs in a Firestore
// transaction; Create on the event document makes the dedup insert atomic
// with the status transition (AlreadyExists loses the race).
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

// Store implements payments.Store using Google Cloud Firestore.
type Store struct {
	client                 *firestore.Client
	transactionsCollection string
	eventsCollection       string
	methodsCollection      string
}

// Config holds Firestore store configuration.
type Config struct {
	// TransactionsCollection is the collection for payment transactions.
	// Default: "payment_transactions"
	TransactionsCollection string

	// EventsCollection is the collection for processed webhook events.
	// Default: "payment_webhook_events"
	EventsCollection string

	// MethodsCollection is the collection for saved payment methods.
	// Default: "payment_methods"
	MethodsCollection string
}

// New creates a new Firestore store.
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.TransactionsCollection == "" {
		config.TransactionsCollection = "payment_transactions"
	}
	if config.EventsCollection == "" {
		config.EventsCollection = "payment_webhook_events"
	}
	if config.MethodsCollection == "" {
		config.MethodsCollection = "payment_methods"
	}
	return &Store{
		client:                 client,
		transactionsCollection: config.TransactionsCollection,
		eventsCollection:       config.EventsCollection,
		methodsCollection:      config.MethodsCollection,
	}, nil
}

// txDoc is the Firestore document shape for a transaction.
type txDoc struct {
	ID           string            `firestore:"id"`
	TenantID     string            `firestore:"tenant_id"`
	Gateway      string            `firestore:"gateway"`
	GatewayRef   string            `firestore:"gateway_ref"`
	Amount       int64             `firestore:"amount"`
	Currency     string            `firestore:"currency"`
	Status       string            `firestore:"status"`
	AuthorizedAt *time.Time        `firestore:"authorized_at,omitempty"`
	CapturedAt   *time.Time        `firestore:"captured_at,omitempty"`
	CreatedAt    time.Time         `firestore:"created_at"`
	UpdatedAt    time.Time         `firestore:"updated_at"`
	Metadata     map[string]string `firestore:"metadata,omitempty"`
}

type eventDoc struct {
	Gateway       string    `firestore:"gateway"`
	EventID       string    `firestore:"event_id"`
	TransactionID string    `firestore:"transaction_id"`
	EventType     string    `firestore:"event_type"`
	Status        string    `firestore:"status"`
	Applied       bool      `firestore:"applied"`
	Note          string    `firestore:"note"`
	ProcessedAt   time.Time `firestore:"processed_at"`
}

type methodDoc struct {
	ID                 string    `firestore:"id"`
	TenantID           string    `firestore:"tenant_id"`
	UserID             string    `firestore:"user_id"`
	Gateway            string    `firestore:"gateway"`
	Token              string    `firestore:"token"`
	Brand              string    `firestore:"brand"`
	LastFour           string    `firestore:"last_four"`
	ExpMonth           int       `firestore:"exp_month"`
	ExpYear            int       `firestore:"exp_year"`
	CanRecur           bool      `firestore:"can_recur"`
	MinIntervalSeconds int64     `firestore:"min_interval_seconds"`
	LastChargedAt      time.Time `firestore:"last_charged_at"`
}

func eventDocID(gateway, eventID string) string { return gateway + "_" + eventID }

func toTxDoc(tx *payments.Transaction) *txDoc {
	return &txDoc{
		ID:           tx.ID,
		TenantID:     tx.TenantID,
		Gateway:      tx.Gateway,
		GatewayRef:   tx.GatewayRef,
		Amount:       tx.Amount,
		Currency:     tx.Currency,
		Status:       string(tx.Status),
		AuthorizedAt: tx.AuthorizedAt,
		CapturedAt:   tx.CapturedAt,
		CreatedAt:    tx.CreatedAt,
		UpdatedAt:    tx.UpdatedAt,
		Metadata:     tx.Metadata,
	}
}

func fromTxDoc(d *txDoc) *payments.Transaction {
	return &payments.Transaction{
		ID:           d.ID,
		TenantID:     d.TenantID,
		Gateway:      d.Gateway,
		GatewayRef:   d.GatewayRef,
		Amount:       d.Amount,
		Currency:     d.Currency,
		Status:       payments.Status(d.Status),
		AuthorizedAt: d.AuthorizedAt,
		CapturedAt:   d.CapturedAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		Metadata:     d.Metadata,
	}
}

// CreateTransaction implements payments.Store.
func (s *Store) CreateTransaction(ctx context.Context, tx *payments.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("invalid transaction")
	}
	_, err := s.client.Collection(s.transactionsCollection).Doc(tx.ID).Create(ctx, toTxDoc(tx))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("transaction %s already exists", tx.ID)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// Transaction implements payments.Store.
func (s *Store) Transaction(ctx context.Context, id string) (*payments.Transaction, error) {
	snap, err := s.client.Collection(s.transactionsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, payments.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	var d txDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return fromTxDoc(&d), nil
}

// TransactionByRef implements payments.Store.
func (s *Store) TransactionByRef(ctx context.Context, gateway, ref string) (*payments.Transaction, error) {
	iter := s.client.Collection(s.transactionsCollection).
		Where("gateway", "==", gateway).
		Where("gateway_ref", "==", ref).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err != nil {
		if errors.Is(err, iterator.Done) {
			return nil, payments.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to query transaction by ref: %w", err)
	}
	var d txDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return fromTxDoc(&d), nil
}

// UpdateStatus implements payments.Store.
func (s *Store) UpdateStatus(ctx context.Context, id string, next payments.Status, at time.Time) error {
	docRef := s.client.Collection(s.transactionsCollection).Doc(id)
	return s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		snap, err := ftx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return payments.ErrTransactionNotFound
			}
			return err
		}
		var d txDoc
		if err := snap.DataTo(&d); err != nil {
			return err
		}
		if !payments.CanTransition(payments.Status(d.Status), next) {
			return fmt.Errorf("%w: %s -> %s", payments.ErrInvalidTransition, d.Status, next)
		}
		return ftx.Update(docRef, statusUpdates(next, at))
	})
}

// ApplyEvent implements payments.Store.
func (s *Store) ApplyEvent(ctx context.Context, app *payments.EventApplication) (*payments.EventOutcome, error) {
	eventRef := s.client.Collection(s.eventsCollection).Doc(eventDocID(app.Gateway, app.EventID))
	txRef := s.client.Collection(s.transactionsCollection).Doc(app.TransactionID)

	var outcome *payments.EventOutcome
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		evtSnap, err := ftx.Get(eventRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && evtSnap.Exists() {
			var rec eventDoc
			if err := evtSnap.DataTo(&rec); err != nil {
				return err
			}
			outcome = &payments.EventOutcome{
				TransactionID: rec.TransactionID,
				Status:        payments.Status(rec.Status),
				Applied:       rec.Applied,
				Note:          rec.Note,
				Duplicate:     true,
			}
			return nil
		}

		txSnap, err := ftx.Get(txRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				// Nothing written; the event stays retryable.
				return payments.ErrTransactionNotFound
			}
			return err
		}
		var d txDoc
		if err := txSnap.DataTo(&d); err != nil {
			return err
		}

		next := payments.StatusForEvent(app.EventType, app.Succeeded)
		out := payments.EventOutcome{
			TransactionID: d.ID,
			Status:        payments.Status(d.Status),
		}
		if payments.CanTransition(payments.Status(d.Status), next) {
			if err := ftx.Update(txRef, statusUpdates(next, app.AppliedAt())); err != nil {
				return err
			}
			out.Status = next
			out.Applied = true
		} else {
			out.Note = "illegal_transition"
		}

		if err := ftx.Create(eventRef, &eventDoc{
			Gateway:       app.Gateway,
			EventID:       app.EventID,
			TransactionID: d.ID,
			EventType:     string(app.EventType),
			Status:        string(out.Status),
			Applied:       out.Applied,
			Note:          out.Note,
			ProcessedAt:   time.Now(),
		}); err != nil {
			return err
		}
		outcome = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// EventOutcome implements payments.Store.
func (s *Store) EventOutcome(ctx context.Context, gateway, eventID string) (*payments.EventOutcome, error) {
	snap, err := s.client.Collection(s.eventsCollection).Doc(eventDocID(gateway, eventID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event outcome: %w", err)
	}
	var rec eventDoc
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode event outcome: %w", err)
	}
	return &payments.EventOutcome{
		TransactionID: rec.TransactionID,
		Status:        payments.Status(rec.Status),
		Applied:       rec.Applied,
		Note:          rec.Note,
		Duplicate:     true,
	}, nil
}

// SavedMethod implements payments.Store.
func (s *Store) SavedMethod(ctx context.Context, id string) (*payments.SavedPaymentMethod, error) {
	snap, err := s.client.Collection(s.methodsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, payments.ErrSavedMethodNotFound
		}
		return nil, fmt.Errorf("failed to get saved method: %w", err)
	}
	var d methodDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode saved method: %w", err)
	}
	return &payments.SavedPaymentMethod{
		ID:       d.ID,
		TenantID: d.TenantID,
		UserID:   d.UserID,
		Gateway:  d.Gateway,
		Token:    d.Token,
		Masked: payments.MaskedCard{
			Brand:    d.Brand,
			LastFour: d.LastFour,
			ExpMonth: d.ExpMonth,
			ExpYear:  d.ExpYear,
		},
		CanRecur:             d.CanRecur,
		MinRecurringInterval: time.Duration(d.MinIntervalSeconds) * time.Second,
		LastChargedAt:        d.LastChargedAt,
	}, nil
}

// PutSavedMethod implements payments.Store.
func (s *Store) PutSavedMethod(ctx context.Context, m *payments.SavedPaymentMethod) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("invalid saved method")
	}
	_, err := s.client.Collection(s.methodsCollection).Doc(m.ID).Set(ctx, &methodDoc{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		UserID:             m.UserID,
		Gateway:            m.Gateway,
		Token:              m.Token,
		Brand:              m.Masked.Brand,
		LastFour:           m.Masked.LastFour,
		ExpMonth:           m.Masked.ExpMonth,
		ExpYear:            m.Masked.ExpYear,
		CanRecur:           m.CanRecur,
		MinIntervalSeconds: int64(m.MinRecurringInterval / time.Second),
		LastChargedAt:      m.LastChargedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to store saved method: %w", err)
	}
	return nil
}

// TouchSavedMethodCharge implements payments.Store.
func (s *Store) TouchSavedMethodCharge(ctx context.Context, id string, at time.Time) error {
	_, err := s.client.Collection(s.methodsCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "last_charged_at", Value: at},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return payments.ErrSavedMethodNotFound
		}
		return fmt.Errorf("failed to update last charge time: %w", err)
	}
	return nil
}

func statusUpdates(next payments.Status, at time.Time) []firestore.Update {
	updates := []firestore.Update{
		{Path: "status", Value: string(next)},
		{Path: "updated_at", Value: at},
	}
	switch next {
	case payments.StatusAuthorized:
		updates = append(updates, firestore.Update{Path: "authorized_at", Value: at})
	case payments.StatusCaptured:
		updates = append(updates, firestore.Update{Path: "captured_at", Value: at})
	}
	return updates
}
