// Package memory provides an in-memory implementation of the payments.Store
// interface. This implementation is primarily intended for testing and
// development; the mutex is the atomicity unit for apply-and-record.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

// Store implements payments.Store using in-memory maps.
type Store struct {
	mu           sync.RWMutex
	transactions map[string]*payments.Transaction
	byRef        map[string]string // gateway+"\x00"+ref -> transaction id
	events       map[string]*payments.ProcessedEventRecord
	methods      map[string]*payments.SavedPaymentMethod
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		transactions: make(map[string]*payments.Transaction),
		byRef:        make(map[string]string),
		events:       make(map[string]*payments.ProcessedEventRecord),
		methods:      make(map[string]*payments.SavedPaymentMethod),
	}
}

func refKey(gateway, ref string) string  { return gateway + "\x00" + ref }
func eventKey(gateway, id string) string { return gateway + "\x00" + id }

// CreateTransaction implements payments.Store.
func (s *Store) CreateTransaction(ctx context.Context, tx *payments.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("invalid transaction")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.ID]; exists {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	cp := cloneTransaction(tx)
	s.transactions[tx.ID] = cp
	if tx.GatewayRef != "" {
		s.byRef[refKey(tx.Gateway, tx.GatewayRef)] = tx.ID
	}
	return nil
}

// Transaction implements payments.Store.
func (s *Store) Transaction(ctx context.Context, id string) (*payments.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, payments.ErrTransactionNotFound
	}
	return cloneTransaction(tx), nil
}

// TransactionByRef implements payments.Store.
func (s *Store) TransactionByRef(ctx context.Context, gateway, ref string) (*payments.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRef[refKey(gateway, ref)]
	if !ok {
		return nil, payments.ErrTransactionNotFound
	}
	return cloneTransaction(s.transactions[id]), nil
}

// UpdateStatus implements payments.Store.
func (s *Store) UpdateStatus(ctx context.Context, id string, next payments.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return payments.ErrTransactionNotFound
	}
	if !payments.CanTransition(tx.Status, next) {
		return fmt.Errorf("%w: %s -> %s", payments.ErrInvalidTransition, tx.Status, next)
	}
	applyStatus(tx, next, at)
	return nil
}

// ApplyEvent implements payments.Store. The whole check-and-apply runs under
// one lock, so concurrent deliveries of the same event serialize here and
// the loser reads back the winner's outcome.
func (s *Store) ApplyEvent(ctx context.Context, app *payments.EventApplication) (*payments.EventOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey(app.Gateway, app.EventID)
	if rec, exists := s.events[key]; exists {
		out := rec.Outcome
		out.Duplicate = true
		return &out, nil
	}

	tx, ok := s.transactions[app.TransactionID]
	if !ok {
		// Not recorded: the provider retry can complete this later.
		return nil, payments.ErrTransactionNotFound
	}

	next := payments.StatusForEvent(app.EventType, app.Succeeded)
	outcome := payments.EventOutcome{
		TransactionID: tx.ID,
		Status:        tx.Status,
	}
	if payments.CanTransition(tx.Status, next) {
		applyStatus(tx, next, app.AppliedAt())
		outcome.Status = next
		outcome.Applied = true
	} else {
		outcome.Note = "illegal_transition"
	}

	s.events[key] = &payments.ProcessedEventRecord{
		Gateway:     app.Gateway,
		EventID:     app.EventID,
		ProcessedAt: time.Now(),
		Outcome:     outcome,
	}
	out := outcome
	return &out, nil
}

// EventOutcome implements payments.Store.
func (s *Store) EventOutcome(ctx context.Context, gateway, eventID string) (*payments.EventOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.events[eventKey(gateway, eventID)]
	if !ok {
		return nil, nil
	}
	out := rec.Outcome
	out.Duplicate = true
	return &out, nil
}

// SavedMethod implements payments.Store.
func (s *Store) SavedMethod(ctx context.Context, id string) (*payments.SavedPaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.methods[id]
	if !ok {
		return nil, payments.ErrSavedMethodNotFound
	}
	cp := *m
	return &cp, nil
}

// PutSavedMethod implements payments.Store.
func (s *Store) PutSavedMethod(ctx context.Context, m *payments.SavedPaymentMethod) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("invalid saved method")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	s.methods[m.ID] = &cp
	return nil
}

// TouchSavedMethodCharge implements payments.Store.
func (s *Store) TouchSavedMethodCharge(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.methods[id]
	if !ok {
		return payments.ErrSavedMethodNotFound
	}
	m.LastChargedAt = at
	return nil
}

func applyStatus(tx *payments.Transaction, next payments.Status, at time.Time) {
	tx.Status = next
	tx.UpdatedAt = at
	switch next {
	case payments.StatusAuthorized:
		t := at
		tx.AuthorizedAt = &t
	case payments.StatusCaptured:
		t := at
		tx.CapturedAt = &t
	}
}

func cloneTransaction(tx *payments.Transaction) *payments.Transaction {
	cp := *tx
	if tx.AuthorizedAt != nil {
		t := *tx.AuthorizedAt
		cp.AuthorizedAt = &t
	}
	if tx.CapturedAt != nil {
		t := *tx.CapturedAt
		cp.CapturedAt = &t
	}
	if tx.Metadata != nil {
		cp.Metadata = make(map[string]string, len(tx.Metadata))
		for k, v := range tx.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
