// Package redis provides a Redis implementation of the payments.Store
// interface. Event application uses a Lua script so the idempotency write
// and the status transition are a single atomic step on the server.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

// Store implements payments.Store using Redis.
type Store struct {
	client      redis.UniversalClient
	config      Config
	applyScript *redis.Script
}

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "tahseel:").
	KeyPrefix string

	// EventTTL is the retention window for processed-event records
	// (0 = no expiration). Must comfortably exceed the provider's maximum
	// retry horizon or late retries will reapply.
	EventTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "tahseel:",
		EventTTL:  90 * 24 * time.Hour,
	}
}

// New creates a new Redis store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "tahseel:"
	}

	s := &Store{client: client, config: config}

	// Atomic check-and-apply. Returns {flag, payload}:
	// flag 1 = event already processed (payload = recorded outcome),
	// flag 2 = transaction missing (nothing written),
	// flag 0 = applied now (payload = new outcome).
	s.applyScript = redis.NewScript(`
		local evtKey = KEYS[1]
		local txKey = KEYS[2]
		local nextStatus = ARGV[1]
		local now = ARGV[2]
		local evtTTL = tonumber(ARGV[3])
		local allowed = ARGV[4]

		local existing = redis.call('GET', evtKey)
		if existing then
			return {1, existing}
		end

		local txData = redis.call('GET', txKey)
		if not txData then
			return {2, ''}
		end

		local tx = cjson.decode(txData)
		local legal = false
		for s in string.gmatch(allowed, '[^,]+') do
			if tx.status == s then
				legal = true
			end
		end

		local outcome
		if legal then
			tx.status = nextStatus
			tx.updated_at = now
			if nextStatus == 'captured' then
				tx.captured_at = now
			elseif nextStatus == 'authorized' then
				tx.authorized_at = now
			end
			redis.call('SET', txKey, cjson.encode(tx))
			outcome = cjson.encode({transaction_id=tx.id, status=nextStatus, applied=true})
		else
			outcome = cjson.encode({transaction_id=tx.id, status=tx.status, applied=false, note='illegal_transition'})
		end

		if evtTTL > 0 then
			redis.call('SET', evtKey, outcome, 'EX', evtTTL)
		else
			redis.call('SET', evtKey, outcome)
		end
		return {0, outcome}
	`)

	return s, nil
}

func (s *Store) txKey(id string) string { return s.config.KeyPrefix + "tx:" + id }
func (s *Store) refKey(gateway, ref string) string {
	return s.config.KeyPrefix + "txref:" + gateway + ":" + ref
}
func (s *Store) evtKey(gateway, id string) string {
	return s.config.KeyPrefix + "evt:" + gateway + ":" + id
}
func (s *Store) methodKey(id string) string { return s.config.KeyPrefix + "method:" + id }

// txDoc is the stored transaction shape. Field names are shared with the
// apply script.
type txDoc struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	Gateway      string            `json:"gateway"`
	GatewayRef   string            `json:"gateway_ref"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	AuthorizedAt *time.Time        `json:"authorized_at,omitempty"`
	CapturedAt   *time.Time        `json:"captured_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func toDoc(tx *payments.Transaction) *txDoc {
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

func fromDoc(d *txDoc) *payments.Transaction {
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
	data, err := json.Marshal(toDoc(tx))
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.txKey(tx.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", payments.ErrStoreUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	if tx.GatewayRef != "" {
		if err := s.client.Set(ctx, s.refKey(tx.Gateway, tx.GatewayRef), tx.ID, 0).Err(); err != nil {
			return fmt.Errorf("%w: %v", payments.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// Transaction implements payments.Store.
func (s *Store) Transaction(ctx context.Context, id string) (*payments.Transaction, error) {
	data, err := s.client.Get(ctx, s.txKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, payments.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: %v", payments.ErrStoreUnavailable, err)
	}
	var d txDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return fromDoc(&d), nil
}

// TransactionByRef implements payments.Store.
func (s *Store) TransactionByRef(ctx context.Context, gateway, ref string) (*payments.Transaction, error) {
	id, err := s.client.Get(ctx, s.refKey(gateway, ref)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, payments.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: %v", payments.ErrStoreUnavailable, err)
	}
	return s.Transaction(ctx, id)
}

// UpdateStatus implements payments.Store.
func (s *Store) UpdateStatus(ctx context.Context, id string, next payments.Status, at time.Time) error {
	// Optimistic transaction on the single key.
	key := s.txKey(id)
	return s.client.Watch(ctx, func(rtx *redis.Tx) error {
		data, err := rtx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return payments.ErrTransactionNotFound
			}
			return err
		}
		var d txDoc
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		if !payments.CanTransition(payments.Status(d.Status), next) {
			return fmt.Errorf("%w: %s -> %s", payments.ErrInvalidTransition, d.Status, next)
		}
		d.Status = string(next)
		d.UpdatedAt = at
		switch next {
		case payments.StatusAuthorized:
			t := at
			d.AuthorizedAt = &t
		case payments.StatusCaptured:
			t := at
			d.CapturedAt = &t
		}
		updated, err := json.Marshal(&d)
		if err != nil {
			return err
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
}

// ApplyEvent implements payments.Store.
func (s *Store) ApplyEvent(ctx context.Context, app *payments.EventApplication) (*payments.EventOutcome, error) {
	next := payments.StatusForEvent(app.EventType, app.Succeeded)

	// Statuses from which the target status is reachable; the script
	// compares the stored status against this list.
	var allowed []string
	for _, from := range []payments.Status{
		payments.StatusPending, payments.StatusAuthorized, payments.StatusCaptured,
		payments.StatusFailed, payments.StatusRefunded, payments.StatusVoided,
	} {
		if payments.CanTransition(from, next) {
			allowed = append(allowed, string(from))
		}
	}

	res, err := s.applyScript.Run(ctx, s.client,
		[]string{s.evtKey(app.Gateway, app.EventID), s.txKey(app.TransactionID)},
		string(next),
		app.AppliedAt().Format(time.RFC3339Nano),
		int64(s.config.EventTTL/time.Second),
		strings.Join(allowed, ","),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payments.ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected apply script result: %v", res)
	}

	flag, _ := res[0].(int64)
	payload, _ := res[1].(string)
	if flag == 2 {
		return nil, payments.ErrTransactionNotFound
	}

	var out payments.EventOutcome
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event outcome: %w", err)
	}
	out.Duplicate = flag == 1
	return &out, nil
}

// EventOutcome implements payments.Store.
func (s *Store) EventOutcome(ctx context.Context, gateway, eventID string) (*payments.EventOutcome, error) {
	data, err := s.client.Get(ctx, s.evtKey(gateway, eventID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", payments.ErrStoreUnavailable, err)
	}
	var out payments.EventOutcome
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event outcome: %w", err)
	}
	out.Duplicate = true
	return &out, nil
}

// methodDoc is the stored saved-method shape.
type methodDoc struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	UserID             string    `json:"user_id"`
	Gateway            string    `json:"gateway"`
	Token              string    `json:"token"`
	Brand              string    `json:"brand"`
	LastFour           string    `json:"last_four"`
	ExpMonth           int       `json:"exp_month"`
	ExpYear            int       `json:"exp_year"`
	CanRecur           bool      `json:"can_recur"`
	MinIntervalSeconds int64     `json:"min_interval_seconds"`
	LastChargedAt      time.Time `json:"last_charged_at"`
}

// SavedMethod implements payments.Store.
func (s *Store) SavedMethod(ctx context.Context, id string) (*payments.SavedPaymentMethod, error) {
	data, err := s.client.Get(ctx, s.methodKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, payments.ErrSavedMethodNotFound
		}
		return nil, fmt.Errorf("%w: %v", payments.ErrStoreUnavailable, err)
	}
	var d methodDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal saved method: %w", err)
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
	data, err := json.Marshal(&methodDoc{
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
		return fmt.Errorf("failed to marshal saved method: %w", err)
	}
	if err := s.client.Set(ctx, s.methodKey(m.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", payments.ErrStoreUnavailable, err)
	}
	return nil
}

// TouchSavedMethodCharge implements payments.Store.
func (s *Store) TouchSavedMethodCharge(ctx context.Context, id string, at time.Time) error {
	m, err := s.SavedMethod(ctx, id)
	if err != nil {
		return err
	}
	m.LastChargedAt = at
	return s.PutSavedMethod(ctx, m)
}
