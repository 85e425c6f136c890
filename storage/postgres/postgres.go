// Package postgres provides a PostgreSQL implementation of the
// payments.Store interface. Event application runs inside a single SQL
// transaction: the idempotency insert and the status transition commit
// together or not at all, with the unique (gateway, event_id) constraint
// deciding races between concurrent deliveries.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tahseelhq/tahseel/pkg/payments"
)

// Store implements payments.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config

	stopCleanup func()
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// CleanupEnabled turns on background pruning of processed events past
	// the retention window.
	CleanupEnabled  bool
	CleanupInterval time.Duration
	EventRetention  time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		CleanupEnabled:  true,
		CleanupInterval: time.Hour,
		EventRetention:  90 * 24 * time.Hour,
	}
}

// New creates a new PostgreSQL store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	if config.CleanupEnabled {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Migrate creates the required tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS payment_transactions (
			id            TEXT PRIMARY KEY,
			tenant_id     TEXT NOT NULL,
			gateway       TEXT NOT NULL,
			gateway_ref   TEXT NOT NULL DEFAULT '',
			amount        BIGINT NOT NULL,
			currency      TEXT NOT NULL,
			status        TEXT NOT NULL,
			authorized_at TIMESTAMPTZ,
			captured_at   TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			metadata      JSONB NOT NULL DEFAULT '{}'::jsonb
		);
		CREATE INDEX IF NOT EXISTS payment_transactions_gateway_ref_idx
			ON payment_transactions (gateway, gateway_ref);

		CREATE TABLE IF NOT EXISTS processed_webhook_events (
			gateway        TEXT NOT NULL,
			event_id       TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			status         TEXT NOT NULL,
			applied        BOOLEAN NOT NULL,
			note           TEXT NOT NULL DEFAULT '',
			processed_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (gateway, event_id)
		);

		CREATE TABLE IF NOT EXISTS saved_payment_methods (
			id                   TEXT PRIMARY KEY,
			tenant_id            TEXT NOT NULL,
			user_id              TEXT NOT NULL,
			gateway              TEXT NOT NULL,
			token                TEXT NOT NULL,
			brand                TEXT NOT NULL DEFAULT '',
			last_four            TEXT NOT NULL DEFAULT '',
			exp_month            INT NOT NULL DEFAULT 0,
			exp_year             INT NOT NULL DEFAULT 0,
			can_recur            BOOLEAN NOT NULL DEFAULT false,
			min_interval_seconds BIGINT NOT NULL DEFAULT 0,
			last_charged_at      TIMESTAMPTZ
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close shuts down the pool and the cleanup worker.
func (s *Store) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	s.pool.Close()
}

// CreateTransaction implements payments.Store.
func (s *Store) CreateTransaction(ctx context.Context, tx *payments.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("invalid transaction")
	}
	meta, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO payment_transactions
			(id, tenant_id, gateway, gateway_ref, amount, currency, status,
			 authorized_at, captured_at, created_at, updated_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, tx.ID, tx.TenantID, tx.Gateway, tx.GatewayRef, tx.Amount, tx.Currency,
		string(tx.Status), tx.AuthorizedAt, tx.CapturedAt, tx.CreatedAt, tx.UpdatedAt, meta)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// Transaction implements payments.Store.
func (s *Store) Transaction(ctx context.Context, id string) (*payments.Transaction, error) {
	return s.scanTransaction(s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, gateway, gateway_ref, amount, currency, status,
		       authorized_at, captured_at, created_at, updated_at, metadata
		FROM payment_transactions WHERE id = $1
	`, id))
}

// TransactionByRef implements payments.Store.
func (s *Store) TransactionByRef(ctx context.Context, gateway, ref string) (*payments.Transaction, error) {
	return s.scanTransaction(s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, gateway, gateway_ref, amount, currency, status,
		       authorized_at, captured_at, created_at, updated_at, metadata
		FROM payment_transactions WHERE gateway = $1 AND gateway_ref = $2
	`, gateway, ref))
}

func (s *Store) scanTransaction(row pgx.Row) (*payments.Transaction, error) {
	var tx payments.Transaction
	var status string
	var meta []byte
	err := row.Scan(&tx.ID, &tx.TenantID, &tx.Gateway, &tx.GatewayRef, &tx.Amount,
		&tx.Currency, &status, &tx.AuthorizedAt, &tx.CapturedAt, &tx.CreatedAt,
		&tx.UpdatedAt, &meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payments.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	tx.Status = payments.Status(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &tx, nil
}

// UpdateStatus implements payments.Store.
func (s *Store) UpdateStatus(ctx context.Context, id string, next payments.Status, at time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(dbtx pgx.Tx) error {
		var current string
		err := dbtx.QueryRow(ctx,
			`SELECT status FROM payment_transactions WHERE id = $1 FOR UPDATE`, id,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return payments.ErrTransactionNotFound
			}
			return err
		}
		if !payments.CanTransition(payments.Status(current), next) {
			return fmt.Errorf("%w: %s -> %s", payments.ErrInvalidTransition, current, next)
		}
		return execStatusUpdate(ctx, dbtx, id, next, at)
	})
}

// ApplyEvent implements payments.Store. Single SQL transaction: insert the
// dedup row, lock the transaction row, transition. A conflicting insert
// means another delivery won the race; the loser reads back its outcome.
func (s *Store) ApplyEvent(ctx context.Context, app *payments.EventApplication) (*payments.EventOutcome, error) {
	var outcome *payments.EventOutcome

	err := pgx.BeginFunc(ctx, s.pool, func(dbtx pgx.Tx) error {
		tag, err := dbtx.Exec(ctx, `
			INSERT INTO processed_webhook_events
				(gateway, event_id, transaction_id, event_type, status, applied, note, processed_at)
			VALUES ($1, $2, $3, $4, '', false, '', now())
			ON CONFLICT (gateway, event_id) DO NOTHING
		`, app.Gateway, app.EventID, app.TransactionID, string(app.EventType))
		if err != nil {
			return fmt.Errorf("failed to insert event record: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Lost the race or a genuine provider retry. Read back the
			// winner's outcome after our own insert attempt committed
			// nothing.
			out, err := s.readOutcome(ctx, dbtx, app.Gateway, app.EventID)
			if err != nil {
				return err
			}
			outcome = out
			return nil
		}

		var current string
		err = dbtx.QueryRow(ctx,
			`SELECT status FROM payment_transactions WHERE id = $1 FOR UPDATE`,
			app.TransactionID,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Roll back the event insert too: the event stays
				// unprocessed and retryable.
				return payments.ErrTransactionNotFound
			}
			return err
		}

		next := payments.StatusForEvent(app.EventType, app.Succeeded)
		out := payments.EventOutcome{
			TransactionID: app.TransactionID,
			Status:        payments.Status(current),
		}
		if payments.CanTransition(payments.Status(current), next) {
			if err := execStatusUpdate(ctx, dbtx, app.TransactionID, next, app.AppliedAt()); err != nil {
				return err
			}
			out.Status = next
			out.Applied = true
		} else {
			out.Note = "illegal_transition"
		}

		_, err = dbtx.Exec(ctx, `
			UPDATE processed_webhook_events
			SET status = $3, applied = $4, note = $5
			WHERE gateway = $1 AND event_id = $2
		`, app.Gateway, app.EventID, string(out.Status), out.Applied, out.Note)
		if err != nil {
			return fmt.Errorf("failed to finalize event record: %w", err)
		}
		outcome = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *Store) readOutcome(ctx context.Context, q pgx.Tx, gateway, eventID string) (*payments.EventOutcome, error) {
	var out payments.EventOutcome
	var status string
	err := q.QueryRow(ctx, `
		SELECT transaction_id, status, applied, note
		FROM processed_webhook_events
		WHERE gateway = $1 AND event_id = $2
	`, gateway, eventID).Scan(&out.TransactionID, &status, &out.Applied, &out.Note)
	if err != nil {
		return nil, fmt.Errorf("failed to read event outcome: %w", err)
	}
	out.Status = payments.Status(status)
	out.Duplicate = true
	return &out, nil
}

// EventOutcome implements payments.Store.
func (s *Store) EventOutcome(ctx context.Context, gateway, eventID string) (*payments.EventOutcome, error) {
	var out payments.EventOutcome
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT transaction_id, status, applied, note
		FROM processed_webhook_events
		WHERE gateway = $1 AND event_id = $2
	`, gateway, eventID).Scan(&out.TransactionID, &status, &out.Applied, &out.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query event outcome: %w", err)
	}
	out.Status = payments.Status(status)
	out.Duplicate = true
	return &out, nil
}

// SavedMethod implements payments.Store.
func (s *Store) SavedMethod(ctx context.Context, id string) (*payments.SavedPaymentMethod, error) {
	var m payments.SavedPaymentMethod
	var intervalSeconds int64
	var lastCharged *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, gateway, token, brand, last_four,
		       exp_month, exp_year, can_recur, min_interval_seconds, last_charged_at
		FROM saved_payment_methods WHERE id = $1
	`, id).Scan(&m.ID, &m.TenantID, &m.UserID, &m.Gateway, &m.Token,
		&m.Masked.Brand, &m.Masked.LastFour, &m.Masked.ExpMonth, &m.Masked.ExpYear,
		&m.CanRecur, &intervalSeconds, &lastCharged)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payments.ErrSavedMethodNotFound
		}
		return nil, fmt.Errorf("failed to query saved method: %w", err)
	}
	m.MinRecurringInterval = time.Duration(intervalSeconds) * time.Second
	if lastCharged != nil {
		m.LastChargedAt = *lastCharged
	}
	return &m, nil
}

// PutSavedMethod implements payments.Store.
func (s *Store) PutSavedMethod(ctx context.Context, m *payments.SavedPaymentMethod) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("invalid saved method")
	}
	var lastCharged *time.Time
	if !m.LastChargedAt.IsZero() {
		lastCharged = &m.LastChargedAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO saved_payment_methods
			(id, tenant_id, user_id, gateway, token, brand, last_four,
			 exp_month, exp_year, can_recur, min_interval_seconds, last_charged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			token = EXCLUDED.token,
			brand = EXCLUDED.brand,
			last_four = EXCLUDED.last_four,
			exp_month = EXCLUDED.exp_month,
			exp_year = EXCLUDED.exp_year,
			can_recur = EXCLUDED.can_recur,
			min_interval_seconds = EXCLUDED.min_interval_seconds
	`, m.ID, m.TenantID, m.UserID, m.Gateway, m.Token, m.Masked.Brand,
		m.Masked.LastFour, m.Masked.ExpMonth, m.Masked.ExpYear, m.CanRecur,
		int64(m.MinRecurringInterval/time.Second), lastCharged)
	if err != nil {
		return fmt.Errorf("failed to upsert saved method: %w", err)
	}
	return nil
}

// TouchSavedMethodCharge implements payments.Store.
func (s *Store) TouchSavedMethodCharge(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE saved_payment_methods SET last_charged_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last charge time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payments.ErrSavedMethodNotFound
	}
	return nil
}

func execStatusUpdate(ctx context.Context, dbtx pgx.Tx, id string, next payments.Status, at time.Time) error {
	query := `UPDATE payment_transactions SET status = $2, updated_at = $3 WHERE id = $1`
	switch next {
	case payments.StatusAuthorized:
		query = `UPDATE payment_transactions SET status = $2, updated_at = $3, authorized_at = $3 WHERE id = $1`
	case payments.StatusCaptured:
		query = `UPDATE payment_transactions SET status = $2, updated_at = $3, captured_at = $3 WHERE id = $1`
	}
	_, err := dbtx.Exec(ctx, query, id, string(next), at)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}

// startCleanup prunes processed events past the retention window.
func (s *Store) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.config.EventRetention)
			_, _ = s.pool.Exec(ctx,
				`DELETE FROM processed_webhook_events WHERE processed_at < $1`, cutoff)
		}
	}
}
