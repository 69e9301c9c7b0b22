package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

const systemCreditKey = "system_credit"

// PostgresStore implements Store backed by PostgreSQL.
//
// The pool lives in a single system_settings row. Debit uses a conditional
// UPDATE so the non-negative invariant holds without explicit row locks.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed credit pool store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the system_settings table and seeds the pool row.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS system_settings (
			key        VARCHAR(64) PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		INSERT INTO system_settings (key, value) VALUES ('system_credit', '0')
		ON CONFLICT (key) DO NOTHING;
	`)
	return err
}

func (p *PostgresStore) Balance(ctx context.Context) (int64, error) {
	var raw string
	err := p.db.QueryRowContext(ctx, `
		SELECT value FROM system_settings WHERE key = $1
	`, systemCreditKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read system credit: %w", err)
	}

	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse system credit %q: %w", raw, err)
	}
	return balance, nil
}

func (p *PostgresStore) Debit(ctx context.Context, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	// Conditional UPDATE: only subtracts when the balance covers the amount.
	// The value column is TEXT, so cast both ways.
	var newRaw string
	err := p.db.QueryRowContext(ctx, `
		UPDATE system_settings
		SET value = (value::BIGINT - $2)::TEXT, updated_at = NOW()
		WHERE key = $1 AND value::BIGINT >= $2
		RETURNING value
	`, systemCreditKey, amount).Scan(&newRaw)
	if err == sql.ErrNoRows {
		balance, berr := p.Balance(ctx)
		if berr != nil {
			return 0, berr
		}
		return balance, ErrInsufficientCredit
	}
	if err != nil {
		return 0, fmt.Errorf("debit system credit: %w", err)
	}

	newBalance, err := strconv.ParseInt(newRaw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse system credit %q: %w", newRaw, err)
	}
	return newBalance, nil
}

func (p *PostgresStore) Credit(ctx context.Context, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var newRaw string
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO system_settings (key, value) VALUES ($1, $2::TEXT)
		ON CONFLICT (key) DO UPDATE
		SET value = (system_settings.value::BIGINT + $2)::TEXT, updated_at = NOW()
		RETURNING value
	`, systemCreditKey, amount).Scan(&newRaw)
	if err != nil {
		return 0, fmt.Errorf("credit system credit: %w", err)
	}

	newBalance, err := strconv.ParseInt(newRaw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse system credit %q: %w", newRaw, err)
	}
	return newBalance, nil
}

func (p *PostgresStore) Set(ctx context.Context, value int64) error {
	if value < 0 {
		value = 0
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO system_settings (key, value) VALUES ($1, $2::TEXT)
		ON CONFLICT (key) DO UPDATE
		SET value = $2::TEXT, updated_at = NOW()
	`, systemCreditKey, value)
	if err != nil {
		return fmt.Errorf("set system credit: %w", err)
	}
	return nil
}
