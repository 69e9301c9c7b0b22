package refund

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed refund store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the refunds table if it doesn't exist. The partial unique
// index enforces at most one active intent per message.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS refunds (
			id            VARCHAR(64) PRIMARY KEY,
			user_id       VARCHAR(64) NOT NULL,
			message_id    VARCHAR(64) NOT NULL,
			original_cost BIGINT NOT NULL CHECK (original_cost >= 0),
			refund_amount BIGINT NOT NULL CHECK (refund_amount >= 0),
			reason        TEXT,
			status        VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at  TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_refunds_active_message
			ON refunds(message_id) WHERE status != 'cancelled';
		CREATE INDEX IF NOT EXISTS idx_refunds_user ON refunds(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_refunds_pending ON refunds(status, created_at)
			WHERE status = 'pending';
	`)
	return err
}

const intentColumns = `id, user_id, message_id, original_cost, refund_amount,
	COALESCE(reason, ''), status, created_at, processed_at`

func (p *PostgresStore) Create(ctx context.Context, intent *Intent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO refunds (id, user_id, message_id, original_cost,
			refund_amount, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
	`, intent.ID, intent.UserID, intent.MessageID, intent.OriginalCost,
		intent.RefundAmount, intent.Reason, string(intent.Status), intent.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrIntentExists
		}
		return fmt.Errorf("insert refund intent: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Intent, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM refunds WHERE id = $1`, id)
	return scanIntent(row)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, status Status, limit int) ([]*Intent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + intentColumns + ` FROM refunds WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list refund intents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectIntents(rows)
}

func (p *PostgresStore) ListMature(ctx context.Context, cutoff time.Time, limit int) ([]*Intent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+intentColumns+` FROM refunds
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list mature refund intents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectIntents(rows)
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, status Status, processedAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE refunds SET status = $2, processed_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, string(status), processedAt)
	if err != nil {
		return fmt.Errorf("set refund status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish missing from already-settled.
		if _, gerr := p.Get(ctx, id); gerr != nil {
			return gerr
		}
		return ErrNotPending
	}
	return nil
}

func (p *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(refund_amount), 0)
		FROM refunds GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("refund stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int
		var amount int64
		if err := rows.Scan(&status, &count, &amount); err != nil {
			return nil, fmt.Errorf("scan refund stats: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			stats.PendingCount = count
			stats.PendingAmount = amount
		case StatusProcessed:
			stats.ProcessedCount = count
			stats.ProcessedAmount = amount
		case StatusCancelled:
			stats.CancelledCount = count
		}
	}
	return stats, rows.Err()
}

// isUniqueViolation reports SQLSTATE 23505 from lib/pq.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type scannable interface {
	Scan(dest ...any) error
}

func scanIntent(row scannable) (*Intent, error) {
	var in Intent
	var status string
	var processedAt sql.NullTime

	err := row.Scan(&in.ID, &in.UserID, &in.MessageID, &in.OriginalCost,
		&in.RefundAmount, &in.Reason, &status, &in.CreatedAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan refund intent: %w", err)
	}

	in.Status = Status(status)
	if processedAt.Valid {
		in.ProcessedAt = &processedAt.Time
	}
	return &in, nil
}

func collectIntents(rows *sql.Rows) ([]*Intent, error) {
	var out []*Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}
