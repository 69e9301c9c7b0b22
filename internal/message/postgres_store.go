package message

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed message store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the sms_messages table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sms_messages (
			id                 VARCHAR(64) PRIMARY KEY,
			user_id            VARCHAR(64) NOT NULL,
			phone_number       VARCHAR(16) NOT NULL,
			body               TEXT NOT NULL,
			origin             VARCHAR(32),
			status             VARCHAR(20) NOT NULL DEFAULT 'sent',
			cost               BIGINT NOT NULL DEFAULT 0 CHECK (cost >= 0),
			gateway_message_id VARCHAR(128),
			network            VARCHAR(32),
			sent_at            TIMESTAMPTZ NOT NULL,
			delivered_at       TIMESTAMPTZ,
			failed_at          TIMESTAMPTZ,
			refund_processed   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at         TIMESTAMPTZ DEFAULT NOW(),
			updated_at         TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_sms_messages_user ON sms_messages(user_id, sent_at DESC);
		CREATE INDEX IF NOT EXISTS idx_sms_messages_status ON sms_messages(status, sent_at);
	`)
	return err
}

const messageColumns = `id, user_id, phone_number, body, COALESCE(origin, ''),
	status, cost, COALESCE(gateway_message_id, ''), COALESCE(network, ''),
	sent_at, delivered_at, failed_at, refund_processed, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, msg *Message) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sms_messages (
			id, user_id, phone_number, body, origin, status, cost,
			gateway_message_id, network, sent_at, delivered_at, failed_at,
			refund_processed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7,
			NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12, $13, $14, $15)
	`,
		msg.ID, msg.UserID, msg.PhoneNumber, msg.Body, msg.Origin,
		string(msg.Status), msg.Cost, msg.GatewayMessageID, msg.Network,
		msg.SentAt, msg.DeliveredAt, msg.FailedAt,
		msg.RefundProcessed, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Message, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM sms_messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, status Status, limit, offset int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + messageColumns + ` FROM sms_messages WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY sent_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMessages(rows)
}

func (p *PostgresStore) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM sms_messages
		WHERE status IN ('sent', 'pending_report') AND sent_at < $1
		ORDER BY sent_at ASC LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsettled messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMessages(rows)
}

func (p *PostgresStore) UpdateDelivery(ctx context.Context, id string, status Status, network string, at time.Time) error {
	var deliveredAt, failedAt any
	switch status {
	case StatusDelivered:
		deliveredAt = at
	case StatusUndelivered, StatusTimedOut, StatusFailed:
		failedAt = at
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE sms_messages
		SET status = $2,
			network = COALESCE(NULLIF($3, ''), network),
			delivered_at = COALESCE($4, delivered_at),
			failed_at = COALESCE($5, failed_at),
			updated_at = NOW()
		WHERE id = $1
	`, id, string(status), network, deliveredAt, failedAt)
	if err != nil {
		return fmt.Errorf("update message delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (p *PostgresStore) MarkRefundProcessed(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sms_messages SET refund_processed = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark refund processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMessage(row scannable) (*Message, error) {
	var m Message
	var status string
	var deliveredAt, failedAt sql.NullTime
	var createdAt, updatedAt sql.NullTime

	err := row.Scan(&m.ID, &m.UserID, &m.PhoneNumber, &m.Body, &m.Origin,
		&status, &m.Cost, &m.GatewayMessageID, &m.Network,
		&m.SentAt, &deliveredAt, &failedAt, &m.RefundProcessed,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	m.Status = Status(status)
	if deliveredAt.Valid {
		m.DeliveredAt = &deliveredAt.Time
	}
	if failedAt.Valid {
		m.FailedAt = &failedAt.Time
	}
	if createdAt.Valid {
		m.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		m.UpdatedAt = updatedAt.Time
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	var out []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
