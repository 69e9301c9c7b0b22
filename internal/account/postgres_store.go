package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the users table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id              VARCHAR(64) PRIMARY KEY,
			username        VARCHAR(64) NOT NULL UNIQUE,
			credit          BIGINT NOT NULL DEFAULT 0 CHECK (credit >= 0),
			role            VARCHAR(20) NOT NULL DEFAULT 'ordinary',
			cepsms_username VARCHAR(64),
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			updated_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_username ON users(LOWER(username));
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, user *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, username, credit, role, cepsms_username, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, user.ID, user.Username, user.Credit, string(user.Role), user.CepSMSUsername,
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, username, credit, role, COALESCE(cepsms_username, ''), created_at, updated_at
		FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

func (p *PostgresStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, username, credit, role, COALESCE(cepsms_username, ''), created_at, updated_at
		FROM users WHERE LOWER(username) = LOWER($1)
	`, username)
	return scanUser(row)
}

func (p *PostgresStore) DebitCredit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var newBalance int64
	err := p.db.QueryRowContext(ctx, `
		UPDATE users SET credit = credit - $2, updated_at = NOW()
		WHERE id = $1 AND credit >= $2
		RETURNING credit
	`, userID, amount).Scan(&newBalance)
	if err == sql.ErrNoRows {
		// Distinguish missing user from insufficient balance.
		user, gerr := p.Get(ctx, userID)
		if gerr != nil {
			return 0, gerr
		}
		return user.Credit, ErrInsufficientCredit
	}
	if err != nil {
		return 0, fmt.Errorf("debit user credit: %w", err)
	}
	return newBalance, nil
}

func (p *PostgresStore) AddCredit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var newBalance int64
	err := p.db.QueryRowContext(ctx, `
		UPDATE users SET credit = credit + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING credit
	`, userID, amount).Scan(&newBalance)
	if err == sql.ErrNoRows {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("add user credit: %w", err)
	}
	return newBalance, nil
}

func (p *PostgresStore) SetCredit(ctx context.Context, userID string, value int64) error {
	if value < 0 {
		value = 0
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE users SET credit = $2, updated_at = NOW() WHERE id = $1
	`, userID, value)
	if err != nil {
		return fmt.Errorf("set user credit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanUser(row scannable) (*User, error) {
	var u User
	var role string
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Credit, &role, &u.CepSMSUsername, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = Role(role)
	if createdAt.Valid {
		u.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		u.UpdatedAt = updatedAt.Time
	}
	return &u, nil
}
