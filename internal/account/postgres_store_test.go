package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilicc/kentsms-sub000/internal/testutil"
)

func TestPostgresStoreCreditLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	require.NoError(t, store.Migrate(ctx))

	now := time.Now()
	user := &User{
		ID:        "usr_pgtest",
		Username:  "pgtest",
		Credit:    10,
		Role:      RoleOrdinary,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, user))

	err := store.Create(ctx, &User{ID: "usr_dup", Username: "pgtest", CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, ErrUserExists)

	balance, err := store.DebitCredit(ctx, user.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), balance)

	_, err = store.DebitCredit(ctx, user.ID, 7)
	assert.ErrorIs(t, err, ErrInsufficientCredit)

	balance, err = store.AddCredit(ctx, user.ID, 14)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	require.NoError(t, store.SetCredit(ctx, user.ID, 1))
	got, err := store.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Credit)

	_, err = store.Get(ctx, "usr_missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
