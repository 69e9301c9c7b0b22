package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilicc/kentsms-sub000/internal/testutil"
)

func TestPostgresStoreDebitCredit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Set(ctx, 100))

	balance, err := store.Debit(ctx, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	_, err = store.Debit(ctx, 41)
	assert.ErrorIs(t, err, ErrInsufficientCredit)

	balance, err = store.Credit(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(45), balance)
}

func TestPostgresStoreConcurrentDebits(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Set(ctx, 50))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Debit(ctx, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, succeeded)

	balance, err := store.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}
