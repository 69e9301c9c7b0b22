package account

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUser(t *testing.T, store Store, username string, credit int64) *User {
	t.Helper()
	now := time.Now()
	user := &User{
		ID:        "usr_" + username,
		Username:  username,
		Credit:    credit,
		Role:      RoleOrdinary,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(context.Background(), user))
	return user
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	user := newTestUser(t, store, "ayse", 10)

	got, err := store.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ayse", got.Username)
	assert.Equal(t, int64(10), got.Credit)

	got, err = store.GetByUsername(ctx, "AYSE")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestMemoryStoreDuplicateUsername(t *testing.T) {
	store := NewMemoryStore()
	newTestUser(t, store, "mehmet", 0)

	err := store.Create(context.Background(), &User{ID: "usr_x", Username: "Mehmet"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestDebitCreditFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	user := newTestUser(t, store, "fatma", 3)

	_, err := store.DebitCredit(ctx, user.ID, 4)
	assert.ErrorIs(t, err, ErrInsufficientCredit)

	balance, err := store.DebitCredit(ctx, user.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	_, err = store.DebitCredit(ctx, user.ID, 1)
	assert.ErrorIs(t, err, ErrInsufficientCredit)
}

func TestDebitCreditUnknownUser(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.DebitCredit(context.Background(), "usr_ghost", 1)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAddCredit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	user := newTestUser(t, store, "ali", 5)

	balance, err := store.AddCredit(ctx, user.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)

	_, err = store.AddCredit(ctx, user.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	user := newTestUser(t, store, "veli", 40)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.DebitCredit(ctx, user.ID, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 40, succeeded)

	got, err := store.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Credit)
}

func TestServiceRegisterDefaults(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	user, err := svc.Register(ctx, "  zeynep ", Role("weird"), "", -5)
	require.NoError(t, err)
	assert.Equal(t, "zeynep", user.Username)
	assert.Equal(t, RoleOrdinary, user.Role)
	assert.Equal(t, int64(0), user.Credit)
	assert.False(t, user.Privileged())

	staff, err := svc.Register(ctx, "admin", RolePrivileged, "corp", 0)
	require.NoError(t, err)
	assert.True(t, staff.Privileged())
}
