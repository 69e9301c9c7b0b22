package message

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMessage(t *testing.T, store Store, id, userID string, status Status, sentAt time.Time) *Message {
	t.Helper()
	msg := &Message{
		ID:          id,
		UserID:      userID,
		PhoneNumber: "905551234567",
		Body:        "test",
		Status:      status,
		Cost:        1,
		SentAt:      sentAt,
		CreatedAt:   sentAt,
		UpdatedAt:   sentAt,
	}
	require.NoError(t, store.Create(context.Background(), msg))
	return msg
}

func TestStatusHelpers(t *testing.T) {
	assert.False(t, StatusSent.Settled())
	assert.False(t, StatusPendingReport.Settled())
	assert.True(t, StatusDelivered.Settled())
	assert.True(t, StatusFailed.Settled())

	assert.True(t, StatusUndelivered.Refundable())
	assert.True(t, StatusTimedOut.Refundable())
	assert.False(t, StatusDelivered.Refundable())
	assert.False(t, StatusFailed.Refundable())
}

func TestListByUserFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		seedMessage(t, store, fmt.Sprintf("sms_%d", i), "usr_a", StatusSent, base.Add(time.Duration(i)*time.Minute))
	}
	seedMessage(t, store, "sms_other", "usr_b", StatusSent, base)
	seedMessage(t, store, "sms_delivered", "usr_a", StatusDelivered, base.Add(10*time.Minute))

	all, err := store.ListByUser(ctx, "usr_a", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 6)
	// Newest first.
	assert.Equal(t, "sms_delivered", all[0].ID)

	delivered, err := store.ListByUser(ctx, "usr_a", StatusDelivered, 0, 0)
	require.NoError(t, err)
	require.Len(t, delivered, 1)

	paged, err := store.ListByUser(ctx, "usr_a", "", 2, 1)
	require.NoError(t, err)
	assert.Len(t, paged, 2)
	assert.Equal(t, "sms_4", paged[0].ID)
}

func TestListUnsettled(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	old := seedMessage(t, store, "sms_old", "usr_a", StatusSent, now.Add(-10*time.Minute))
	seedMessage(t, store, "sms_pending", "usr_a", StatusPendingReport, now.Add(-8*time.Minute))
	seedMessage(t, store, "sms_fresh", "usr_a", StatusSent, now.Add(-time.Minute))
	seedMessage(t, store, "sms_done", "usr_a", StatusDelivered, now.Add(-20*time.Minute))

	unsettled, err := store.ListUnsettled(ctx, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, unsettled, 2)
	// Oldest first.
	assert.Equal(t, old.ID, unsettled[0].ID)
	assert.Equal(t, "sms_pending", unsettled[1].ID)

	limited, err := store.ListUnsettled(ctx, now.Add(-5*time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpdateDeliveryStampsTimestamps(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	seedMessage(t, store, "sms_a", "usr_a", StatusSent, now.Add(-time.Hour))
	seedMessage(t, store, "sms_b", "usr_a", StatusSent, now.Add(-time.Hour))

	require.NoError(t, store.UpdateDelivery(ctx, "sms_a", StatusDelivered, "Turkcell", now))
	got, err := store.Get(ctx, "sms_a")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)
	assert.Equal(t, "Turkcell", got.Network)
	require.NotNil(t, got.DeliveredAt)
	assert.Nil(t, got.FailedAt)

	require.NoError(t, store.UpdateDelivery(ctx, "sms_b", StatusUndelivered, "", now))
	got, err = store.Get(ctx, "sms_b")
	require.NoError(t, err)
	require.NotNil(t, got.FailedAt)
	assert.Nil(t, got.DeliveredAt)

	err = store.UpdateDelivery(ctx, "sms_missing", StatusDelivered, "", now)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMarkRefundProcessed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedMessage(t, store, "sms_r", "usr_a", StatusUndelivered, time.Now())

	require.NoError(t, store.MarkRefundProcessed(ctx, "sms_r"))
	got, err := store.Get(ctx, "sms_r")
	require.NoError(t, err)
	assert.True(t, got.RefundProcessed)

	assert.ErrorIs(t, store.MarkRefundProcessed(ctx, "sms_x"), ErrMessageNotFound)
}
