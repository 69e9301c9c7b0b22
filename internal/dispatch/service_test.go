package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilicc/kentsms-sub000/internal/account"
	"github.com/kilicc/kentsms-sub000/internal/cepsms"
	"github.com/kilicc/kentsms-sub000/internal/ledger"
	"github.com/kilicc/kentsms-sub000/internal/message"
)

// fakeGateway records sends and fails selected numbers.
type fakeGateway struct {
	mu          sync.Mutex
	calls       []string
	failNumbers map[string]error
	inFlight    int
	maxInFlight int
	delay       time.Duration
}

func (g *fakeGateway) Send(ctx context.Context, acct cepsms.Account, numbers []string, msg string) (string, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	g.calls = append(g.calls, numbers...)
	g.mu.Unlock()

	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()

	for _, n := range numbers {
		if err, ok := g.failNumbers[n]; ok {
			return "", err
		}
	}
	return "gw-" + numbers[0], nil
}

type fixture struct {
	gateway  *fakeGateway
	users    *account.Service
	pool     *ledger.Service
	messages *message.MemoryStore
	svc      *Service
	user     *account.User
}

func newFixture(t *testing.T, poolBalance, userCredit int64, role account.Role, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()

	gateway := &fakeGateway{failNumbers: map[string]error{}}
	users := account.NewService(account.NewMemoryStore())
	pool := ledger.NewService(ledger.NewMemoryStore(poolBalance))
	messages := message.NewMemoryStore()

	user, err := users.Register(ctx, "tester", role, "bahi1", userCredit)
	require.NoError(t, err)

	dir := cepsms.NewDirectory([]cepsms.Account{
		{Username: "bahi1", Password: "pw", From: "Acme"},
	}, &cepsms.Account{Username: "corp", Password: "pw2"})

	return &fixture{
		gateway:  gateway,
		users:    users,
		pool:     pool,
		messages: messages,
		svc:      NewService(gateway, dir, users, pool, messages, cfg),
		user:     user,
	}
}

func phones(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("90555%07d", 1000000+i)
	}
	return out
}

func TestUnitCost(t *testing.T) {
	assert.Equal(t, int64(1), UnitCost(""))
	assert.Equal(t, int64(1), UnitCost("hi"))
	assert.Equal(t, int64(1), UnitCost(strings.Repeat("a", 180)))
	assert.Equal(t, int64(2), UnitCost(strings.Repeat("a", 181)))
	assert.Equal(t, int64(3), UnitCost(strings.Repeat("ğ", 365)))
}

// Scenario: the batch is rejected outright when the user balance cannot fund
// every recipient, with no records created and no credit moved.
func TestBulkRejectedOnInsufficientUserCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 10, account.RoleOrdinary, Config{})

	_, err := f.svc.DispatchBulk(ctx, f.user.ID, phones(12), "hello", "")
	assert.ErrorIs(t, err, ErrInsufficientCredit)

	assert.Empty(t, f.gateway.calls)

	records, err := f.messages.ListByUser(ctx, f.user.ID, "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	poolBalance, _ := f.pool.Balance(ctx)
	assert.Equal(t, int64(10), poolBalance)
	u, _ := f.users.Get(ctx, f.user.ID)
	assert.Equal(t, int64(10), u.Credit)
}

func TestBulkRejectedOnInsufficientPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, 100, account.RoleOrdinary, Config{})

	_, err := f.svc.DispatchBulk(ctx, f.user.ID, phones(12), "hello", "")
	assert.ErrorIs(t, err, ErrInsufficientCredit)
	assert.Empty(t, f.gateway.calls)
}

// Scenario: partial gateway failure charges exactly the successful count.
func TestBulkPartialFailureChargesOnlySuccesses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, 100, account.RoleOrdinary, Config{})

	nums := phones(3)
	normalized2, err := cepsms.Normalize(nums[2])
	require.NoError(t, err)
	f.gateway.failNumbers[normalized2] = errors.New("User Error")

	result, err := f.svc.DispatchBulk(ctx, f.user.ID, nums, "hello", "")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, int64(2), result.TotalCost)
	assert.Len(t, result.Results, 3)

	records, err := f.messages.ListByUser(ctx, f.user.ID, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	var sent, failed int
	for _, r := range records {
		switch r.Status {
		case message.StatusSent:
			sent++
			assert.Equal(t, int64(1), r.Cost)
			assert.NotEmpty(t, r.GatewayMessageID)
		case message.StatusFailed:
			failed++
			assert.Equal(t, int64(0), r.Cost)
			assert.NotNil(t, r.FailedAt)
		}
	}
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, failed)

	poolBalance, _ := f.pool.Balance(ctx)
	assert.Equal(t, int64(98), poolBalance)
	u, _ := f.users.Get(ctx, f.user.ID)
	assert.Equal(t, int64(98), u.Credit)
}

// Scenario: privileged senders never touch credit.
func TestPrivilegedBypassesCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, 0, account.RolePrivileged, Config{})

	result, err := f.svc.DispatchBulk(ctx, f.user.ID, phones(50), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, 50, result.Sent)
	assert.Equal(t, int64(0), result.TotalCost)

	poolBalance, _ := f.pool.Balance(ctx)
	assert.Equal(t, int64(0), poolBalance)
	u, _ := f.users.Get(ctx, f.user.ID)
	assert.Equal(t, int64(0), u.Credit)

	records, err := f.messages.ListByUser(ctx, f.user.ID, "", 0, 0)
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, int64(0), r.Cost)
	}
}

func TestInvalidRecipientsPartitionedUpFront(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, 100, account.RoleOrdinary, Config{})

	result, err := f.svc.DispatchBulk(ctx, f.user.ID,
		[]string{"9055510000001x", "garbage", "05551234567"}, "hello", "")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 2, result.Failed)
	assert.Len(t, f.gateway.calls, 1)

	u, _ := f.users.Get(ctx, f.user.ID)
	assert.Equal(t, int64(99), u.Credit)
}

func TestAllInvalidRecipientsAbortsBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, 100, account.RoleOrdinary, Config{})

	_, err := f.svc.DispatchBulk(ctx, f.user.ID, []string{"abc", "123"}, "hello", "")
	assert.ErrorIs(t, err, ErrNoValidRecipients)
	assert.Empty(t, f.gateway.calls)
}

func TestUnmappedOrdinaryUserRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, 100, account.RoleOrdinary, Config{})

	stranger, err := f.users.Register(ctx, "stranger", account.RoleOrdinary, "", 100)
	require.NoError(t, err)

	_, err = f.svc.DispatchBulk(ctx, stranger.ID, phones(1), "hello", "")
	assert.ErrorIs(t, err, ErrNoGatewayAccount)
	assert.Empty(t, f.gateway.calls)
}

func TestUnmappedPrivilegedUserFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, 0, account.RolePrivileged, Config{})

	staff, err := f.users.Register(ctx, "staff", account.RolePrivileged, "", 0)
	require.NoError(t, err)

	result, err := f.svc.DispatchBulk(ctx, staff.ID, phones(1), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
}

func TestWavesRespectConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, 100, account.RoleOrdinary, Config{
		ConcurrentLimit: 2,
		WaveDelay:       time.Millisecond,
	})
	f.gateway.delay = 10 * time.Millisecond

	result, err := f.svc.DispatchBulk(ctx, f.user.ID, phones(5), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, 5, result.Sent)
	assert.Len(t, f.gateway.calls, 5)
	assert.LessOrEqual(t, f.gateway.maxInFlight, 2)
}

// failingMessageStore rejects Create to exercise the compensation path.
type failingMessageStore struct {
	message.Store
}

func (f *failingMessageStore) Create(ctx context.Context, msg *message.Message) error {
	if msg.Status == message.StatusSent {
		return errors.New("disk full")
	}
	return f.Store.Create(ctx, msg)
}

func TestPersistenceFailureCompensatesCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, 100, account.RoleOrdinary, Config{})
	f.svc.messages = &failingMessageStore{Store: f.messages}

	result, err := f.svc.DispatchBulk(ctx, f.user.ID, phones(1), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, int64(0), result.TotalCost)

	poolBalance, _ := f.pool.Balance(ctx)
	assert.Equal(t, int64(100), poolBalance)
	u, _ := f.users.Get(ctx, f.user.ID)
	assert.Equal(t, int64(100), u.Credit)
}

func TestMultiUnitBodyPricing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, 100, account.RoleOrdinary, Config{})

	body := strings.Repeat("a", 200) // 2 units
	result, err := f.svc.DispatchBulk(ctx, f.user.ID, phones(3), body, "")
	require.NoError(t, err)
	assert.Equal(t, int64(6), result.TotalCost)

	u, _ := f.users.Get(ctx, f.user.ID)
	assert.Equal(t, int64(94), u.Credit)
}
