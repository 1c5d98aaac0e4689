package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EddyMixer/internal/models"
)

func seedOrder(t *testing.T, s *Memory, mutate ...func(*models.MixOrder)) *models.MixOrder {
	t.Helper()
	id := uuid.NewString()
	order := &models.MixOrder{
		OrderID:          id,
		TokenHash:        "0xd2a4cff31913016155e38e474a2c06d08be276cf",
		Amount:           "100000000",
		SenderAddress:    "NSenderAddr",
		RecipientAddress: "NRecipientAddr",
		DepositAddress:   "NDeposit" + id[:8],
		DepositSecretEnc: "v1:deadbeef:payload",
		Status:           models.OrderPending,
		ExpiresAt:        time.Now().UTC().Add(time.Hour),
	}
	for _, m := range mutate {
		m(order)
	}
	require.NoError(t, s.CreateOrder(context.Background(), order))
	return order
}

func fund(t *testing.T, s *Memory, orderID string) {
	t.Helper()
	rows, err := s.MarkDeposited(context.Background(), orderID, "100000000", nil, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)
}

func schedule(t *testing.T, s *Memory, orderID string, at time.Time) {
	t.Helper()
	rows, err := s.MarkProcessing(context.Background(), orderID, at)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)
}

func TestCreateOrderDuplicateDepositAddress(t *testing.T) {
	s := NewMemory()
	first := seedOrder(t, s)

	dup := *first
	dup.OrderID = uuid.NewString()
	err := s.CreateOrder(context.Background(), &dup)
	assert.ErrorIs(t, err, ErrDuplicateDepositAddress)
}

func TestGetOrderNotFound(t *testing.T) {
	s := NewMemory()
	_, err := s.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetPendingOrderByDepositAddress(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	order := seedOrder(t, s)

	got, err := s.GetPendingOrderByDepositAddress(ctx, order.DepositAddress)
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, got.OrderID)

	fund(t, s, order.OrderID)
	_, err = s.GetPendingOrderByDepositAddress(ctx, order.DepositAddress)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDepositedSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	order := seedOrder(t, s)

	var winners atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := s.MarkDeposited(ctx, order.OrderID, "100000000", nil, time.Now().UTC())
			if err == nil && rows == 1 {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), winners.Load())
	got, err := s.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDeposited, got.Status)
	require.NotNil(t, got.DepositedAmount)
	assert.Equal(t, "100000000", *got.DepositedAmount)
	assert.NotNil(t, got.DepositedAt)
}

func TestMarkProcessingOnlyFromDeposited(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	order := seedOrder(t, s)

	rows, err := s.MarkProcessing(ctx, order.OrderID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows, "pending order must not schedule")

	fund(t, s, order.OrderID)
	scheduledAt := time.Now().UTC().Add(10 * time.Minute)
	schedule(t, s, order.OrderID, scheduledAt)

	got, err := s.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderProcessing, got.Status)
	require.NotNil(t, got.PayoutScheduledAt)
	require.NotNil(t, got.PayoutNextAttemptAt)
	assert.True(t, got.PayoutScheduledAt.Equal(scheduledAt))
	assert.True(t, got.PayoutNextAttemptAt.Equal(scheduledAt))

	// The schedule is set once; a second transition loses.
	rows, err = s.MarkProcessing(ctx, order.OrderID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
	after, _ := s.GetOrder(ctx, order.OrderID)
	assert.True(t, after.PayoutScheduledAt.Equal(scheduledAt))
}

func TestClaimPayoutAttempt(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now().UTC()

	order := seedOrder(t, s)
	fund(t, s, order.OrderID)
	schedule(t, s, order.OrderID, now.Add(-time.Minute))

	next := now.Add(time.Minute)
	rows, err := s.ClaimPayoutAttempt(ctx, order.OrderID, now, next)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	got, _ := s.GetOrder(ctx, order.OrderID)
	assert.Equal(t, 1, got.PayoutAttempts)
	assert.True(t, got.PayoutNextAttemptAt.Equal(next))

	// Cursor was pushed forward, so an immediate retry loses.
	rows, err = s.ClaimPayoutAttempt(ctx, order.OrderID, now, next.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	// Once the cursor elapses the claim wins again.
	rows, err = s.ClaimPayoutAttempt(ctx, order.OrderID, next.Add(time.Second), next.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	got, _ = s.GetOrder(ctx, order.OrderID)
	assert.Equal(t, 2, got.PayoutAttempts)
}

func TestClaimPayoutAttemptRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now().UTC()

	order := seedOrder(t, s)
	fund(t, s, order.OrderID)

	rows, err := s.ClaimPayoutAttempt(ctx, order.OrderID, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows, "deposited order has no payout cursor")
}

func TestFlaggedPayoutIsNotClaimable(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now().UTC()

	order := seedOrder(t, s)
	fund(t, s, order.OrderID)
	schedule(t, s, order.OrderID, now.Add(-time.Minute))

	rows, err := s.FlagPayout(ctx, order.OrderID, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	rows, err = s.ClaimPayoutAttempt(ctx, order.OrderID, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	due, err := s.ListDuePayouts(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Flagging is idempotent-exclusive too.
	rows, err = s.FlagPayout(ctx, order.OrderID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
}

func TestSetPayoutTxFence(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now().UTC()

	order := seedOrder(t, s)
	fund(t, s, order.OrderID)
	schedule(t, s, order.OrderID, now.Add(-time.Minute))

	rows, err := s.SetPayoutTx(ctx, order.OrderID, "0xaaa", "rawtx", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = s.SetPayoutTx(ctx, order.OrderID, "0xbbb", "rawtx2", 501)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows, "second pin must lose")

	got, _ := s.GetOrder(ctx, order.OrderID)
	require.NotNil(t, got.PayoutTx)
	assert.Equal(t, "0xaaa", *got.PayoutTx)
	require.NotNil(t, got.PayoutValidUntil)
	assert.Equal(t, int64(500), *got.PayoutValidUntil)

	// A pinned transaction blocks cancellation.
	rows, err = s.MarkCancelled(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
}

func TestSetPayoutTxLosesAfterCancel(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now().UTC()

	order := seedOrder(t, s)
	fund(t, s, order.OrderID)
	schedule(t, s, order.OrderID, now.Add(-time.Minute))

	rows, err := s.MarkCancelled(ctx, order.OrderID)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	rows, err = s.SetPayoutTx(ctx, order.OrderID, "0xaaa", "rawtx", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
}

func TestClearStalePayoutTx(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now().UTC()

	order := seedOrder(t, s)
	fund(t, s, order.OrderID)
	schedule(t, s, order.OrderID, now.Add(-time.Minute))
	_, err := s.SetPayoutTx(ctx, order.OrderID, "0xaaa", "rawtx", 500)
	require.NoError(t, err)

	rows, err := s.ClearStalePayoutTx(ctx, order.OrderID, "0xother")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows, "txid mismatch must not clear")

	rows, err = s.ClearStalePayoutTx(ctx, order.OrderID, "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	got, _ := s.GetOrder(ctx, order.OrderID)
	assert.Nil(t, got.PayoutTx)
	assert.Nil(t, got.PayoutRaw)
	assert.Nil(t, got.PayoutValidUntil)
	assert.Equal(t, models.OrderProcessing, got.Status)
}

func TestMarkCompletedNeedsPin(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now().UTC()

	order := seedOrder(t, s)
	fund(t, s, order.OrderID)
	schedule(t, s, order.OrderID, now.Add(-time.Minute))

	rows, err := s.MarkCompleted(ctx, order.OrderID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows, "no pinned transaction yet")

	_, err = s.SetPayoutTx(ctx, order.OrderID, "0xaaa", "rawtx", 500)
	require.NoError(t, err)

	rows, err = s.MarkCompleted(ctx, order.OrderID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	got, _ := s.GetOrder(ctx, order.OrderID)
	assert.Equal(t, models.OrderCompleted, got.Status)
	assert.NotNil(t, got.PayoutExecutedAt)

	rows, err = s.MarkCompleted(ctx, order.OrderID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
}

func TestMarkCancelledScrubsSecret(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	order := seedOrder(t, s)

	rows, err := s.MarkCancelled(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	got, _ := s.GetOrder(ctx, order.OrderID)
	assert.Equal(t, models.OrderCancelled, got.Status)
	assert.Empty(t, got.DepositSecretEnc)

	rows, err = s.MarkCancelled(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows, "terminal order must not cancel again")
}

func TestMarkExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now().UTC()

	stale := seedOrder(t, s, func(o *models.MixOrder) { o.ExpiresAt = now.Add(-time.Minute) })
	fresh := seedOrder(t, s)
	funded := seedOrder(t, s, func(o *models.MixOrder) { o.ExpiresAt = now.Add(-time.Minute) })
	fund(t, s, funded.OrderID)

	n, err := s.MarkExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := s.GetOrder(ctx, stale.OrderID)
	assert.Equal(t, models.OrderExpired, got.Status)
	assert.Empty(t, got.DepositSecretEnc)

	got, _ = s.GetOrder(ctx, fresh.OrderID)
	assert.Equal(t, models.OrderPending, got.Status)

	got, _ = s.GetOrder(ctx, funded.OrderID)
	assert.Equal(t, models.OrderDeposited, got.Status, "funded orders never expire")
}

func TestPurgeTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	done := seedOrder(t, s)
	_, err := s.MarkCancelled(ctx, done.OrderID)
	require.NoError(t, err)
	live := seedOrder(t, s)

	n, err := s.PurgeTerminal(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetOrder(ctx, done.OrderID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetOrder(ctx, live.OrderID)
	assert.NoError(t, err)

	// The purged deposit address is free for reuse.
	reuse := *live
	reuse.OrderID = uuid.NewString()
	reuse.DepositAddress = done.DepositAddress
	assert.NoError(t, s.CreateOrder(ctx, &reuse))
}

func TestListDuePayouts(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now().UTC()

	later := seedOrder(t, s)
	fund(t, s, later.OrderID)
	schedule(t, s, later.OrderID, now.Add(-time.Minute))

	sooner := seedOrder(t, s)
	fund(t, s, sooner.OrderID)
	schedule(t, s, sooner.OrderID, now.Add(-time.Hour))

	future := seedOrder(t, s)
	fund(t, s, future.OrderID)
	schedule(t, s, future.OrderID, now.Add(time.Hour))

	due, err := s.ListDuePayouts(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, sooner.OrderID, due[0].OrderID, "oldest cursor first")
	assert.Equal(t, later.OrderID, due[1].OrderID)

	due, err = s.ListDuePayouts(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, sooner.OrderID, due[0].OrderID)
}

func TestListOrdersByFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	session := "sess-1"
	wallet := "NWalletAddr"

	a := seedOrder(t, s, func(o *models.MixOrder) { o.SessionID = &session })
	b := seedOrder(t, s, func(o *models.MixOrder) { o.WalletAddress = &wallet })
	seedOrder(t, s)

	bySession, err := s.ListOrdersBySession(ctx, session, 10)
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, a.OrderID, bySession[0].OrderID)

	byWallet, err := s.ListOrdersByWallet(ctx, wallet, 10)
	require.NoError(t, err)
	require.Len(t, byWallet, 1)
	assert.Equal(t, b.OrderID, byWallet[0].OrderID)
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	seedOrder(t, s)
	seedOrder(t, s)
	funded := seedOrder(t, s)
	fund(t, s, funded.OrderID)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.OrderPending])
	assert.Equal(t, int64(1), counts[models.OrderDeposited])
	assert.Equal(t, int64(0), counts[models.OrderCompleted])
}
