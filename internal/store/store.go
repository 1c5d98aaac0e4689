// Package store persists mix orders. Every lifecycle mutation is a guarded
// update keyed on the expected current status; callers decide what a zero
// row count means. Postgres backs production, Memory backs tests.
package store

import (
	"context"
	"errors"
	"time"

	"EddyMixer/internal/models"
)

// ErrNotFound is returned by point lookups for unknown order ids.
var ErrNotFound = errors.New("store: order not found")

// ErrDuplicateDepositAddress surfaces the unique constraint on deposit
// addresses. A fresh keypair per order makes this unreachable in practice.
var ErrDuplicateDepositAddress = errors.New("store: deposit address already in use")

type Store interface {
	CreateOrder(ctx context.Context, order *models.MixOrder) error
	GetOrder(ctx context.Context, orderID string) (*models.MixOrder, error)
	GetPendingOrderByDepositAddress(ctx context.Context, depositAddress string) (*models.MixOrder, error)
	ListOrdersBySession(ctx context.Context, sessionID string, limit int) ([]*models.MixOrder, error)
	ListOrdersByWallet(ctx context.Context, wallet string, limit int) ([]*models.MixOrder, error)
	ListPendingOrders(ctx context.Context, limit int) ([]*models.MixOrder, error)
	ListDepositedOrders(ctx context.Context, limit int) ([]*models.MixOrder, error)
	ListDuePayouts(ctx context.Context, now time.Time, limit int) ([]*models.MixOrder, error)

	// MarkDeposited records the observed deposit and moves pending to
	// deposited. The returned count is 1 for the winner, 0 for everyone else.
	MarkDeposited(ctx context.Context, orderID, amount string, depositTx *string, at time.Time) (int64, error)

	// MarkProcessing moves deposited to processing and stamps the payout
	// schedule. payout_scheduled_at is written exactly once.
	MarkProcessing(ctx context.Context, orderID string, scheduledAt time.Time) (int64, error)

	// ClaimPayoutAttempt is the executor's entry ticket: it bumps the attempt
	// counter and pushes the next-attempt cursor to nextAttempt, but only for
	// an unflagged processing order whose cursor is due at now. A zero count
	// means another worker holds the claim or the order moved on.
	ClaimPayoutAttempt(ctx context.Context, orderID string, now, nextAttempt time.Time) (int64, error)

	// SetPayoutTx pins the locally computed transaction before broadcast.
	// It fails (0 rows) if a transaction is already pinned or the order left
	// processing, which is also the fence against cancel races.
	SetPayoutTx(ctx context.Context, orderID, txid, raw string, validUntil uint32) (int64, error)

	// ClearStalePayoutTx unpins a transaction that provably can no longer be
	// included (its validity window passed without confirmation).
	ClearStalePayoutTx(ctx context.Context, orderID, txid string) (int64, error)

	MarkCompleted(ctx context.Context, orderID string, executedAt time.Time) (int64, error)
	FlagPayout(ctx context.Context, orderID string, at time.Time) (int64, error)

	// MarkCancelled closes a non-terminal order and scrubs its deposit
	// secret. Orders with a pinned payout transaction refuse cancellation.
	MarkCancelled(ctx context.Context, orderID string) (int64, error)

	// MarkExpired closes all pending orders past their deadline and scrubs
	// their secrets. Returns the number of orders closed.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)

	// PurgeTerminal deletes terminal orders last touched before cutoff.
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)

	CountByStatus(ctx context.Context) (map[models.OrderStatus]int64, error)
}
