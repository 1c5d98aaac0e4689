// Package payout drives processing orders to completion. Each pass claims
// due orders through a next-attempt cursor, so concurrent workers never run
// the same order, and every transaction is pinned in the store before it is
// broadcast, so a crash at any point resumes instead of paying twice.
package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"EddyMixer/internal/amounts"
	"EddyMixer/internal/ledger"
	"EddyMixer/internal/metrics"
	"EddyMixer/internal/models"
	"EddyMixer/internal/store"
	"EddyMixer/internal/vault"

	"github.com/rs/zerolog"
)

const confirmPollInterval = 3 * time.Second

type Executor struct {
	Store  store.Store
	Writer ledger.Writer
	Vault  *vault.Vault

	// MaxAttempts bounds how many claims an order gets before it is flagged
	// for an operator. Zero means unbounded.
	MaxAttempts int
	// RetryBackoff is how far each claim pushes the next-attempt cursor.
	RetryBackoff time.Duration
	// ConfirmWait is how long a pass waits for a fresh broadcast to confirm
	// before leaving the rest to the next claim.
	ConfirmWait time.Duration
	// StaleMargin is extra blocks past a transaction's validity window
	// before it is declared dead and unpinned.
	StaleMargin uint32

	Log zerolog.Logger
}

// RunDue executes one pass over every order whose payout cursor is due.
func (e Executor) RunDue(ctx context.Context, limit int) error {
	orders, err := e.Store.ListDuePayouts(ctx, time.Now().UTC(), limit)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.Execute(ctx, order.OrderID); err != nil {
			e.Log.Error().Err(err).Str("order_id", order.OrderID).Msg("payout attempt failed")
		}
	}
	return nil
}

// Execute runs one payout attempt. It claims the order first, pushing the
// retry cursor out, then resumes a pinned transaction or builds a new one.
// Transient ledger trouble ends the attempt quietly; the cursor retries it.
func (e Executor) Execute(ctx context.Context, orderID string) error {
	now := time.Now().UTC()
	claimed, err := e.Store.ClaimPayoutAttempt(ctx, orderID, now, now.Add(e.RetryBackoff))
	if err != nil {
		return err
	}
	if claimed == 0 {
		// Another worker holds the claim or the order moved on.
		return nil
	}
	metrics.PayoutAttempt()

	order, err := e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PayoutTx != nil {
		return e.resumePinned(ctx, order)
	}
	if e.MaxAttempts > 0 && order.PayoutAttempts > e.MaxAttempts {
		return e.escalate(ctx, order, fmt.Sprintf("no confirmed transaction after %d attempts", order.PayoutAttempts-1))
	}
	return e.buildAndSubmit(ctx, order)
}

func (e Executor) buildAndSubmit(ctx context.Context, order *models.MixOrder) error {
	if order.DepositedAmount == nil {
		return e.escalate(ctx, order, "processing order has no recorded deposit")
	}
	amount, err := amounts.ParseBaseUnits(*order.DepositedAmount)
	if err != nil {
		return e.escalate(ctx, order, "recorded deposit amount unreadable")
	}

	// A failed decrypt will not fix itself on retry; hand it to an operator
	// while the funds still sit on the deposit address.
	secret, err := e.Vault.Open(order.DepositSecretEnc)
	if err != nil {
		e.Log.Error().Err(err).Str("order_id", order.OrderID).Msg("deposit secret unreadable")
		return e.escalate(ctx, order, "deposit secret unreadable")
	}
	defer vault.Zero(secret)
	key, err := vault.ParseSigningKey(secret)
	if err != nil {
		return e.escalate(ctx, order, "deposit secret corrupt")
	}
	defer key.D.SetInt64(0)

	prepared, err := e.Writer.PrepareTransfer(ctx, key, order.TokenHash, order.RecipientAddress, amount)
	if err != nil {
		e.Log.Warn().Err(err).Str("order_id", order.OrderID).Msg("payout build failed")
		return nil
	}

	pinned, err := e.Store.SetPayoutTx(ctx, order.OrderID, prepared.TxID, prepared.Raw, prepared.ValidUntilBlock)
	if err != nil {
		return err
	}
	if pinned == 0 {
		// Cancelled under us or pinned by a concurrent worker. Never
		// broadcast a transaction the store refused to record.
		e.Log.Warn().Str("order_id", order.OrderID).Msg("payout pin refused, dropping transaction")
		return nil
	}

	err = e.Writer.Broadcast(ctx, prepared.Raw)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrAlreadyExists):
		// The node already holds it; submitted is submitted.
	case errors.Is(err, ledger.ErrUnavailable):
		e.Log.Warn().Err(err).Str("order_id", order.OrderID).Msg("payout broadcast deferred")
		return nil
	default:
		// Rejected. The pin stays: a later pass re-broadcasts, and if the
		// validity window lapses first the pin clears and a new transaction
		// is built.
		e.Log.Error().Err(err).Str("order_id", order.OrderID).Str("payout_tx", prepared.TxID).Msg("payout broadcast rejected")
		return nil
	}

	e.Log.Info().
		Str("order_id", order.OrderID).
		Str("payout_tx", prepared.TxID).
		Str("amount", *order.DepositedAmount).
		Msg("payout broadcast")

	status, err := e.awaitConfirmation(ctx, prepared.TxID)
	if err != nil {
		return err
	}
	switch status {
	case ledger.TxConfirmed:
		return e.complete(ctx, order.OrderID, prepared.TxID)
	case ledger.TxFailed:
		return e.escalate(ctx, order, "payout transaction faulted on chain")
	}
	// Still pending; the next claim picks it up from the pin.
	return nil
}

// resumePinned finishes an order that already has a transaction recorded:
// re-broadcast the exact bytes, then judge by what the chain says.
func (e Executor) resumePinned(ctx context.Context, order *models.MixOrder) error {
	if order.PayoutRaw != nil {
		err := e.Writer.Broadcast(ctx, *order.PayoutRaw)
		switch {
		case err == nil, errors.Is(err, ledger.ErrAlreadyExists):
		case errors.Is(err, ledger.ErrUnavailable):
			return nil
		default:
			e.Log.Error().Err(err).Str("order_id", order.OrderID).Str("payout_tx", *order.PayoutTx).Msg("payout re-broadcast rejected")
		}
	}

	status, err := e.Writer.TransactionStatus(ctx, *order.PayoutTx)
	switch {
	case err == nil && status == ledger.TxConfirmed:
		return e.complete(ctx, order.OrderID, *order.PayoutTx)
	case err == nil && status == ledger.TxFailed:
		return e.escalate(ctx, order, "payout transaction faulted on chain")
	case errors.Is(err, ledger.ErrTxUnknown):
		return e.clearIfDead(ctx, order)
	case err != nil && !errors.Is(err, ledger.ErrUnavailable):
		return err
	}
	return nil
}

// clearIfDead unpins a transaction the chain has never seen once its
// validity window is provably over, freeing the next attempt to rebuild.
func (e Executor) clearIfDead(ctx context.Context, order *models.MixOrder) error {
	if order.PayoutValidUntil == nil {
		return nil
	}
	height, err := e.Writer.BlockHeight(ctx)
	if err != nil {
		return nil
	}
	if int64(height) <= *order.PayoutValidUntil+int64(e.StaleMargin) {
		return nil
	}
	cleared, err := e.Store.ClearStalePayoutTx(ctx, order.OrderID, *order.PayoutTx)
	if err != nil {
		return err
	}
	if cleared > 0 {
		e.Log.Warn().
			Str("order_id", order.OrderID).
			Str("payout_tx", *order.PayoutTx).
			Int64("valid_until", *order.PayoutValidUntil).
			Uint32("height", height).
			Msg("payout transaction expired unconfirmed, will rebuild")
	}
	return nil
}

func (e Executor) awaitConfirmation(ctx context.Context, txid string) (ledger.TxStatus, error) {
	deadline := time.Now().Add(e.ConfirmWait)
	for {
		status, err := e.Writer.TransactionStatus(ctx, txid)
		if err == nil && status != ledger.TxPending {
			return status, nil
		}
		if err != nil && !errors.Is(err, ledger.ErrTxUnknown) && !errors.Is(err, ledger.ErrUnavailable) {
			return ledger.TxPending, err
		}
		if !time.Now().Before(deadline) {
			return ledger.TxPending, nil
		}
		select {
		case <-ctx.Done():
			return ledger.TxPending, ctx.Err()
		case <-time.After(confirmPollInterval):
		}
	}
}

func (e Executor) complete(ctx context.Context, orderID, txid string) error {
	rows, err := e.Store.MarkCompleted(ctx, orderID, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows > 0 {
		metrics.PayoutCompleted()
		e.Log.Info().Str("order_id", orderID).Str("payout_tx", txid).Msg("payout confirmed")
	}
	return nil
}

func (e Executor) escalate(ctx context.Context, order *models.MixOrder, reason string) error {
	rows, err := e.Store.FlagPayout(ctx, order.OrderID, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows > 0 {
		metrics.PayoutFlagged()
		e.Log.Error().
			Str("order_id", order.OrderID).
			Int("attempts", order.PayoutAttempts).
			Str("reason", reason).
			Msg("payout needs operator attention")
	}
	return nil
}
