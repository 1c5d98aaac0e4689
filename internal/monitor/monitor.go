// Package monitor detects deposits. Checks are idempotent: once a deposit
// is recorded the stored answer is served, and concurrent checks race
// through a single compare-and-set so exactly one records it.
package monitor

import (
	"context"
	"errors"
	"math/big"
	"time"

	"EddyMixer/internal/amounts"
	"EddyMixer/internal/ledger"
	"EddyMixer/internal/metrics"
	"EddyMixer/internal/models"
	"EddyMixer/internal/services"
	"EddyMixer/internal/store"

	"github.com/rs/zerolog"
)

// Result is one deposit check. A ledger failure is an inconclusive check,
// reported in Err, never a verdict.
type Result struct {
	Order *models.MixOrder
	// Detected is true only for the call that recorded the deposit.
	Detected bool
	// Funded is true once a deposit is recorded, whoever recorded it.
	Funded bool
	// Balance is the observed deposit-address balance, nil if not read.
	Balance *big.Int
	Err     error
}

type Monitor struct {
	Store  store.Store
	Reader ledger.Reader
	Orders services.OrderService
	Log    zerolog.Logger
}

// CheckDeposit answers whether the order's deposit address holds at least
// the expected amount, recording the deposit and scheduling the payout when
// it newly does.
func (m Monitor) CheckDeposit(ctx context.Context, orderID string) (*Result, error) {
	order, err := m.Store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, services.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	// Recorded deposits are immutable; answer from the store.
	if order.DepositedAmount != nil {
		metrics.DepositCheck("cached")
		return &Result{Order: order, Funded: true}, nil
	}
	// Terminal orders stay closed; late funds never reactivate them.
	if order.Status.Terminal() {
		metrics.DepositCheck("terminal")
		return &Result{Order: order}, nil
	}

	balance, err := m.Reader.TokenBalance(ctx, order.TokenHash, order.DepositAddress)
	if err != nil {
		metrics.DepositCheck("unavailable")
		m.Log.Warn().Err(err).Str("order_id", order.OrderID).Msg("balance read failed")
		return &Result{Order: order, Err: err}, nil
	}

	required, err := amounts.ParseBaseUnits(order.Amount)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(required) < 0 {
		metrics.DepositCheck("insufficient")
		return &Result{Order: order, Balance: balance}, nil
	}

	// Funded. Attribution is best effort; the balance is the authority.
	txid, _ := m.Reader.FindIncomingTransfer(ctx, order.TokenHash, order.DepositAddress)
	var depositTx *string
	if txid != "" {
		depositTx = &txid
	}

	rows, err := m.Store.MarkDeposited(ctx, order.OrderID, balance.String(), depositTx, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// Lost to a concurrent check, a cancel or the sweeper; report
		// whatever the store now says.
		metrics.DepositCheck("raced")
		fresh, gerr := m.Store.GetOrder(ctx, order.OrderID)
		if gerr != nil {
			return nil, gerr
		}
		return &Result{Order: fresh, Funded: fresh.DepositedAmount != nil, Balance: balance}, nil
	}

	metrics.DepositCheck("funded")
	metrics.DepositDetected()
	m.Log.Info().
		Str("order_id", order.OrderID).
		Str("deposit_address", order.DepositAddress).
		Str("amount", balance.String()).
		Msg("deposit detected")

	if err := m.Orders.SchedulePayout(ctx, order.OrderID); err != nil {
		// The order sits in deposited; RecoverScheduling picks it up.
		m.Log.Error().Err(err).Str("order_id", order.OrderID).Msg("payout scheduling failed")
	}

	fresh, err := m.Store.GetOrder(ctx, order.OrderID)
	if err != nil {
		return nil, err
	}
	return &Result{Order: fresh, Detected: true, Funded: true, Balance: balance}, nil
}

// ScanPending polls every pending order once. Individual failures are
// logged and skipped so one bad order cannot stall the sweep.
func (m Monitor) ScanPending(ctx context.Context, limit int) error {
	orders, err := m.Store.ListPendingOrders(ctx, limit)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := m.CheckDeposit(ctx, order.OrderID); err != nil {
			m.Log.Error().Err(err).Str("order_id", order.OrderID).Msg("deposit check failed")
		}
	}
	return nil
}

// RecoverScheduling schedules payouts for orders that recorded a deposit
// but crashed before the processing transition.
func (m Monitor) RecoverScheduling(ctx context.Context, limit int) error {
	orders, err := m.Store.ListDepositedOrders(ctx, limit)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.Orders.SchedulePayout(ctx, order.OrderID); err != nil {
			m.Log.Error().Err(err).Str("order_id", order.OrderID).Msg("payout scheduling failed")
		}
	}
	return nil
}
