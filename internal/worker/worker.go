// Package worker runs the background side of the mixer: deposit polling,
// payout execution, expiry sweeping and retention purging. Every pass is
// safe to run concurrently with the API and with other workers; the store's
// guarded updates decide who wins.
package worker

import (
	"context"
	"fmt"
	"time"

	"EddyMixer/internal/metrics"
	"EddyMixer/internal/models"
	"EddyMixer/internal/monitor"
	"EddyMixer/internal/payout"
	"EddyMixer/internal/store"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type Worker struct {
	Store    store.Store
	Deposits monitor.Monitor
	Payouts  payout.Executor

	DepositInterval time.Duration
	PayoutInterval  time.Duration
	BatchSize       int

	WSEndpoint string

	ExpirySchedule string
	PurgeSchedule  string
	PurgeRetention time.Duration
	StatusSchedule string

	Log zerolog.Logger
}

// Run blocks until ctx is cancelled.
func (w Worker) Run(ctx context.Context) error {
	cr := cron.New()
	if _, err := cr.AddFunc(w.ExpirySchedule, func() { w.sweepExpired(ctx) }); err != nil {
		return fmt.Errorf("expiry schedule: %w", err)
	}
	if _, err := cr.AddFunc(w.PurgeSchedule, func() { w.purgeTerminal(ctx) }); err != nil {
		return fmt.Errorf("purge schedule: %w", err)
	}
	if _, err := cr.AddFunc(w.StatusSchedule, func() { w.refreshStatusCounts(ctx) }); err != nil {
		return fmt.Errorf("status schedule: %w", err)
	}
	cr.Start()
	defer cr.Stop()

	go w.RunWS(ctx)
	go w.payoutLoop(ctx)
	w.depositLoop(ctx)
	return nil
}

func (w Worker) depositLoop(ctx context.Context) {
	ticker := time.NewTicker(w.DepositInterval)
	defer ticker.Stop()

	for {
		if err := w.Deposits.ScanPending(ctx, w.BatchSize); err != nil {
			w.Log.Error().Err(err).Msg("deposit scan failed")
		}
		if err := w.Deposits.RecoverScheduling(ctx, w.BatchSize); err != nil {
			w.Log.Error().Err(err).Msg("schedule recovery failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w Worker) payoutLoop(ctx context.Context) {
	ticker := time.NewTicker(w.PayoutInterval)
	defer ticker.Stop()

	for {
		if err := w.Payouts.RunDue(ctx, w.BatchSize); err != nil {
			w.Log.Error().Err(err).Msg("payout pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w Worker) sweepExpired(ctx context.Context) {
	n, err := w.Store.MarkExpired(ctx, time.Now().UTC())
	if err != nil {
		w.Log.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	if n > 0 {
		metrics.OrdersExpired(n)
		w.Log.Info().Int64("orders", n).Msg("expired unfunded orders")
	}
}

func (w Worker) purgeTerminal(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.PurgeRetention)
	n, err := w.Store.PurgeTerminal(ctx, cutoff)
	if err != nil {
		w.Log.Error().Err(err).Msg("retention purge failed")
		return
	}
	if n > 0 {
		metrics.OrdersPurged(n)
		w.Log.Info().Int64("orders", n).Time("cutoff", cutoff).Msg("purged terminal orders")
	}
}

func (w Worker) refreshStatusCounts(ctx context.Context) {
	counts, err := w.Store.CountByStatus(ctx)
	if err != nil {
		w.Log.Error().Err(err).Msg("status count failed")
		return
	}
	statuses := []models.OrderStatus{
		models.OrderPending,
		models.OrderDeposited,
		models.OrderProcessing,
		models.OrderCompleted,
		models.OrderExpired,
		models.OrderCancelled,
	}
	for _, status := range statuses {
		metrics.SetStatusCount(string(status), counts[status])
	}
}
