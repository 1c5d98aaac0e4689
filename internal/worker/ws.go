package worker

import (
	"context"
	"errors"
	"time"

	"EddyMixer/internal/neorpc"
	"EddyMixer/internal/store"
)

// RunWS listens for transfer notifications and checks the matching order
// immediately instead of waiting for the next poll. Push is an accelerator
// only; the polling loop remains the source of truth.
func (w Worker) RunWS(ctx context.Context) {
	if w.WSEndpoint == "" {
		w.Log.Info().Msg("ws disabled: ws_endpoint is empty")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		client := neorpc.NewWSClient(w.WSEndpoint)
		if err := client.Connect(ctx); err != nil {
			w.Log.Warn().Err(err).Str("endpoint", w.WSEndpoint).Msg("ws connect failed")
			time.Sleep(3 * time.Second)
			continue
		}
		w.Log.Info().Str("endpoint", w.WSEndpoint).Msg("ws connected")

		if err := client.SubscribeTransfers(ctx); err != nil {
			w.Log.Warn().Err(err).Msg("ws subscribe failed")
			client.Close()
			time.Sleep(3 * time.Second)
			continue
		}

		for {
			msg, err := client.Read(ctx)
			if err != nil {
				w.Log.Warn().Err(err).Msg("ws read failed")
				client.Close()
				break
			}

			event, ok, err := neorpc.ParseTransferEvent(msg)
			if err != nil {
				w.Log.Warn().Err(err).Msg("ws parse failed")
				continue
			}
			if !ok || event.ToAddress == "" {
				continue
			}

			order, err := w.Store.GetPendingOrderByDepositAddress(ctx, event.ToAddress)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				w.Log.Warn().Err(err).Msg("ws order lookup failed")
				continue
			}
			if _, err := w.Deposits.CheckDeposit(ctx, order.OrderID); err != nil {
				w.Log.Error().Err(err).Str("order_id", order.OrderID).Msg("ws deposit check failed")
			}
		}

		time.Sleep(2 * time.Second)
	}
}
