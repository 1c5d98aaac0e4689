// Package services owns the mix order lifecycle: creation, lookup,
// cancellation and payout scheduling. Deposit detection and payout execution
// build on it from their own packages.
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"EddyMixer/internal/amounts"
	"EddyMixer/internal/ledger"
	"EddyMixer/internal/metrics"
	"EddyMixer/internal/models"
	"EddyMixer/internal/neotx"
	"EddyMixer/internal/store"
	"EddyMixer/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrBadToken        = errors.New("token hash is invalid")
	ErrBadRecipient    = errors.New("recipient address is invalid")
	ErrBadSender       = errors.New("sender address is invalid")
	ErrMissingAmount   = errors.New("amount is required")
	ErrOrderNotFound   = errors.New("order not found")
	ErrAlreadyTerminal = errors.New("order is already terminal")
	ErrPayoutInFlight  = errors.New("payout already submitted")
)

type OrderService struct {
	Store  store.Store
	Vault  *vault.Vault
	Reader ledger.Reader
	// TTL is the deposit window; pending orders expire after it.
	TTL time.Duration
	// DelayMin/DelayMax bound the randomized payout hold.
	DelayMin time.Duration
	DelayMax time.Duration
	Log      zerolog.Logger
}

type CreateOrderParams struct {
	Token            string
	Amount           string
	AmountDecimal    string
	RecipientAddress string
	SenderAddress    string
	SessionID        *string
	WalletAddress    *string
}

// CreateOrder validates the request, mints a single-use deposit keypair and
// persists the order as pending. The private key exists in plaintext only
// inside this call; the caller never sees it.
func (s OrderService) CreateOrder(ctx context.Context, p CreateOrderParams) (*models.MixOrder, error) {
	token, err := neotx.ParseHash160(p.Token)
	if err != nil {
		return nil, ErrBadToken
	}
	if !neotx.ValidAddress(p.RecipientAddress) {
		return nil, ErrBadRecipient
	}
	if !neotx.ValidAddress(p.SenderAddress) {
		return nil, ErrBadSender
	}

	var amount *big.Int
	switch {
	case p.Amount != "":
		amount, err = amounts.ParseBaseUnits(p.Amount)
		if err != nil {
			return nil, err
		}
	case p.AmountDecimal != "":
		decimals, derr := s.Reader.TokenDecimals(ctx, token.Hex())
		if derr != nil {
			return nil, derr
		}
		amount, err = amounts.ToBaseUnits(p.AmountDecimal, decimals)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrMissingAmount
	}

	key, err := vault.NewSigningKey()
	if err != nil {
		return nil, err
	}
	depositAddress := neotx.AddressFromPubKey(&key.PublicKey)

	raw := vault.MarshalSigningKey(key)
	secretEnc, err := s.Vault.Seal(raw)
	vault.Zero(raw)
	key.D.SetInt64(0)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &models.MixOrder{
		OrderID:          uuid.NewString(),
		TokenHash:        token.Hex(),
		Amount:           amount.String(),
		SenderAddress:    p.SenderAddress,
		RecipientAddress: p.RecipientAddress,
		DepositAddress:   depositAddress,
		DepositSecretEnc: secretEnc,
		Status:           models.OrderPending,
		ExpiresAt:        now.Add(s.TTL),
		SessionID:        p.SessionID,
		WalletAddress:    p.WalletAddress,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.Store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	metrics.OrderCreated()
	s.Log.Info().
		Str("order_id", order.OrderID).
		Str("token", order.TokenHash).
		Str("deposit_address", order.DepositAddress).
		Time("expires_at", order.ExpiresAt).
		Msg("order created")
	return order, nil
}

func (s OrderService) GetOrder(ctx context.Context, orderID string) (*models.MixOrder, error) {
	order, err := s.Store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

func (s OrderService) ListOrdersBySession(ctx context.Context, sessionID string, limit int) ([]*models.MixOrder, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.Store.ListOrdersBySession(ctx, sessionID, limit)
}

func (s OrderService) ListOrdersByWallet(ctx context.Context, wallet string, limit int) ([]*models.MixOrder, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.Store.ListOrdersByWallet(ctx, wallet, limit)
}

// CancelOrder closes the order and scrubs its deposit secret, unless a
// payout transaction is already pinned or the order reached a terminal
// state first.
func (s OrderService) CancelOrder(ctx context.Context, orderID string) (*models.MixOrder, error) {
	rows, err := s.Store.MarkCancelled(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		order, gerr := s.Store.GetOrder(ctx, orderID)
		if errors.Is(gerr, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		if gerr != nil {
			return nil, gerr
		}
		if order.PayoutTx != nil && !order.Status.Terminal() {
			return nil, ErrPayoutInFlight
		}
		return nil, ErrAlreadyTerminal
	}
	s.Log.Info().Str("order_id", orderID).Msg("order cancelled")
	return s.GetOrder(ctx, orderID)
}

// SchedulePayout moves a deposited order to processing with a payout time
// drawn uniformly from the configured hold window. Losing the transition
// race is not an error; exactly one caller wins and stamps the schedule.
func (s OrderService) SchedulePayout(ctx context.Context, orderID string) error {
	delay := randomDelay(s.DelayMin, s.DelayMax)
	scheduledAt := time.Now().UTC().Add(delay)
	rows, err := s.Store.MarkProcessing(ctx, orderID, scheduledAt)
	if err != nil {
		return err
	}
	if rows == 1 {
		s.Log.Info().
			Str("order_id", orderID).
			Dur("delay", delay).
			Time("scheduled_at", scheduledAt).
			Msg("payout scheduled")
	}
	return nil
}

// randomDelay draws from [min, max] with crypto randomness; the hold window
// is part of the unlinkability story, not just jitter.
func randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := new(big.Int).SetInt64(int64(max-min) + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return min
	}
	return min + time.Duration(n.Int64())
}
