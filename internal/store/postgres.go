package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"EddyMixer/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `order_id, token_hash, amount, sender_address, recipient_address,
		deposit_address, deposit_secret_enc, status,
		deposited_amount, deposited_at, deposit_tx,
		payout_scheduled_at, payout_next_attempt_at, payout_attempts, payout_flagged_at,
		payout_tx, payout_raw, payout_valid_until, payout_executed_at,
		expires_at, session_id, wallet_address, created_at, updated_at`

// Postgres is the production Store on a pgx pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

var _ Store = (*Postgres)(nil)

func (s *Postgres) CreateOrder(ctx context.Context, order *models.MixOrder) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO mixer_orders (
			order_id, token_hash, amount, sender_address, recipient_address,
			deposit_address, deposit_secret_enc, status,
			expires_at, session_id, wallet_address
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		order.OrderID,
		order.TokenHash,
		order.Amount,
		order.SenderAddress,
		order.RecipientAddress,
		order.DepositAddress,
		order.DepositSecretEnc,
		order.Status,
		order.ExpiresAt,
		order.SessionID,
		order.WalletAddress,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateDepositAddress
	}
	return err
}

func (s *Postgres) GetOrder(ctx context.Context, orderID string) (*models.MixOrder, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM mixer_orders WHERE order_id=$1
	`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

func (s *Postgres) GetPendingOrderByDepositAddress(ctx context.Context, depositAddress string) (*models.MixOrder, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM mixer_orders WHERE deposit_address=$1 AND status='pending'
	`, depositAddress)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

func (s *Postgres) ListOrdersBySession(ctx context.Context, sessionID string, limit int) ([]*models.MixOrder, error) {
	return s.list(ctx, `
		SELECT `+orderColumns+`
		FROM mixer_orders
		WHERE session_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
}

func (s *Postgres) ListOrdersByWallet(ctx context.Context, wallet string, limit int) ([]*models.MixOrder, error) {
	return s.list(ctx, `
		SELECT `+orderColumns+`
		FROM mixer_orders
		WHERE wallet_address=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, wallet, limit)
}

func (s *Postgres) ListPendingOrders(ctx context.Context, limit int) ([]*models.MixOrder, error) {
	return s.list(ctx, `
		SELECT `+orderColumns+`
		FROM mixer_orders
		WHERE status='pending'
		ORDER BY created_at
		LIMIT $1
	`, limit)
}

func (s *Postgres) ListDepositedOrders(ctx context.Context, limit int) ([]*models.MixOrder, error) {
	return s.list(ctx, `
		SELECT `+orderColumns+`
		FROM mixer_orders
		WHERE status='deposited'
		ORDER BY deposited_at
		LIMIT $1
	`, limit)
}

func (s *Postgres) ListDuePayouts(ctx context.Context, now time.Time, limit int) ([]*models.MixOrder, error) {
	return s.list(ctx, `
		SELECT `+orderColumns+`
		FROM mixer_orders
		WHERE status='processing' AND payout_flagged_at IS NULL AND payout_next_attempt_at <= $1
		ORDER BY payout_next_attempt_at
		LIMIT $2
	`, now, limit)
}

func (s *Postgres) MarkDeposited(ctx context.Context, orderID, amount string, depositTx *string, at time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE mixer_orders
		SET status='deposited', deposited_amount=$2, deposited_at=$3, deposit_tx=$4, updated_at=now()
		WHERE order_id=$1 AND status='pending'
	`, orderID, amount, at, depositTx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Postgres) MarkProcessing(ctx context.Context, orderID string, scheduledAt time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE mixer_orders
		SET status='processing', payout_scheduled_at=$2, payout_next_attempt_at=$2, updated_at=now()
		WHERE order_id=$1 AND status='deposited'
	`, orderID, scheduledAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Postgres) ClaimPayoutAttempt(ctx context.Context, orderID string, now, nextAttempt time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE mixer_orders
		SET payout_attempts=payout_attempts+1, payout_next_attempt_at=$3, updated_at=now()
		WHERE order_id=$1 AND status='processing' AND payout_flagged_at IS NULL AND payout_next_attempt_at <= $2
	`, orderID, now, nextAttempt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Postgres) SetPayoutTx(ctx context.Context, orderID, txid, raw string, validUntil uint32) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE mixer_orders
		SET payout_tx=$2, payout_raw=$3, payout_valid_until=$4, updated_at=now()
		WHERE order_id=$1 AND status='processing' AND payout_tx IS NULL
	`, orderID, txid, raw, int64(validUntil))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Postgres) ClearStalePayoutTx(ctx context.Context, orderID, txid string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE mixer_orders
		SET payout_tx=NULL, payout_raw=NULL, payout_valid_until=NULL, updated_at=now()
		WHERE order_id=$1 AND status='processing' AND payout_tx=$2
	`, orderID, txid)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Postgres) MarkCompleted(ctx context.Context, orderID string, executedAt time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE mixer_orders
		SET status='completed', payout_executed_at=$2, updated_at=now()
		WHERE order_id=$1 AND status='processing' AND payout_tx IS NOT NULL
	`, orderID, executedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Postgres) FlagPayout(ctx context.Context, orderID string, at time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE mixer_orders
		SET payout_flagged_at=$2, updated_at=now()
		WHERE order_id=$1 AND status='processing' AND payout_flagged_at IS NULL
	`, orderID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Postgres) MarkCancelled(ctx context.Context, orderID string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE mixer_orders
		SET status='cancelled', deposit_secret_enc='', updated_at=now()
		WHERE order_id=$1 AND status IN ('pending','deposited','processing') AND payout_tx IS NULL
	`, orderID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Postgres) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE mixer_orders
		SET status='expired', deposit_secret_enc='', updated_at=now()
		WHERE status='pending' AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Postgres) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		DELETE FROM mixer_orders
		WHERE status IN ('completed','expired','cancelled') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Postgres) CountByStatus(ctx context.Context) (map[models.OrderStatus]int64, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT status, count(*) FROM mixer_orders GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.OrderStatus]int64)
	for rows.Next() {
		var status models.OrderStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Postgres) list(ctx context.Context, query string, args ...any) ([]*models.MixOrder, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.MixOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.MixOrder, error) {
	var order models.MixOrder
	var depositedAmount, depositTx sql.NullString
	var depositedAt sql.NullTime
	var payoutScheduledAt, payoutNextAttemptAt, payoutFlaggedAt, payoutExecutedAt sql.NullTime
	var payoutTx, payoutRaw sql.NullString
	var payoutValidUntil sql.NullInt64
	var sessionID, walletAddress sql.NullString

	err := row.Scan(
		&order.OrderID,
		&order.TokenHash,
		&order.Amount,
		&order.SenderAddress,
		&order.RecipientAddress,
		&order.DepositAddress,
		&order.DepositSecretEnc,
		&order.Status,
		&depositedAmount,
		&depositedAt,
		&depositTx,
		&payoutScheduledAt,
		&payoutNextAttemptAt,
		&order.PayoutAttempts,
		&payoutFlaggedAt,
		&payoutTx,
		&payoutRaw,
		&payoutValidUntil,
		&payoutExecutedAt,
		&order.ExpiresAt,
		&sessionID,
		&walletAddress,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if depositedAmount.Valid {
		order.DepositedAmount = &depositedAmount.String
	}
	if depositedAt.Valid {
		order.DepositedAt = &depositedAt.Time
	}
	if depositTx.Valid {
		order.DepositTx = &depositTx.String
	}
	if payoutScheduledAt.Valid {
		order.PayoutScheduledAt = &payoutScheduledAt.Time
	}
	if payoutNextAttemptAt.Valid {
		order.PayoutNextAttemptAt = &payoutNextAttemptAt.Time
	}
	if payoutFlaggedAt.Valid {
		order.PayoutFlaggedAt = &payoutFlaggedAt.Time
	}
	if payoutTx.Valid {
		order.PayoutTx = &payoutTx.String
	}
	if payoutRaw.Valid {
		order.PayoutRaw = &payoutRaw.String
	}
	if payoutValidUntil.Valid {
		order.PayoutValidUntil = &payoutValidUntil.Int64
	}
	if payoutExecutedAt.Valid {
		order.PayoutExecutedAt = &payoutExecutedAt.Time
	}
	if sessionID.Valid {
		order.SessionID = &sessionID.String
	}
	if walletAddress.Valid {
		order.WalletAddress = &walletAddress.String
	}
	return &order, nil
}
