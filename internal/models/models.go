package models

import "time"

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderDeposited  OrderStatus = "deposited"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderExpired    OrderStatus = "expired"
	OrderCancelled  OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderExpired, OrderCancelled:
		return true
	}
	return false
}

// MixOrder is one custodial pass-through: funds arrive on a single-use
// deposit address and leave for the recipient after a randomized hold.
// Amounts are token base units carried as decimal strings.
type MixOrder struct {
	OrderID          string
	TokenHash        string
	Amount           string
	SenderAddress    string
	RecipientAddress string

	DepositAddress   string
	DepositSecretEnc string

	Status OrderStatus

	DepositedAmount *string
	DepositedAt     *time.Time
	DepositTx       *string

	PayoutScheduledAt   *time.Time
	PayoutNextAttemptAt *time.Time
	PayoutAttempts      int
	PayoutFlaggedAt     *time.Time
	PayoutTx            *string
	PayoutRaw           *string
	PayoutValidUntil    *int64
	PayoutExecutedAt    *time.Time

	ExpiresAt time.Time

	SessionID     *string
	WalletAddress *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PayoutDue reports whether the executor may claim the order at t.
func (o *MixOrder) PayoutDue(t time.Time) bool {
	return o.Status == OrderProcessing &&
		o.PayoutFlaggedAt == nil &&
		o.PayoutNextAttemptAt != nil &&
		!o.PayoutNextAttemptAt.After(t)
}
