package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"EddyMixer/internal/models"
)

// Memory is an in-process Store with the same compare-and-set semantics as
// Postgres. It backs tests and local development without a database.
type Memory struct {
	mu     sync.Mutex
	orders map[string]*models.MixOrder
	byAddr map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		orders: make(map[string]*models.MixOrder),
		byAddr: make(map[string]string),
	}
}

var _ Store = (*Memory)(nil)

func (s *Memory) CreateOrder(_ context.Context, order *models.MixOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byAddr[order.DepositAddress]; taken {
		return ErrDuplicateDepositAddress
	}
	cp := *order
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.orders[cp.OrderID] = &cp
	s.byAddr[cp.DepositAddress] = cp.OrderID
	return nil
}

func (s *Memory) GetOrder(_ context.Context, orderID string) (*models.MixOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(order), nil
}

func (s *Memory) GetPendingOrderByDepositAddress(_ context.Context, depositAddress string) (*models.MixOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byAddr[depositAddress]
	if !ok {
		return nil, ErrNotFound
	}
	order := s.orders[id]
	if order == nil || order.Status != models.OrderPending {
		return nil, ErrNotFound
	}
	return clone(order), nil
}

func (s *Memory) ListOrdersBySession(_ context.Context, sessionID string, limit int) ([]*models.MixOrder, error) {
	return s.filter(limit, func(o *models.MixOrder) bool {
		return o.SessionID != nil && *o.SessionID == sessionID
	}, byCreatedDesc), nil
}

func (s *Memory) ListOrdersByWallet(_ context.Context, wallet string, limit int) ([]*models.MixOrder, error) {
	return s.filter(limit, func(o *models.MixOrder) bool {
		return o.WalletAddress != nil && *o.WalletAddress == wallet
	}, byCreatedDesc), nil
}

func (s *Memory) ListPendingOrders(_ context.Context, limit int) ([]*models.MixOrder, error) {
	return s.filter(limit, func(o *models.MixOrder) bool {
		return o.Status == models.OrderPending
	}, byCreatedAsc), nil
}

func (s *Memory) ListDepositedOrders(_ context.Context, limit int) ([]*models.MixOrder, error) {
	return s.filter(limit, func(o *models.MixOrder) bool {
		return o.Status == models.OrderDeposited
	}, byCreatedAsc), nil
}

func (s *Memory) ListDuePayouts(_ context.Context, now time.Time, limit int) ([]*models.MixOrder, error) {
	return s.filter(limit, func(o *models.MixOrder) bool {
		return o.PayoutDue(now)
	}, byNextAttempt), nil
}

func (s *Memory) MarkDeposited(_ context.Context, orderID, amount string, depositTx *string, at time.Time) (int64, error) {
	return s.update(orderID, func(o *models.MixOrder) bool {
		if o.Status != models.OrderPending {
			return false
		}
		o.Status = models.OrderDeposited
		o.DepositedAmount = &amount
		t := at
		o.DepositedAt = &t
		o.DepositTx = depositTx
		return true
	})
}

func (s *Memory) MarkProcessing(_ context.Context, orderID string, scheduledAt time.Time) (int64, error) {
	return s.update(orderID, func(o *models.MixOrder) bool {
		if o.Status != models.OrderDeposited {
			return false
		}
		o.Status = models.OrderProcessing
		t := scheduledAt
		o.PayoutScheduledAt = &t
		n := scheduledAt
		o.PayoutNextAttemptAt = &n
		return true
	})
}

func (s *Memory) ClaimPayoutAttempt(_ context.Context, orderID string, now, nextAttempt time.Time) (int64, error) {
	return s.update(orderID, func(o *models.MixOrder) bool {
		if !o.PayoutDue(now) {
			return false
		}
		o.PayoutAttempts++
		t := nextAttempt
		o.PayoutNextAttemptAt = &t
		return true
	})
}

func (s *Memory) SetPayoutTx(_ context.Context, orderID, txid, raw string, validUntil uint32) (int64, error) {
	return s.update(orderID, func(o *models.MixOrder) bool {
		if o.Status != models.OrderProcessing || o.PayoutTx != nil {
			return false
		}
		o.PayoutTx = &txid
		o.PayoutRaw = &raw
		v := int64(validUntil)
		o.PayoutValidUntil = &v
		return true
	})
}

func (s *Memory) ClearStalePayoutTx(_ context.Context, orderID, txid string) (int64, error) {
	return s.update(orderID, func(o *models.MixOrder) bool {
		if o.Status != models.OrderProcessing || o.PayoutTx == nil || *o.PayoutTx != txid {
			return false
		}
		o.PayoutTx = nil
		o.PayoutRaw = nil
		o.PayoutValidUntil = nil
		return true
	})
}

func (s *Memory) MarkCompleted(_ context.Context, orderID string, executedAt time.Time) (int64, error) {
	return s.update(orderID, func(o *models.MixOrder) bool {
		if o.Status != models.OrderProcessing || o.PayoutTx == nil {
			return false
		}
		o.Status = models.OrderCompleted
		t := executedAt
		o.PayoutExecutedAt = &t
		return true
	})
}

func (s *Memory) FlagPayout(_ context.Context, orderID string, at time.Time) (int64, error) {
	return s.update(orderID, func(o *models.MixOrder) bool {
		if o.Status != models.OrderProcessing || o.PayoutFlaggedAt != nil {
			return false
		}
		t := at
		o.PayoutFlaggedAt = &t
		return true
	})
}

func (s *Memory) MarkCancelled(_ context.Context, orderID string) (int64, error) {
	return s.update(orderID, func(o *models.MixOrder) bool {
		if o.Status.Terminal() || o.PayoutTx != nil {
			return false
		}
		o.Status = models.OrderCancelled
		o.DepositSecretEnc = ""
		return true
	})
}

func (s *Memory) MarkExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, o := range s.orders {
		if o.Status == models.OrderPending && o.ExpiresAt.Before(now) {
			o.Status = models.OrderExpired
			o.DepositSecretEnc = ""
			o.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (s *Memory) PurgeTerminal(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, o := range s.orders {
		if o.Status.Terminal() && o.UpdatedAt.Before(cutoff) {
			delete(s.orders, id)
			delete(s.byAddr, o.DepositAddress)
			n++
		}
	}
	return n, nil
}

func (s *Memory) CountByStatus(_ context.Context) (map[models.OrderStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.OrderStatus]int64)
	for _, o := range s.orders {
		counts[o.Status]++
	}
	return counts, nil
}

// update applies fn under the lock; fn returns whether its guard matched.
func (s *Memory) update(orderID string, fn func(*models.MixOrder) bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return 0, nil
	}
	if !fn(order) {
		return 0, nil
	}
	order.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (s *Memory) filter(limit int, keep func(*models.MixOrder) bool, less func(a, b *models.MixOrder) bool) []*models.MixOrder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.MixOrder
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func byCreatedAsc(a, b *models.MixOrder) bool  { return a.CreatedAt.Before(b.CreatedAt) }
func byCreatedDesc(a, b *models.MixOrder) bool { return b.CreatedAt.Before(a.CreatedAt) }
func byNextAttempt(a, b *models.MixOrder) bool {
	return a.PayoutNextAttemptAt.Before(*b.PayoutNextAttemptAt)
}

func clone(o *models.MixOrder) *models.MixOrder {
	cp := *o
	cp.DepositedAmount = copyString(o.DepositedAmount)
	cp.DepositedAt = copyTime(o.DepositedAt)
	cp.DepositTx = copyString(o.DepositTx)
	cp.PayoutScheduledAt = copyTime(o.PayoutScheduledAt)
	cp.PayoutNextAttemptAt = copyTime(o.PayoutNextAttemptAt)
	cp.PayoutFlaggedAt = copyTime(o.PayoutFlaggedAt)
	cp.PayoutTx = copyString(o.PayoutTx)
	cp.PayoutRaw = copyString(o.PayoutRaw)
	cp.PayoutValidUntil = copyInt64(o.PayoutValidUntil)
	cp.PayoutExecutedAt = copyTime(o.PayoutExecutedAt)
	cp.SessionID = copyString(o.SessionID)
	cp.WalletAddress = copyString(o.WalletAddress)
	return &cp
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
