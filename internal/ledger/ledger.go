// Package ledger defines the narrow view of the chain the mixer needs:
// balance and decimals reads, transfer submission, and status lookups.
// Implementations live in neorpc; tests use in-memory fakes.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
)

var (
	// ErrUnavailable marks transport or node failures. Callers treat it as
	// "unknown, retry later", never as a deposit or payout verdict.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrTxUnknown means the node has no record of the transaction yet.
	ErrTxUnknown = errors.New("transaction unknown")

	// ErrAlreadyExists means the node already holds the exact transaction.
	// Re-broadcasting after a crash hits this; it is success, not failure.
	ErrAlreadyExists = errors.New("transaction already exists")
)

// TxStatus is the lifecycle of a submitted transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// Reader answers questions about current chain state.
type Reader interface {
	// TokenBalance returns the NEP-17 balance of address in base units.
	// Never-funded addresses answer zero, not an error.
	TokenBalance(ctx context.Context, token, address string) (*big.Int, error)

	// TokenDecimals returns the token's display precision.
	TokenDecimals(ctx context.Context, token string) (int, error)

	// FindIncomingTransfer resolves the txid that funded address with token,
	// or "" when the node cannot answer (plugin missing, history pruned).
	FindIncomingTransfer(ctx context.Context, token, address string) (string, error)
}

// Prepared is a fully signed transaction that has not been broadcast. Its ID
// is final: persisting it before Broadcast makes submission idempotent.
type Prepared struct {
	TxID            string
	Raw             string
	ValidUntilBlock uint32
}

// Writer builds and submits transfers.
type Writer interface {
	// PrepareTransfer builds and signs token.transfer(key's account, to,
	// amount) with fees resolved, without broadcasting it.
	PrepareTransfer(ctx context.Context, key *ecdsa.PrivateKey, token, to string, amount *big.Int) (*Prepared, error)

	// Broadcast submits a raw signed transaction. ErrAlreadyExists reports
	// a duplicate, which callers count as submitted.
	Broadcast(ctx context.Context, raw string) error

	// TransactionStatus reports where a submitted transaction stands.
	// ErrTxUnknown means not seen; with ErrUnavailable the answer is unknown.
	TransactionStatus(ctx context.Context, txid string) (TxStatus, error)

	// BlockHeight returns the current chain height, used to decide when an
	// unconfirmed transaction can no longer be included.
	BlockHeight(ctx context.Context) (uint32, error)
}
