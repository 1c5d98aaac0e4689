package neorpc

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"EddyMixer/internal/ledger"
	"EddyMixer/internal/neotx"
)

// PrepareTransfer builds and signs token.transfer(key's account, to, amount)
// with system and network fees resolved against the node, without
// broadcasting. The returned transaction id is final, so callers can persist
// it before Broadcast and survive a crash in between.
func (c *Client) PrepareTransfer(ctx context.Context, key *ecdsa.PrivateKey, token, to string, amount *big.Int) (*ledger.Prepared, error) {
	tokenHash, err := neotx.ParseHash160(token)
	if err != nil {
		return nil, err
	}
	toHash, err := neotx.ParseAddress(to)
	if err != nil {
		return nil, err
	}
	fromHash := neotx.AccountFromPubKey(&key.PublicKey)
	script := neotx.TransferScript(tokenHash, fromHash, toHash, amount)

	var signers []neotx.Signer
	var keys []*ecdsa.PrivateKey
	if c.sponsor != nil {
		signers = append(signers, neotx.Signer{
			Account: neotx.AccountFromPubKey(&c.sponsor.PublicKey),
			Scope:   neotx.ScopeNone,
		})
		keys = append(keys, c.sponsor)
	}
	signers = append(signers, neotx.Signer{Account: fromHash, Scope: neotx.ScopeCalledByEntry})
	keys = append(keys, key)

	height, err := c.BlockHeight(ctx)
	if err != nil {
		return nil, err
	}

	invokeSigners := make([]InvokeSigner, 0, len(signers))
	for _, s := range signers {
		invokeSigners = append(invokeSigners, InvokeSigner{Account: s.Account.Hex(), Scopes: scopeName(s.Scope)})
	}

	tx, err := neotx.New(script, signers, height+c.txLifetime)
	if err != nil {
		return nil, err
	}

	var res *InvokeResult
	err = c.withFailover(ctx, func(rc *rpcClient) error {
		var callErr error
		res, callErr = rc.invokeScript(ctx, scriptBase64(script), invokeSigners)
		return callErr
	})
	if err != nil {
		return nil, classify(err)
	}
	if res.State != "HALT" {
		return nil, fmt.Errorf("transfer would fault: %s", res.Exception)
	}
	tx.SystemFee, err = parseInt64(res.GasConsumed)
	if err != nil {
		return nil, fmt.Errorf("parse system fee: %w", err)
	}

	pubKeys := make([][]byte, 0, len(keys))
	for _, k := range keys {
		pubKeys = append(pubKeys, neotx.CompressPubKey(&k.PublicKey))
	}
	if err := tx.PlaceholderWitnesses(pubKeys...); err != nil {
		return nil, err
	}
	var netFee int64
	err = c.withFailover(ctx, func(rc *rpcClient) error {
		var callErr error
		netFee, callErr = rc.calculateNetworkFee(ctx, tx.Base64())
		return callErr
	})
	if err != nil {
		return nil, classify(err)
	}
	tx.NetworkFee = netFee

	if err := tx.Sign(c.networkMagic, keys...); err != nil {
		return nil, err
	}

	return &ledger.Prepared{
		TxID:            tx.ID(),
		Raw:             tx.Base64(),
		ValidUntilBlock: tx.ValidUntilBlock,
	}, nil
}

// Broadcast submits a signed transaction. ledger.ErrAlreadyExists means the
// node already holds it, which callers treat as submitted.
func (c *Client) Broadcast(ctx context.Context, raw string) error {
	err := c.withFailover(ctx, func(rc *rpcClient) error {
		_, callErr := rc.sendRawTransaction(ctx, raw)
		return callErr
	})
	return classify(err)
}

// TransactionStatus resolves a submitted transaction through its application
// log. ledger.ErrTxUnknown means the node has not seen it yet.
func (c *Client) TransactionStatus(ctx context.Context, txid string) (ledger.TxStatus, error) {
	var appLog *ApplicationLog
	err := c.withFailover(ctx, func(rc *rpcClient) error {
		var callErr error
		appLog, callErr = rc.getApplicationLog(ctx, txid)
		return callErr
	})
	if err != nil {
		err = classify(err)
		if errors.Is(err, ledger.ErrTxUnknown) {
			return ledger.TxPending, ledger.ErrTxUnknown
		}
		return ledger.TxPending, err
	}

	for _, exec := range appLog.Executions {
		if exec.Trigger != "Application" {
			continue
		}
		switch exec.VMState {
		case "HALT":
			return ledger.TxConfirmed, nil
		case "FAULT":
			return ledger.TxFailed, nil
		}
	}
	return ledger.TxPending, nil
}

func scopeName(scope byte) string {
	switch scope {
	case neotx.ScopeNone:
		return "None"
	case neotx.ScopeCalledByEntry:
		return "CalledByEntry"
	default:
		return "None"
	}
}
