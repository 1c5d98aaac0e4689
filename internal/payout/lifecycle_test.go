package payout

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EddyMixer/internal/models"
	"EddyMixer/internal/monitor"
	"EddyMixer/internal/neotx"
	"EddyMixer/internal/services"
	"EddyMixer/internal/store"
	"EddyMixer/internal/vault"
)

// fakeReader is the read side of the chain for the lifecycle test. Addresses
// with no installed balance answer zero, like a never-funded account.
type fakeReader struct {
	balances map[string]*big.Int
	fundTx   string
}

func (r *fakeReader) TokenBalance(_ context.Context, token, address string) (*big.Int, error) {
	if v, ok := r.balances[token+"|"+address]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (r *fakeReader) TokenDecimals(context.Context, string) (int, error) {
	return 8, nil
}

func (r *fakeReader) FindIncomingTransfer(context.Context, string, string) (string, error) {
	return r.fundTx, nil
}

// TestOrderLifecycle drives one order through the whole machine: created
// pending, unfunded poll, funded poll, due payout, confirmed completion.
func TestOrderLifecycle(t *testing.T) {
	ctx := context.Background()

	v, err := vault.New(strings.Repeat("ab", 32), nil)
	require.NoError(t, err)
	mem := store.NewMemory()
	reader := &fakeReader{balances: make(map[string]*big.Int), fundTx: "0xfund01"}
	writer := newFakeWriter()
	writer.confirmOnBroadcast = true

	// Zero payout delay so the schedule is due the moment it is set.
	orders := services.OrderService{
		Store:    mem,
		Vault:    v,
		Reader:   reader,
		TTL:      time.Hour,
		DelayMin: 0,
		DelayMax: 0,
		Log:      zerolog.Nop(),
	}
	deposits := monitor.Monitor{Store: mem, Reader: reader, Orders: orders, Log: zerolog.Nop()}
	exec := Executor{
		Store:        mem,
		Writer:       writer,
		Vault:        v,
		MaxAttempts:  5,
		RetryBackoff: time.Hour,
		ConfirmWait:  0,
		StaleMargin:  5,
		Log:          zerolog.Nop(),
	}

	recipient, err := vault.NewSigningKey()
	require.NoError(t, err)
	order, err := orders.CreateOrder(ctx, services.CreateOrderParams{
		Token:            gasHash,
		Amount:           "100000000",
		RecipientAddress: neotx.AddressFromPubKey(&recipient.PublicKey),
		SenderAddress:    neotx.AddressFromPubKey(&recipient.PublicKey),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)

	// Nothing on chain yet: the poll answers "not yet" and changes nothing.
	res, err := deposits.CheckDeposit(ctx, order.OrderID)
	require.NoError(t, err)
	assert.False(t, res.Funded)
	require.NotNil(t, res.Balance)
	assert.Zero(t, res.Balance.Sign())
	assert.Equal(t, models.OrderPending, res.Order.Status)

	// The sender over-funds the deposit address.
	reader.balances[gasHash+"|"+order.DepositAddress] = big.NewInt(150000000)

	res, err = deposits.CheckDeposit(ctx, order.OrderID)
	require.NoError(t, err)
	assert.True(t, res.Detected)
	assert.True(t, res.Funded)
	assert.Equal(t, models.OrderProcessing, res.Order.Status)
	require.NotNil(t, res.Order.DepositedAmount)
	assert.Equal(t, "150000000", *res.Order.DepositedAmount)
	require.NotNil(t, res.Order.DepositTx)
	assert.Equal(t, "0xfund01", *res.Order.DepositTx)
	require.NotNil(t, res.Order.PayoutScheduledAt)

	// The zero-delay schedule is already due; one pass pays out.
	require.NoError(t, exec.RunDue(ctx, 10))

	final, err := mem.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, final.Status)
	require.NotNil(t, final.PayoutTx)
	assert.NotNil(t, final.PayoutExecutedAt)

	require.Len(t, writer.prepared, 1)
	call := writer.prepared[0]
	assert.Equal(t, order.DepositAddress, call.account)
	assert.Equal(t, order.RecipientAddress, call.to)
	assert.Equal(t, "150000000", call.amount.String(), "the whole deposit moves on")
}
