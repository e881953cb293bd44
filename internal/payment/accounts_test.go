package payment_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jmerrifield20/VideoAccessLedger/internal/ledger"
	"github.com/jmerrifield20/VideoAccessLedger/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func transfer(from, to string, amount int64) ledger.Transfer {
	return ledger.Transfer{ID: uuid.New(), ListingID: 1, From: from, To: to, Amount: amount}
}

func TestAccounts_Transfer(t *testing.T) {
	ctx := context.Background()
	a := payment.NewAccounts(100, zap.NewNop())

	ref, err := a.Transfer(ctx, transfer("carol", "bob", 40))
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Equal(t, int64(60), a.Balance("carol"))
	assert.Equal(t, int64(140), a.Balance("bob"))
}

func TestAccounts_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	a := payment.NewAccounts(0, zap.NewNop())
	a.Deposit("carol", 10)

	_, err := a.Transfer(ctx, transfer("carol", "bob", 11))
	assert.ErrorIs(t, err, payment.ErrInsufficientFunds)
	assert.Equal(t, int64(10), a.Balance("carol"))
	assert.Zero(t, a.Balance("bob"))
}

func TestAccounts_IdempotentByTransferID(t *testing.T) {
	ctx := context.Background()
	a := payment.NewAccounts(100, zap.NewNop())
	tr := transfer("carol", "bob", 30)

	ref1, err := a.Transfer(ctx, tr)
	require.NoError(t, err)
	ref2, err := a.Transfer(ctx, tr)
	require.NoError(t, err)

	assert.Equal(t, ref1, ref2)
	assert.Equal(t, int64(70), a.Balance("carol"))
}

func TestAccounts_Refund(t *testing.T) {
	ctx := context.Background()
	a := payment.NewAccounts(100, zap.NewNop())
	tr := transfer("carol", "bob", 30)

	ref, err := a.Transfer(ctx, tr)
	require.NoError(t, err)
	require.NoError(t, a.Refund(ctx, tr, ref))
	assert.Equal(t, int64(100), a.Balance("carol"))
	assert.Equal(t, int64(100), a.Balance("bob"))

	assert.ErrorIs(t, a.Refund(ctx, tr, ref), payment.ErrUnknownTransfer)
}

func TestAccounts_WithLedger(t *testing.T) {
	ctx := context.Background()
	a := payment.NewAccounts(0, zap.NewNop())
	a.Deposit("carol", 50)
	l := ledger.New(ledger.NewMemoryStore(), a, zap.NewNop())

	id, err := l.List(ctx, "bob", "clip", "", "bafy", 40)
	require.NoError(t, err)

	_, err = l.Purchase(ctx, "dave", id, 40)
	assert.ErrorIs(t, err, ledger.ErrTransferFailed)

	_, err = l.Purchase(ctx, "carol", id, 45)
	require.NoError(t, err)
	assert.Equal(t, int64(5), a.Balance("carol"))
	assert.Equal(t, int64(45), a.Balance("bob"))
}
