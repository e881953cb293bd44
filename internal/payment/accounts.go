// Package payment provides the value-transfer collaborators used by the
// ledger's Purchase operation.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jmerrifield20/VideoAccessLedger/internal/ledger"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientFunds is returned when the payer's balance cannot cover a transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUnknownTransfer is returned by Refund for a transfer that was never applied.
	ErrUnknownTransfer = errors.New("unknown transfer")
)

// Accounts is an in-process balance book. Principals that have never been
// seen start with the configured opening balance.
type Accounts struct {
	mu       sync.Mutex
	balances map[string]int64
	applied  map[uuid.UUID]ledger.Transfer
	opening  int64
	logger   *zap.Logger
}

// NewAccounts creates an Accounts book with the given opening balance.
func NewAccounts(opening int64, logger *zap.Logger) *Accounts {
	return &Accounts{
		balances: make(map[string]int64),
		applied:  make(map[uuid.UUID]ledger.Transfer),
		opening:  opening,
		logger:   logger,
	}
}

func (a *Accounts) balance(principal string) int64 {
	if b, ok := a.balances[principal]; ok {
		return b
	}
	return a.opening
}

// Balance returns principal's current balance.
func (a *Accounts) Balance(principal string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance(principal)
}

// Deposit credits amount to principal.
func (a *Accounts) Deposit(principal string, amount int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[principal] = a.balance(principal) + amount
}

// Transfer implements ledger.Transferrer. Replaying a transfer with an
// already-applied ID returns the original reference without moving funds again.
func (a *Accounts) Transfer(ctx context.Context, t ledger.Transfer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.Amount < 0 {
		return "", fmt.Errorf("negative transfer amount %d", t.Amount)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ref := "acct-" + t.ID.String()
	if _, ok := a.applied[t.ID]; ok {
		return ref, nil
	}
	if a.balance(t.From) < t.Amount {
		return "", fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, t.From, a.balance(t.From), t.Amount)
	}
	a.balances[t.From] = a.balance(t.From) - t.Amount
	a.balances[t.To] = a.balance(t.To) + t.Amount
	a.applied[t.ID] = t

	a.logger.Debug("transfer applied",
		zap.String("ref", ref),
		zap.String("from", t.From),
		zap.String("to", t.To),
		zap.Int64("amount", t.Amount),
	)
	return ref, nil
}

// Refund implements ledger.Refunder by reversing an applied transfer.
func (a *Accounts) Refund(_ context.Context, t ledger.Transfer, ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	orig, ok := a.applied[t.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, ref)
	}
	a.balances[orig.To] = a.balance(orig.To) - orig.Amount
	a.balances[orig.From] = a.balance(orig.From) + orig.Amount
	delete(a.applied, t.ID)

	a.logger.Info("transfer refunded", zap.String("ref", ref), zap.Int64("amount", orig.Amount))
	return nil
}
