// Package credit spends placement credits through the account collaborator.
package credit

import (
	"context"
	"fmt"

	"pixelgrid/pkg/interfaces"
)

// Ledger implements interfaces.CreditLedger on top of an AccountStore.
// Atomicity comes from AccountStore.DebitOne, which performs the
// decrement-if-positive as one operation.
type Ledger struct {
	accounts interfaces.AccountStore
}

var _ interfaces.CreditLedger = (*Ledger)(nil)

// NewLedger creates a ledger over accounts.
func NewLedger(accounts interfaces.AccountStore) *Ledger {
	if accounts == nil {
		panic("account store cannot be nil for Ledger")
	}
	return &Ledger{accounts: accounts}
}

// TryDebit implements interfaces.CreditLedger.
func (l *Ledger) TryDebit(ctx context.Context, userID string) (bool, error) {
	ok, err := l.accounts.DebitOne(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("debit credit for user %s: %w", userID, err)
	}
	return ok, nil
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.accounts.GetBalance(ctx, userID)
}

// TopUp credits n to the user. Only the admin side channel calls this.
func (l *Ledger) TopUp(ctx context.Context, userID string, n int64) (int64, error) {
	if n <= 0 {
		return 0, interfaces.ErrInvalidAmount
	}
	return l.accounts.CreditAmount(ctx, userID, n)
}
