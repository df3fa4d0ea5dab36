package core

import (
	"context"
	"sync"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/PinkDiamond1/filsim/core/types"
)

// AccountStore is the persistence surface the ledger writes through to.
type AccountStore interface {
	Get(addr address.Address) *types.Account
	Put(ctx context.Context, acct *types.Account) error
}

// AccountLedger holds the mutable balance/nonce state. All mutation goes
// through its lock; readers get snapshots.
type AccountLedger struct {
	mu    sync.Mutex
	store AccountStore
}

func NewAccountLedger(store AccountStore) *AccountLedger {
	return &AccountLedger{store: store}
}

// GetAccount returns a snapshot of the account, creating a zero-balance
// record lazily so recipients never need prior registration.
func (l *AccountLedger) GetAccount(ctx context.Context, addr address.Address) (*types.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.load(ctx, addr)
	if err != nil {
		return nil, err
	}
	snapshot := *acct
	return &snapshot, nil
}

// TransferFunds atomically moves amount from one account to another. It
// returns false, without touching either balance, when the source cannot
// cover the amount.
func (l *AccountLedger) TransferFunds(ctx context.Context, from, to address.Address, amount big.Int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, err := l.load(ctx, from)
	if err != nil {
		return false, err
	}
	if src.Balance.LessThan(amount) {
		return false, nil
	}
	if from == to {
		return true, nil
	}
	dst, err := l.load(ctx, to)
	if err != nil {
		return false, err
	}

	src.Balance = big.Sub(src.Balance, amount)
	dst.Balance = big.Add(dst.Balance, amount)
	if err := l.store.Put(ctx, src); err != nil {
		return false, err
	}
	if err := l.store.Put(ctx, dst); err != nil {
		return false, err
	}
	return true, nil
}

// IncrementNonce advances the account's next-nonce after a message from it
// was applied.
func (l *AccountLedger) IncrementNonce(ctx context.Context, addr address.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.load(ctx, addr)
	if err != nil {
		return err
	}
	acct.Nonce++
	return l.store.Put(ctx, acct)
}

func (l *AccountLedger) load(ctx context.Context, addr address.Address) (*types.Account, error) {
	if acct := l.store.Get(addr); acct != nil {
		return acct, nil
	}
	acct := &types.Account{Address: addr, Balance: big.Zero()}
	if err := l.store.Put(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}
