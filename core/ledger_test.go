package core_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PinkDiamond1/filsim/core"
	"github.com/PinkDiamond1/filsim/core/store"
	"github.com/PinkDiamond1/filsim/core/types"
	"github.com/PinkDiamond1/filsim/wallet"
)

func newTestLedger(t *testing.T) (*core.AccountLedger, *store.Store) {
	t.Helper()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	chain, err := store.Open(context.Background(), ds)
	require.NoError(t, err)
	return core.NewAccountLedger(chain.Accounts), chain
}

func fundedAccount(t *testing.T, chain *store.Store, rng *rand.Rand, balance int64) address.Address {
	t.Helper()
	_, addr, err := wallet.GenerateKey(rng)
	require.NoError(t, err)
	require.NoError(t, chain.Accounts.Put(context.Background(), &types.Account{
		Address: addr,
		Balance: big.NewInt(balance),
	}))
	return addr
}

func TestTransferFunds(t *testing.T) {
	ctx := context.Background()
	ledger, chain := newTestLedger(t)
	rng := rand.New(rand.NewSource(1))

	a := fundedAccount(t, chain, rng, 100)
	b := fundedAccount(t, chain, rng, 0)

	ok, err := ledger.TransferFunds(ctx, a, b, big.NewInt(30))
	require.NoError(t, err)
	assert.True(t, ok)

	acctA, err := ledger.GetAccount(ctx, a)
	require.NoError(t, err)
	acctB, err := ledger.GetAccount(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(70), acctA.Balance)
	assert.Equal(t, big.NewInt(30), acctB.Balance)

	// Overdraft leaves both balances untouched.
	ok, err = ledger.TransferFunds(ctx, a, b, big.NewInt(71))
	require.NoError(t, err)
	assert.False(t, ok)
	acctA, err = ledger.GetAccount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(70), acctA.Balance)
}

func TestGetAccountLazyCreate(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	rng := rand.New(rand.NewSource(2))

	_, addr, err := wallet.GenerateKey(rng)
	require.NoError(t, err)

	acct, err := ledger.GetAccount(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, big.Zero(), acct.Balance)
	assert.Zero(t, acct.Nonce)
}

func TestIncrementNonce(t *testing.T) {
	ctx := context.Background()
	ledger, chain := newTestLedger(t)
	rng := rand.New(rand.NewSource(3))
	a := fundedAccount(t, chain, rng, 5)

	require.NoError(t, ledger.IncrementNonce(ctx, a))
	require.NoError(t, ledger.IncrementNonce(ctx, a))

	acct, err := ledger.GetAccount(ctx, a)
	require.NoError(t, err)
	assert.EqualValues(t, 2, acct.Nonce)
}
