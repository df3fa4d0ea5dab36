package deals_test

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PinkDiamond1/filsim/core"
	"github.com/PinkDiamond1/filsim/core/store"
	"github.com/PinkDiamond1/filsim/core/types"
	"github.com/PinkDiamond1/filsim/deals"
	"github.com/PinkDiamond1/filsim/objstore"
	"github.com/PinkDiamond1/filsim/params"
	"github.com/PinkDiamond1/filsim/wallet"
)

type dealEnv struct {
	ds     datastore.Batching
	chain  *store.Store
	ledger *core.AccountLedger
	obj    *objstore.MemStore
	engine *deals.Engine
	rng    *rand.Rand
}

func newDealEnv(t *testing.T) *dealEnv {
	t.Helper()
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	chain, err := store.Open(ctx, ds)
	require.NoError(t, err)
	ledger := core.NewAccountLedger(chain.Accounts)
	obj := objstore.NewMemStore()
	engine, err := deals.NewEngine(ctx, namespace.Wrap(ds, datastore.NewKey("/deals")), ledger, chain.Keys, obj)
	require.NoError(t, err)
	return &dealEnv{
		ds:     ds,
		chain:  chain,
		ledger: ledger,
		obj:    obj,
		engine: engine,
		rng:    rand.New(rand.NewSource(33)),
	}
}

func (e *dealEnv) account(t *testing.T, balance int64) address.Address {
	t.Helper()
	ctx := context.Background()
	priv, addr, err := wallet.GenerateKey(e.rng)
	require.NoError(t, err)
	require.NoError(t, e.chain.Keys.Put(ctx, addr, priv))
	require.NoError(t, e.chain.Accounts.Put(ctx, &types.Account{
		Address: addr,
		Balance: big.NewInt(balance),
	}))
	return addr
}

func (e *dealEnv) stage(t *testing.T, data []byte) cid.Cid {
	t.Helper()
	c, err := e.obj.Put(context.Background(), data)
	require.NoError(t, err)
	return c
}

func dealParams(wallet address.Address, root cid.Cid) deals.StartDealParams {
	return deals.StartDealParams{
		Data:              &deals.DataRef{Root: root},
		Wallet:            wallet,
		Miner:             params.MinerAddress,
		EpochPrice:        big.NewInt(2),
		MinBlocksDuration: 10,
	}
}

func TestStartDeal(t *testing.T) {
	ctx := context.Background()
	env := newDealEnv(t)
	client := env.account(t, 100)
	root := env.stage(t, []byte("stored payload"))

	proposal, err := env.engine.StartDeal(ctx, dealParams(client, root))
	require.NoError(t, err)

	state, err := env.engine.DealState(proposal)
	require.NoError(t, err)
	assert.Equal(t, deals.StorageDealValidating, state)
	assert.Equal(t, 1, env.engine.InProcessCount())

	// Payment of epochPrice*duration settles up front.
	acct, err := env.ledger.GetAccount(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(80), acct.Balance)
	minerAcct, err := env.ledger.GetAccount(ctx, params.MinerAddress)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(20), minerAcct.Balance)

	list := env.engine.List()
	require.Len(t, list, 1)
	assert.EqualValues(t, 1, list[0].DealID)
	assert.EqualValues(t, len("stored payload"), list[0].Size)
	assert.Equal(t, params.MinerAddress, list[0].Provider)
}

func TestStartDealErrors(t *testing.T) {
	ctx := context.Background()
	env := newDealEnv(t)
	client := env.account(t, 100)
	root := env.stage(t, []byte("x"))

	_, unknownAddr, err := wallet.GenerateKey(env.rng)
	require.NoError(t, err)
	// A CID staged in a different store is absent from this env's store.
	missingRoot := newDealEnv(t).stage(t, []byte("elsewhere"))

	tests := []struct {
		name    string
		params  deals.StartDealParams
		wantErr error
	}{
		{
			name: "missing wallet",
			params: deals.StartDealParams{
				Data: &deals.DataRef{Root: root},
			},
			wantErr: core.ErrMissingWallet,
		},
		{
			name:    "unknown private key",
			params:  dealParams(unknownAddr, root),
			wantErr: core.ErrUnknownPrivateKey,
		},
		{
			name:    "object not stored locally",
			params:  dealParams(client, missingRoot),
			wantErr: core.ErrObjectNotFound,
		},
		{
			name: "payment exceeds balance",
			params: deals.StartDealParams{
				Data:              &deals.DataRef{Root: root},
				Wallet:            client,
				Miner:             params.MinerAddress,
				EpochPrice:        big.NewInt(1000),
				MinBlocksDuration: 10,
			},
			wantErr: core.ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.StartDeal(ctx, tt.params)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Zero(t, env.engine.InProcessCount())
}

// A deal walks the linear stage table one step per Advance and leaves the
// in-process set exactly on reaching Active.
func TestDealProgression(t *testing.T) {
	ctx := context.Background()
	env := newDealEnv(t)
	client := env.account(t, 1000)
	root := env.stage(t, []byte("payload"))

	proposal, err := env.engine.StartDeal(ctx, dealParams(client, root))
	require.NoError(t, err)

	for i := 0; i < deals.StagesUntilActive; i++ {
		state, err := env.engine.DealState(proposal)
		require.NoError(t, err)
		assert.NotEqual(t, deals.StorageDealActive, state, "active too early, after %d advances", i)
		require.NoError(t, env.engine.Advance(ctx))
	}

	state, err := env.engine.DealState(proposal)
	require.NoError(t, err)
	assert.Equal(t, deals.StorageDealActive, state)
	assert.Zero(t, env.engine.InProcessCount())

	// Further advances hold at Active.
	require.NoError(t, env.engine.Advance(ctx))
	state, err = env.engine.DealState(proposal)
	require.NoError(t, err)
	assert.Equal(t, deals.StorageDealActive, state)
}

// Deal IDs keep increasing across an engine restart on the same datastore,
// and unfinished deals resume advancing.
func TestDealRestartRecovery(t *testing.T) {
	ctx := context.Background()
	env := newDealEnv(t)
	client := env.account(t, 1000)
	root := env.stage(t, []byte("payload"))

	_, err := env.engine.StartDeal(ctx, dealParams(client, root))
	require.NoError(t, err)
	require.NoError(t, env.engine.Advance(ctx))

	reopened, err := deals.NewEngine(ctx, namespace.Wrap(env.ds, datastore.NewKey("/deals")), env.ledger, env.chain.Keys, env.obj)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.InProcessCount())

	proposal2, err := reopened.StartDeal(ctx, dealParams(client, env.stage(t, []byte("second"))))
	require.NoError(t, err)
	list := reopened.List()
	require.Len(t, list, 2)
	assert.EqualValues(t, 2, list[1].DealID)
	_, err = reopened.DealState(proposal2)
	assert.NoError(t, err)
}

func TestCreateQueryOffer(t *testing.T) {
	ctx := context.Background()
	env := newDealEnv(t)
	payload := []byte("16 bytes of data")
	root := env.stage(t, payload)

	offer, err := env.engine.CreateQueryOffer(ctx, root)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), offer.Size)
	assert.Equal(t, big.NewInt(int64(len(payload)*2)), offer.MinPrice)
	assert.Equal(t, params.MinerAddress, offer.Miner)

	env2 := newDealEnv(t)
	absent := env2.stage(t, []byte("not here"))
	_, err = env.engine.CreateQueryOffer(ctx, absent)
	assert.ErrorIs(t, err, core.ErrObjectNotFound)
}

func TestRetrieve(t *testing.T) {
	ctx := context.Background()
	env := newDealEnv(t)
	client := env.account(t, 100)
	payload := []byte("retrieved bytes")
	root := env.stage(t, payload)

	dest := filepath.Join(t.TempDir(), "out.bin")
	order := deals.RetrievalOrder{
		Root:   root,
		Size:   uint64(len(payload)),
		Total:  big.NewInt(30),
		Client: client,
		Miner:  params.MinerAddress,
	}
	require.NoError(t, env.engine.Retrieve(ctx, order, deals.FileRef{Path: dest}))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	_, err = os.Stat(dest + ".partial")
	assert.True(t, os.IsNotExist(err), "partial file must be renamed away")

	acct, err := env.ledger.GetAccount(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(70), acct.Balance)

	// Unpaid retrievals of absent objects fail before touching the ledger.
	env2 := newDealEnv(t)
	absent := env2.stage(t, []byte("absent"))
	order.Root = absent
	err = env.engine.Retrieve(ctx, order, deals.FileRef{Path: dest})
	assert.ErrorIs(t, err, core.ErrObjectNotFound)
}
