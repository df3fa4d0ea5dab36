package node_test

import (
	"context"
	"testing"
	"time"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PinkDiamond1/filsim/core"
	"github.com/PinkDiamond1/filsim/core/types"
	"github.com/PinkDiamond1/filsim/deals"
	"github.com/PinkDiamond1/filsim/node"
	"github.com/PinkDiamond1/filsim/params"
)

func testConfig() params.Config {
	return params.Config{
		BlockTime:       time.Hour, // timed mode without the ticker ever firing
		Seed:            99,
		TotalAccounts:   3,
		DefaultBalance:  big.NewInt(1_000_000),
		ObjectStoreAddr: "",
	}
}

func startedNode(t *testing.T, cfg params.Config, ds datastore.Batching) *node.Node {
	t.Helper()
	n := node.New(cfg, ds)
	require.NoError(t, n.Start(context.Background()))
	require.NoError(t, n.WaitForReady(context.Background()))
	return n
}

func TestNotReadyGating(t *testing.T) {
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	n := node.New(testConfig(), ds)

	err := n.MineTipset(context.Background(), 1)
	assert.ErrorIs(t, err, core.ErrNotReady)
	_, err = n.LatestTipset()
	assert.ErrorIs(t, err, core.ErrNotReady)
	_, err = n.Accounts()
	assert.ErrorIs(t, err, core.ErrNotReady)
}

func TestGenesis(t *testing.T) {
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	n := startedNode(t, testConfig(), ds)

	genesis, err := n.GenesisTipset()
	require.NoError(t, err)
	require.Len(t, genesis.Cids, 1)
	assert.True(t, genesis.Cids[0].Equals(params.GenesisCid))
	assert.EqualValues(t, 0, genesis.Height)
	assert.Len(t, genesis.Blocks[0].Ticket.VRFProof, 32)

	latest, err := n.LatestTipset()
	require.NoError(t, err)
	assert.EqualValues(t, 0, latest.Height)

	accts, err := n.Accounts()
	require.NoError(t, err)
	assert.Len(t, accts, 3)
	for _, addr := range accts {
		bal, err := n.WalletBalance(context.Background(), addr)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(1_000_000), bal)
	}
}

// The same seed always yields the same wallets.
func TestSeedDeterminism(t *testing.T) {
	cfg := testConfig()
	n1 := startedNode(t, cfg, dssync.MutexWrap(datastore.NewMapDatastore()))
	n2 := startedNode(t, cfg, dssync.MutexWrap(datastore.NewMapDatastore()))

	a1, err := n1.Accounts()
	require.NoError(t, err)
	a2, err := n2.Accounts()
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}

func TestPushAndMine(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	n := startedNode(t, testConfig(), ds)

	accts, err := n.Accounts()
	require.NoError(t, err)
	a, b := accts[0], accts[1]

	sm, err := n.Push(ctx, types.Message{
		From:       a,
		To:         b,
		Value:      big.NewInt(500),
		GasLimit:   1,
		GasFeeCap:  big.NewInt(1),
		GasPremium: big.Zero(),
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, sm.Message.Nonce)

	require.NoError(t, n.MineTipset(ctx, 1))

	latest, err := n.LatestTipset()
	require.NoError(t, err)
	assert.EqualValues(t, 1, latest.Height)

	balB, err := n.WalletBalance(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_500), balB)
}

// Restart recovery: a node re-initialised on the same datastore resumes at
// the committed tip and keeps extending it.
func TestRestartRecovery(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	cfg := testConfig()

	n1 := startedNode(t, cfg, ds)
	for i := 0; i < 5; i++ {
		require.NoError(t, n1.MineTipset(ctx, 1))
	}
	latest, err := n1.LatestTipset()
	require.NoError(t, err)
	require.EqualValues(t, 5, latest.Height)
	accts1, err := n1.Accounts()
	require.NoError(t, err)
	n1.Stop()

	n2 := startedNode(t, cfg, ds)
	latest, err = n2.LatestTipset()
	require.NoError(t, err)
	assert.EqualValues(t, 5, latest.Height)

	accts2, err := n2.Accounts()
	require.NoError(t, err)
	assert.Equal(t, accts1, accts2, "wallets reload from the store, not the seed")

	_, err = n2.Push(ctx, types.Message{
		From:       accts2[0],
		To:         accts2[1],
		Value:      big.NewInt(1),
		GasFeeCap:  big.Zero(),
		GasPremium: big.Zero(),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, n2.MineTipset(ctx, 1))

	latest, err = n2.LatestTipset()
	require.NoError(t, err)
	assert.EqualValues(t, 6, latest.Height)

	ts, err := n2.TipsetByHeight(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.EqualValues(t, 3, ts.Height)
}

// In instamine mode a push produces a tipset containing the message without
// an explicit mine call.
func TestInstamine(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.BlockTime = 0
	n := startedNode(t, cfg, dssync.MutexWrap(datastore.NewMapDatastore()))

	ch := make(chan core.TipsetEvent, 4)
	sub := n.SubscribeTipset(ch)
	defer sub.Unsubscribe()

	accts, err := n.Accounts()
	require.NoError(t, err)
	_, err = n.Push(ctx, types.Message{
		From:       accts[0],
		To:         accts[1],
		Value:      big.NewInt(7),
		GasFeeCap:  big.Zero(),
		GasPremium: big.Zero(),
	}, nil)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.EqualValues(t, 1, ev.Tipset.Height)
	case <-time.After(5 * time.Second):
		t.Fatal("instamine produced no tipset event")
	}

	bal, err := n.WalletBalance(ctx, accts[1])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_007), bal)
}

// A deal advances one state per mined tipset and is Active after exactly
// StagesUntilActive tipsets.
func TestDealAdvancesWithMining(t *testing.T) {
	ctx := context.Background()
	n := startedNode(t, testConfig(), dssync.MutexWrap(datastore.NewMapDatastore()))

	root, err := n.ObjectStore().Put(ctx, []byte("deal payload"))
	require.NoError(t, err)
	accts, err := n.Accounts()
	require.NoError(t, err)

	_, err = n.StartDeal(ctx, deals.StartDealParams{
		Data:              &deals.DataRef{Root: root},
		Wallet:            accts[0],
		Miner:             params.MinerAddress,
		EpochPrice:        big.NewInt(1),
		MinBlocksDuration: 5,
	})
	require.NoError(t, err)

	for i := 0; i < deals.StagesUntilActive; i++ {
		require.NoError(t, n.MineTipset(ctx, 1))
	}

	list, err := n.Deals()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, deals.StorageDealActive, list[0].State)

	has, err := n.HasLocal(ctx, root)
	require.NoError(t, err)
	assert.True(t, has)
}

// In instamine mode StartDeal returns only once the deal is Active.
func TestInstamineDeal(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.BlockTime = 0
	n := startedNode(t, cfg, dssync.MutexWrap(datastore.NewMapDatastore()))

	root, err := n.ObjectStore().Put(ctx, []byte("instamine deal"))
	require.NoError(t, err)
	accts, err := n.Accounts()
	require.NoError(t, err)

	_, err = n.StartDeal(ctx, deals.StartDealParams{
		Data:              &deals.DataRef{Root: root},
		Wallet:            accts[0],
		Miner:             params.MinerAddress,
		EpochPrice:        big.NewInt(1),
		MinBlocksDuration: 5,
	})
	require.NoError(t, err)

	list, err := n.Deals()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, deals.StorageDealActive, list[0].State)

	latest, err := n.LatestTipset()
	require.NoError(t, err)
	assert.EqualValues(t, deals.StagesUntilActive, latest.Height)
}
