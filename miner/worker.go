package miner

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"

	"github.com/PinkDiamond1/filsim/core"
	"github.com/PinkDiamond1/filsim/core/msgpool"
	"github.com/PinkDiamond1/filsim/core/store"
	"github.com/PinkDiamond1/filsim/core/types"
	"github.com/PinkDiamond1/filsim/params"
)

// DealAdvancer is the hook the worker drives after each commit to move
// in-process storage deals one state forward.
type DealAdvancer interface {
	Advance(ctx context.Context) error
}

// Worker seals tipsets. One mining pass drains the pool, applies the batch
// to the ledger, commits the new tip durably and emits a tipset event. The
// mining lock serialises passes from the timer, instamine cascades and
// explicit MineTipset calls.
//
// Lock order is mining lock before pool lock; the pool lock is only taken
// briefly inside a pass, by DrainAll.
type Worker struct {
	mu sync.Mutex

	miner  address.Address
	pool   *msgpool.MessagePool
	ledger *core.AccountLedger
	chain  *store.Store
	deals  DealAdvancer

	rng  *rand.Rand // ticket material; guarded by the mining lock
	feed event.Feed
}

func New(pool *msgpool.MessagePool, ledger *core.AccountLedger, chain *store.Store, rng *rand.Rand) *Worker {
	return &Worker{
		miner:  params.MinerAddress,
		pool:   pool,
		ledger: ledger,
		chain:  chain,
		rng:    rng,
	}
}

// SetDealAdvancer wires the deal engine. Done post-construction because the
// deal engine needs the worker for instamine.
func (w *Worker) SetDealAdvancer(d DealAdvancer) {
	w.deals = d
}

// SubscribeTipset delivers a TipsetEvent after every successful commit.
func (w *Worker) SubscribeTipset(ch chan<- core.TipsetEvent) event.Subscription {
	return w.feed.Subscribe(ch)
}

// Seize acquires the mining lock without release. Used by engine shutdown to
// let an in-flight pass finish and then block all future mining.
func (w *Worker) Seize() {
	w.mu.Lock()
}

// MineTipset seals one tipset of n sibling blocks on top of the current tip.
// An empty pool still seals a heartbeat tipset. Per-message transfer
// failures are absorbed: the message is skipped with a warning and the rest
// of the batch continues. Failures in persistence or deal advancement are
// returned with the ledger left partially applied.
func (w *Worker) MineTipset(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	defer func(start time.Time) { sealTimer.Update(time.Since(start)) }(time.Now())

	batch := w.pool.DrainAll()

	latest := w.chain.Tipsets.Latest()
	parent := latest.Blocks[0]
	newHeight := latest.Height + 1
	parentWeight := big.Add(parent.ParentWeight, big.NewInt(parent.ElectionProof.WinCount))
	parents := []cid.Cid{latest.Cids[0]}

	blocks := make([]*types.BlockHeader, n)
	cids := make([]cid.Cid, n)
	for i := range blocks {
		blk := &types.BlockHeader{
			Miner:        w.miner,
			Parents:      parents,
			Height:       newHeight,
			ParentWeight: parentWeight,
			Ticket:       types.Ticket{VRFProof: w.randBytes(32)},
			ElectionProof: types.ElectionProof{
				WinCount: 1,
				VRFProof: w.randBytes(32),
			},
			Timestamp: uint64(time.Now().Unix()),
		}
		c, err := blk.Cid()
		if err != nil {
			return fmt.Errorf("derive block cid: %w", err)
		}
		blocks[i], cids[i] = blk, c
	}

	successful := make([]*types.SignedMessage, 0, len(batch))
	for _, sm := range batch {
		if w.applyMessage(ctx, sm) {
			successful = append(successful, sm)
		}
	}

	ts, err := types.NewTipset(blocks, cids)
	if err != nil {
		return err
	}
	if err := w.chain.CommitTipset(ctx, ts, successful); err != nil {
		return err
	}

	if w.deals != nil {
		if err := w.deals.Advance(ctx); err != nil {
			return fmt.Errorf("advance deals at height %d: %w", newHeight, err)
		}
	}

	heightGauge.Update(int64(newHeight))
	messagesMeter.Mark(int64(len(successful)))
	w.feed.Send(core.TipsetEvent{Tipset: ts})
	log.Info("Sealed tipset", "height", newHeight, "blocks", n, "messages", len(successful), "dropped", len(batch)-len(successful))
	return nil
}

// applyMessage runs the three transfers of a value-send and bumps the sender
// nonce. Insufficient funds at any step skips the message without reversing
// the earlier steps; admission checks should have prevented reaching here
// with a stale projection.
func (w *Worker) applyMessage(ctx context.Context, sm *types.SignedMessage) bool {
	m := &sm.Message

	ok, err := w.ledger.TransferFunds(ctx, m.From, params.BurntFundsAddress, m.BurnFee())
	if err != nil {
		w.warnApply(sm, "base fee burn", err)
		return false
	}
	if !ok {
		w.warnApply(sm, "base fee burn", nil)
		return false
	}

	ok, err = w.ledger.TransferFunds(ctx, m.From, w.miner, m.MinerFee())
	if err != nil || !ok {
		w.warnApply(sm, "miner fee", err)
		return false
	}

	ok, err = w.ledger.TransferFunds(ctx, m.From, m.To, m.Value)
	if err != nil || !ok {
		w.warnApply(sm, "value transfer", err)
		return false
	}

	if err := w.ledger.IncrementNonce(ctx, m.From); err != nil {
		w.warnApply(sm, "nonce increment", err)
		return false
	}
	return true
}

func (w *Worker) warnApply(sm *types.SignedMessage, step string, err error) {
	skippedMeter.Mark(1)
	c, _ := sm.Cid()
	log.Warn("Skipping message in sealing batch", "step", step, "cid", c,
		"from", sm.Message.From, "nonce", sm.Message.Nonce, "err", err)
}

func (w *Worker) randBytes(n int) []byte {
	buf := make([]byte, n)
	w.rng.Read(buf)
	return buf
}
