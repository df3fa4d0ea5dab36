package msgpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"

	"github.com/PinkDiamond1/filsim/core"
	"github.com/PinkDiamond1/filsim/core/types"
	"github.com/PinkDiamond1/filsim/wallet"
)

// MessagePool is the FIFO queue of validated signed messages awaiting
// inclusion. Messages are applied in submission order, never reordered for
// priority, so the queue order is the inclusion order.
//
// The pool lock also guards the nonce projection: while it is held the
// committed ledger state plus the pending entries fully determine the next
// nonce for any sender, which lets one sender queue several messages before
// a tipset is sealed.
type MessagePool struct {
	lk      sync.Mutex
	pending []*types.SignedMessage

	ledger *core.AccountLedger
	keys   wallet.KeyLookup
}

func New(ledger *core.AccountLedger, keys wallet.KeyLookup) *MessagePool {
	return &MessagePool{
		ledger: ledger,
		keys:   keys,
	}
}

// Lock acquires the pool lock for callers that batch several operations.
func (mp *MessagePool) Lock() { mp.lk.Lock() }

// Unlock releases the pool lock.
func (mp *MessagePool) Unlock() { mp.lk.Unlock() }

// PushSigned validates the message, assigns its nonce from the projection,
// checks sender solvency across everything the sender already has queued,
// and appends it to the pool. With acquireLock=false the caller must already
// hold the pool lock.
func (mp *MessagePool) PushSigned(ctx context.Context, sm *types.SignedMessage, acquireLock bool) (cid.Cid, error) {
	if acquireLock {
		mp.lk.Lock()
		defer mp.lk.Unlock()
	}

	if err := core.CheckMessage(sm, mp.keys); err != nil {
		return cid.Undef, err
	}

	from := sm.Message.From
	acct, err := mp.ledger.GetAccount(ctx, from)
	if err != nil {
		return cid.Undef, err
	}

	// Project the next nonce: the larger of the committed account nonce and
	// one past the highest nonce the sender already has queued. The committed
	// nonce is already "next", so with an empty queue it is used as is.
	nonce := acct.Nonce
	required := sm.Message.RequiredFunds()
	for _, pending := range mp.pending {
		if pending.Message.From != from {
			continue
		}
		if pending.Message.Nonce+1 > nonce {
			nonce = pending.Message.Nonce + 1
		}
		required = big.Add(required, pending.Message.RequiredFunds())
	}
	if acct.Balance.LessThan(required) {
		return cid.Undef, fmt.Errorf("%w: %s needs %s attoFIL queued, has %s",
			core.ErrInsufficientFunds, from, required, acct.Balance)
	}

	sm.Message.Nonce = nonce
	c, err := sm.Cid()
	if err != nil {
		return cid.Undef, err
	}

	mp.pending = append(mp.pending, sm)
	pendingGauge.Inc(1)
	addedMeter.Mark(1)
	log.Trace("Message queued", "cid", c, "from", from, "nonce", nonce)
	return c, nil
}

// DrainAll snapshots the queue in FIFO order and empties the pool. The miner
// calls this under its own lock to take a sealing batch.
func (mp *MessagePool) DrainAll() []*types.SignedMessage {
	mp.lk.Lock()
	defer mp.lk.Unlock()

	batch := mp.pending
	mp.pending = nil
	pendingGauge.Update(0)
	return batch
}

// Pending returns a copy of the queue.
func (mp *MessagePool) Pending() []*types.SignedMessage {
	mp.lk.Lock()
	defer mp.lk.Unlock()

	out := make([]*types.SignedMessage, len(mp.pending))
	copy(out, mp.pending)
	return out
}

// PendingFor returns the queued messages from one sender, in queue order.
func (mp *MessagePool) PendingFor(addr address.Address) []*types.SignedMessage {
	mp.lk.Lock()
	defer mp.lk.Unlock()

	var out []*types.SignedMessage
	for _, sm := range mp.pending {
		if sm.Message.From == addr {
			out = append(out, sm)
		}
	}
	return out
}

// Len returns the number of queued messages.
func (mp *MessagePool) Len() int {
	mp.lk.Lock()
	defer mp.lk.Unlock()
	return len(mp.pending)
}
