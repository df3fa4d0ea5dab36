package node

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"

	"github.com/PinkDiamond1/filsim/core"
	"github.com/PinkDiamond1/filsim/core/msgpool"
	"github.com/PinkDiamond1/filsim/core/store"
	"github.com/PinkDiamond1/filsim/core/types"
	"github.com/PinkDiamond1/filsim/deals"
	"github.com/PinkDiamond1/filsim/miner"
	"github.com/PinkDiamond1/filsim/objstore"
	"github.com/PinkDiamond1/filsim/params"
	"github.com/PinkDiamond1/filsim/wallet"
)

const dealsNS = "/deals"

// Node is the blockchain facade: it owns the managers, pool, mining worker
// and deal engine, and exposes the engine operations the RPC layer calls.
//
// Construction is two-phase: New returns a not-ready node and Start wires
// the managers against the datastore, seeds wallets, ensures genesis and
// flips readiness. Operations invoked before readiness fail with
// core.ErrNotReady.
type Node struct {
	cfg params.Config
	ds  datastore.Batching

	chain  *store.Store
	ledger *core.AccountLedger
	pool   *msgpool.MessagePool
	worker *miner.Worker
	deals  *deals.Engine
	obj    objstore.Store
	objSrv *objstore.Server

	rng *rand.Rand // deterministic per cfg.Seed; seeding, then ticket material

	ready    atomic.Bool
	readyCh  chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns a node in the not-ready state.
func New(cfg params.Config, ds datastore.Batching) *Node {
	return &Node{
		cfg:     cfg,
		ds:      ds,
		obj:     objstore.NewMemStore(),
		readyCh: make(chan struct{}),
		stopCh:  make(chan struct{}),
	}
}

// Start wires the engine against the datastore and flips readiness. It is
// not safe to call twice.
func (n *Node) Start(ctx context.Context) error {
	chain, err := store.Open(ctx, n.ds)
	if err != nil {
		return fmt.Errorf("open chain store: %w", err)
	}
	n.chain = chain
	n.ledger = core.NewAccountLedger(chain.Accounts)
	n.pool = msgpool.New(n.ledger, chain.Keys.Get)
	n.rng = rand.New(rand.NewSource(n.cfg.Seed))

	if chain.Accounts.Empty() {
		if err := n.seedAccounts(ctx); err != nil {
			return fmt.Errorf("seed accounts: %w", err)
		}
	}

	n.worker = miner.New(n.pool, n.ledger, chain, n.rng)

	if chain.Tipsets.Latest() == nil {
		if err := n.ensureGenesis(ctx); err != nil {
			return fmt.Errorf("ensure genesis: %w", err)
		}
	}

	engine, err := deals.NewEngine(ctx, namespace.Wrap(n.ds, datastore.NewKey(dealsNS)), n.ledger, chain.Keys, n.obj)
	if err != nil {
		return fmt.Errorf("open deal engine: %w", err)
	}
	if n.instamine() {
		engine.SetMiner(func(ctx context.Context) error {
			return n.worker.MineTipset(ctx, 1)
		})
	}
	n.deals = engine
	n.worker.SetDealAdvancer(engine)

	if n.cfg.ObjectStoreAddr != "" {
		srv := objstore.NewServer(n.obj)
		if err := srv.Start(n.cfg.ObjectStoreAddr); err != nil {
			return fmt.Errorf("start object store server: %w", err)
		}
		n.objSrv = srv
	}

	if n.cfg.BlockTime > 0 {
		go n.miningLoop()
	}

	n.ready.Store(true)
	close(n.readyCh)
	log.Info("Filecoin simulator ready",
		"height", chain.Tipsets.Latest().Height,
		"accounts", len(chain.Keys.Addresses()),
		"blockTime", n.cfg.BlockTime)
	return nil
}

func (n *Node) instamine() bool {
	return n.cfg.BlockTime == 0
}

func (n *Node) seedAccounts(ctx context.Context) error {
	for i := 0; i < n.cfg.TotalAccounts; i++ {
		priv, addr, err := wallet.GenerateKey(n.rng)
		if err != nil {
			return err
		}
		if err := n.chain.Keys.Put(ctx, addr, priv); err != nil {
			return err
		}
		acct := &types.Account{Address: addr, Balance: n.cfg.DefaultBalance}
		if err := n.chain.Accounts.Put(ctx, acct); err != nil {
			return err
		}
		log.Debug("Seeded account", "address", addr, "balance", acct.Balance)
	}
	return nil
}

// ensureGenesis seals height 0. The genesis block is stored under the pinned
// genesis CID with PRNG ticket material, so restarts with the same seed load
// an identical chain root.
func (n *Node) ensureGenesis(ctx context.Context) error {
	vrf := make([]byte, 32)
	n.rng.Read(vrf)
	blk := &types.BlockHeader{
		Miner:        params.MinerAddress,
		Parents:      []cid.Cid{},
		Height:       0,
		ParentWeight: big.Zero(),
		Ticket:       types.Ticket{VRFProof: vrf},
		ElectionProof: types.ElectionProof{
			WinCount: 1,
			VRFProof: vrf,
		},
		Timestamp: uint64(time.Now().Unix()),
	}
	ts, err := types.NewTipset([]*types.BlockHeader{blk}, []cid.Cid{params.GenesisCid})
	if err != nil {
		return err
	}
	return n.chain.CommitTipset(ctx, ts, nil)
}

func (n *Node) miningLoop() {
	ticker := time.NewTicker(n.cfg.BlockTime)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := n.worker.MineTipset(context.Background(), 1); err != nil {
				log.Error("Timed mining failed", "err", err)
			}
		case <-n.stopCh:
			return
		}
	}
}

// WaitForReady blocks until the engine is ready or ctx is cancelled.
func (n *Node) WaitForReady(ctx context.Context) error {
	select {
	case <-n.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) gate() error {
	if !n.ready.Load() {
		return core.ErrNotReady
	}
	return nil
}

// Push signs an unsigned message with the sender's managed key and submits
// it. The returned message carries the pool-assigned nonce.
func (n *Node) Push(ctx context.Context, msg types.Message, spec *types.MessageSendSpec) (*types.SignedMessage, error) {
	if err := n.gate(); err != nil {
		return nil, err
	}
	if spec != nil && spec.MaxFee.Int != nil && msg.MinerFee().GreaterThan(spec.MaxFee) {
		return nil, fmt.Errorf("%w: fee %s exceeds max fee %s", core.ErrInsufficientFunds, msg.MinerFee(), spec.MaxFee)
	}

	priv, err := n.chain.Keys.Get(msg.From)
	if err != nil {
		return nil, err
	}
	sigType := crypto.SigTypeSecp256k1
	if msg.From.Protocol() == address.BLS {
		sigType = crypto.SigTypeBLS
	}
	c, err := msg.Cid()
	if err != nil {
		return nil, err
	}
	sig, err := wallet.Sign(priv, sigType, c.Bytes())
	if err != nil {
		return nil, err
	}

	sm := &types.SignedMessage{Message: msg, Signature: *sig}
	if _, err := n.PushSigned(ctx, sm); err != nil {
		return nil, err
	}
	return sm, nil
}

// PushSigned validates and enqueues a signed message, returning its CID. In
// instamine mode the miner is triggered asynchronously after the pool lock
// is released; the mining lock serialises the cascade.
func (n *Node) PushSigned(ctx context.Context, sm *types.SignedMessage) (cid.Cid, error) {
	if err := n.gate(); err != nil {
		return cid.Undef, err
	}
	c, err := n.pool.PushSigned(ctx, sm, true)
	if err != nil {
		return cid.Undef, err
	}
	if n.instamine() {
		go func() {
			if err := n.worker.MineTipset(context.Background(), 1); err != nil {
				log.Error("Instamine failed", "err", err)
			}
		}()
	}
	return c, nil
}

// MineTipset seals one tipset of the given number of sibling blocks.
func (n *Node) MineTipset(ctx context.Context, blocks int) error {
	if err := n.gate(); err != nil {
		return err
	}
	return n.worker.MineTipset(ctx, blocks)
}

// StartDeal begins a storage deal against the in-process miner.
func (n *Node) StartDeal(ctx context.Context, p deals.StartDealParams) (cid.Cid, error) {
	if err := n.gate(); err != nil {
		return cid.Undef, err
	}
	return n.deals.StartDeal(ctx, p)
}

// CreateQueryOffer prices retrieval of a locally stored object.
func (n *Node) CreateQueryOffer(ctx context.Context, root cid.Cid) (*deals.QueryOffer, error) {
	if err := n.gate(); err != nil {
		return nil, err
	}
	return n.deals.CreateQueryOffer(ctx, root)
}

// Retrieve exports a locally stored object to a file and settles payment.
func (n *Node) Retrieve(ctx context.Context, order deals.RetrievalOrder, ref deals.FileRef) error {
	if err := n.gate(); err != nil {
		return err
	}
	return n.deals.Retrieve(ctx, order, ref)
}

// HasLocal reports whether the object store holds root.
func (n *Node) HasLocal(ctx context.Context, root cid.Cid) (bool, error) {
	if err := n.gate(); err != nil {
		return false, err
	}
	return n.deals.HasLocal(ctx, root)
}

// LatestTipset returns the current chain tip.
func (n *Node) LatestTipset() (*types.Tipset, error) {
	if err := n.gate(); err != nil {
		return nil, err
	}
	return n.chain.Tipsets.Latest(), nil
}

// GenesisTipset returns the height-0 tipset.
func (n *Node) GenesisTipset() (*types.Tipset, error) {
	if err := n.gate(); err != nil {
		return nil, err
	}
	return n.chain.Tipsets.Genesis(), nil
}

// TipsetByHeight returns the tipset at the given height, or nil when the
// chain has not reached it.
func (n *Node) TipsetByHeight(ctx context.Context, height abi.ChainEpoch) (*types.Tipset, error) {
	if err := n.gate(); err != nil {
		return nil, err
	}
	return n.chain.Tipsets.TipsetAtHeight(ctx, height)
}

// Accounts lists the seeded wallet addresses in stable order.
func (n *Node) Accounts() ([]address.Address, error) {
	if err := n.gate(); err != nil {
		return nil, err
	}
	addrs := n.chain.Keys.Addresses()
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })
	return addrs, nil
}

// WalletBalance returns the current balance of addr.
func (n *Node) WalletBalance(ctx context.Context, addr address.Address) (big.Int, error) {
	if err := n.gate(); err != nil {
		return big.Zero(), err
	}
	acct, err := n.ledger.GetAccount(ctx, addr)
	if err != nil {
		return big.Zero(), err
	}
	return acct.Balance, nil
}

// Deals returns a snapshot of all deals.
func (n *Node) Deals() ([]*deals.DealInfo, error) {
	if err := n.gate(); err != nil {
		return nil, err
	}
	return n.deals.List(), nil
}

// ObjectStore exposes the content-addressed store backing deals, so callers
// can stage payloads without going through the HTTP facade.
func (n *Node) ObjectStore() objstore.Store {
	return n.obj
}

// SubscribeTipset delivers a TipsetEvent after every mining commit.
func (n *Node) SubscribeTipset(ch chan<- core.TipsetEvent) event.Subscription {
	return n.worker.SubscribeTipset(ch)
}

// Stop shuts the engine down: the mining and pool locks are seized and never
// released, so in-flight operations drain and later ones block. Collaborator
// shutdown failures are swallowed; Stop never fails.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		if n.worker != nil {
			n.worker.Seize()
		}
		if n.pool != nil {
			n.pool.Lock()
		}
		if n.objSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := n.objSrv.Stop(ctx); err != nil {
				log.Debug("Object store shutdown", "err", err)
			}
			cancel()
		}
		if err := n.ds.Close(); err != nil {
			log.Debug("Datastore close", "err", err)
		}
		log.Info("Filecoin simulator stopped")
	})
}
