package deals

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"

	"github.com/PinkDiamond1/filsim/core"
	"github.com/PinkDiamond1/filsim/core/store"
	"github.com/PinkDiamond1/filsim/core/types"
	"github.com/PinkDiamond1/filsim/objstore"
	"github.com/PinkDiamond1/filsim/params"
	"github.com/PinkDiamond1/filsim/wallet"
)

// statTimeout bounds object-store lookups; a store that does not answer in
// time is treated as not having the object.
const statTimeout = 500 * time.Millisecond

// DealInfo tracks one simulated storage deal for the lifetime of the node.
type DealInfo struct {
	DealID        abi.DealID
	ProposalCid   cid.Cid
	State         StorageDealStatus
	Message       string
	Provider      address.Address
	Client        address.Address
	PieceCid      cid.Cid
	Size          uint64
	PricePerEpoch big.Int
	Duration      uint64
}

// DataRef points at the payload to be stored.
type DataRef struct {
	Root cid.Cid
}

// StartDealParams is a storage-deal proposal from a client wallet against
// the in-process miner.
type StartDealParams struct {
	Data              *DataRef
	Wallet            address.Address
	Miner             address.Address
	EpochPrice        big.Int
	MinBlocksDuration uint64
}

// Engine runs the storage-deal state machine. Deals advance one stage per
// mined tipset, driven by the mining worker, and persist write-through so
// deal IDs stay monotonic across restarts.
type Engine struct {
	mu sync.Mutex

	ds     datastore.Datastore
	ledger *core.AccountLedger
	keys   *store.KeyManager
	obj    objstore.Store
	miner  address.Address

	deals     []*DealInfo
	inProcess map[abi.DealID]*DealInfo
	byCid     map[cid.Cid]*DealInfo

	// mine synchronously seals one tipset; set only in instamine mode.
	mine func(ctx context.Context) error
}

// NewEngine loads persisted deals from the deals partition. Deals that had
// not reached Active when the node went down resume advancing.
func NewEngine(ctx context.Context, ds datastore.Datastore, ledger *core.AccountLedger, keys *store.KeyManager, obj objstore.Store) (*Engine, error) {
	e := &Engine{
		ds:        ds,
		ledger:    ledger,
		keys:      keys,
		obj:       obj,
		miner:     params.MinerAddress,
		inProcess: make(map[abi.DealID]*DealInfo),
		byCid:     make(map[cid.Cid]*DealInfo),
	}

	res, err := ds.Query(ctx, query.Query{})
	if err != nil {
		return nil, err
	}
	defer res.Close()
	for r := range res.Next() {
		if r.Error != nil {
			return nil, r.Error
		}
		deal, err := decodeDeal(r.Value)
		if err != nil {
			return nil, fmt.Errorf("decode deal %s: %w", r.Key, err)
		}
		e.register(deal)
	}
	sort.Slice(e.deals, func(i, j int) bool { return e.deals[i].DealID < e.deals[j].DealID })
	return e, nil
}

// SetMiner wires the instamine hook; pass nil for timed mining.
func (e *Engine) SetMiner(mine func(ctx context.Context) error) {
	e.mine = mine
}

func (e *Engine) register(deal *DealInfo) {
	e.deals = append(e.deals, deal)
	e.byCid[deal.ProposalCid] = deal
	if deal.State != StorageDealActive {
		e.inProcess[deal.DealID] = deal
	}
}

// StartDeal validates and registers a new deal, settles the client's payment
// up front, and in instamine mode drives mining until the deal is Active.
func (e *Engine) StartDeal(ctx context.Context, p StartDealParams) (cid.Cid, error) {
	if p.Wallet == address.Undef {
		return cid.Undef, core.ErrMissingWallet
	}
	priv, err := e.keys.Get(p.Wallet)
	if err != nil {
		return cid.Undef, err
	}
	if p.Data == nil || !p.Data.Root.Defined() {
		return cid.Undef, fmt.Errorf("%w: proposal has no data root", core.ErrObjectNotFound)
	}

	statCtx, cancel := context.WithTimeout(ctx, statTimeout)
	defer cancel()
	stat, err := e.obj.Stat(statCtx, p.Data.Root)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %s", core.ErrObjectNotFound, p.Data.Root)
	}

	sigType := crypto.SigTypeSecp256k1
	if p.Wallet.Protocol() == address.BLS {
		sigType = crypto.SigTypeBLS
	}
	sig, err := wallet.Sign(priv, sigType, p.Data.Root.Bytes())
	if err != nil {
		return cid.Undef, err
	}

	// The proposal CID is the CBOR-CID of the hex-encoded signature. This is
	// a simulator shortcut kept for compatibility with existing test
	// vectors; it is not a conformant deal-proposal CID.
	proposalCid, err := types.CidOf(hex.EncodeToString(sig.Data))
	if err != nil {
		return cid.Undef, err
	}

	total := big.Mul(p.EpochPrice, big.NewInt(int64(p.MinBlocksDuration)))
	ok, err := e.ledger.TransferFunds(ctx, p.Wallet, e.miner, total)
	if err != nil {
		return cid.Undef, err
	}
	if !ok {
		return cid.Undef, fmt.Errorf("%w: deal payment of %s attoFIL from %s",
			core.ErrInsufficientFunds, total, p.Wallet)
	}

	e.mu.Lock()
	deal := &DealInfo{
		DealID:        abi.DealID(len(e.deals) + 1),
		ProposalCid:   proposalCid,
		State:         StorageDealValidating,
		Provider:      e.miner,
		Client:        p.Wallet,
		PieceCid:      p.Data.Root,
		Size:          stat.Size,
		PricePerEpoch: p.EpochPrice,
		Duration:      p.MinBlocksDuration,
	}
	e.register(deal)
	if err := e.persist(ctx, deal); err != nil {
		e.mu.Unlock()
		return cid.Undef, err
	}
	e.mu.Unlock()

	log.Info("Storage deal started", "dealId", deal.DealID, "proposal", proposalCid, "client", p.Wallet, "size", stat.Size)

	if e.mine != nil {
		for {
			state, err := e.DealState(proposalCid)
			if err != nil {
				return cid.Undef, err
			}
			if state == StorageDealActive {
				break
			}
			if err := e.mine(ctx); err != nil {
				return cid.Undef, err
			}
		}
	}
	return proposalCid, nil
}

// Advance moves every in-process deal one stage forward. Called by the
// mining worker after each commit, under the mining lock. Deals reaching
// Active leave the in-process set.
func (e *Engine) Advance(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, deal := range e.inProcess {
		deal.State = nextDealStatus(deal.State)
		if err := e.persist(ctx, deal); err != nil {
			return err
		}
		log.Debug("Deal advanced", "dealId", id, "state", deal.State)
		if deal.State == StorageDealActive {
			delete(e.inProcess, id)
		}
	}
	return nil
}

// DealState reports the state of the deal registered under proposalCid.
func (e *Engine) DealState(proposalCid cid.Cid) (StorageDealStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	deal, ok := e.byCid[proposalCid]
	if !ok {
		return StorageDealUnknown, fmt.Errorf("no deal with proposal %s", proposalCid)
	}
	return deal.State, nil
}

// List returns a snapshot of all deals in ID order.
func (e *Engine) List() []*DealInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*DealInfo, len(e.deals))
	for i, d := range e.deals {
		cpy := *d
		out[i] = &cpy
	}
	return out
}

// InProcessCount reports how many deals are still advancing.
func (e *Engine) InProcessCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inProcess)
}

type dealWire struct {
	DealID        uint64 `cbor:"1,keyasint"`
	ProposalCid   []byte `cbor:"2,keyasint"`
	State         uint64 `cbor:"3,keyasint"`
	Message       string `cbor:"4,keyasint"`
	Provider      string `cbor:"5,keyasint"`
	Client        string `cbor:"6,keyasint"`
	PieceCid      []byte `cbor:"7,keyasint"`
	Size          uint64 `cbor:"8,keyasint"`
	PricePerEpoch []byte `cbor:"9,keyasint"`
	Duration      uint64 `cbor:"10,keyasint"`
}

func (e *Engine) persist(ctx context.Context, deal *DealInfo) error {
	w := dealWire{
		DealID:        uint64(deal.DealID),
		ProposalCid:   deal.ProposalCid.Bytes(),
		State:         uint64(deal.State),
		Message:       deal.Message,
		Provider:      deal.Provider.String(),
		Client:        deal.Client.String(),
		PieceCid:      deal.PieceCid.Bytes(),
		Size:          deal.Size,
		PricePerEpoch: deal.PricePerEpoch.Int.Bytes(),
		Duration:      deal.Duration,
	}
	data, err := types.CborEncode(&w)
	if err != nil {
		return err
	}
	return e.ds.Put(ctx, datastore.NewKey(fmt.Sprintf("/%d", deal.DealID)), data)
}

func decodeDeal(data []byte) (*DealInfo, error) {
	var w dealWire
	if err := types.CborDecode(data, &w); err != nil {
		return nil, err
	}
	proposal, err := cid.Cast(w.ProposalCid)
	if err != nil {
		return nil, err
	}
	piece, err := cid.Cast(w.PieceCid)
	if err != nil {
		return nil, err
	}
	provider, err := address.NewFromString(w.Provider)
	if err != nil {
		return nil, err
	}
	client, err := address.NewFromString(w.Client)
	if err != nil {
		return nil, err
	}
	return &DealInfo{
		DealID:        abi.DealID(w.DealID),
		ProposalCid:   proposal,
		State:         StorageDealStatus(w.State),
		Message:       w.Message,
		Provider:      provider,
		Client:        client,
		PieceCid:      piece,
		Size:          w.Size,
		PricePerEpoch: big.PositiveFromUnsignedBytes(w.PricePerEpoch),
		Duration:      w.Duration,
	}, nil
}
