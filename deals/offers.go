package deals

import (
	"context"
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"

	"github.com/PinkDiamond1/filsim/core"
)

// QueryOffer is the simulator's answer to a retrieval query against its own
// store.
type QueryOffer struct {
	Root                    cid.Cid
	Size                    uint64
	MinPrice                big.Int
	UnsealPrice             big.Int
	PaymentInterval         uint64
	PaymentIntervalIncrease uint64
	Miner                   address.Address
}

// CreateQueryOffer prices retrieval of a locally held object at two attoFIL
// per byte.
func (e *Engine) CreateQueryOffer(ctx context.Context, root cid.Cid) (*QueryOffer, error) {
	statCtx, cancel := context.WithTimeout(ctx, statTimeout)
	defer cancel()
	stat, err := e.obj.Stat(statCtx, root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrObjectNotFound, root)
	}
	return &QueryOffer{
		Root:            root,
		Size:            stat.Size,
		MinPrice:        big.Mul(big.NewIntUnsigned(stat.Size), big.NewInt(2)),
		UnsealPrice:     big.Zero(),
		PaymentInterval: stat.Size,
		Miner:           e.miner,
	}, nil
}

// HasLocal reports whether the object store holds the given root.
func (e *Engine) HasLocal(ctx context.Context, root cid.Cid) (bool, error) {
	statCtx, cancel := context.WithTimeout(ctx, statTimeout)
	defer cancel()
	return e.obj.Has(statCtx, root)
}
