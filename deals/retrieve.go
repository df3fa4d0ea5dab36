package deals

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"

	"github.com/PinkDiamond1/filsim/core"
)

// RetrievalOrder asks the engine to export a locally stored object and pay
// the miner for it.
type RetrievalOrder struct {
	Root   cid.Cid
	Size   uint64
	Total  big.Int
	Client address.Address
	Miner  address.Address
}

// FileRef names the destination file of a retrieval.
type FileRef struct {
	Path string
}

// Retrieve verifies the object exists locally, streams it to a partial file
// that is renamed into place on success, then settles the retrieval payment
// from the client to the miner.
func (e *Engine) Retrieve(ctx context.Context, order RetrievalOrder, ref FileRef) error {
	statCtx, cancel := context.WithTimeout(ctx, statTimeout)
	defer cancel()
	if _, err := e.obj.Stat(statCtx, order.Root); err != nil {
		return fmt.Errorf("%w: %s", core.ErrObjectNotFound, order.Root)
	}

	rd, err := e.obj.Read(ctx, order.Root)
	if err != nil {
		return fmt.Errorf("%w: %s", core.ErrObjectNotFound, order.Root)
	}
	defer rd.Close()

	partial := ref.Path + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("create %s: %w", partial, err)
	}
	if _, err := io.Copy(f, rd); err != nil {
		f.Close()
		os.Remove(partial)
		return fmt.Errorf("write %s: %w", partial, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partial)
		return fmt.Errorf("close %s: %w", partial, err)
	}
	if err := os.Rename(partial, ref.Path); err != nil {
		os.Remove(partial)
		return fmt.Errorf("finalize %s: %w", ref.Path, err)
	}

	miner := order.Miner
	if miner == address.Undef {
		miner = e.miner
	}
	ok, err := e.ledger.TransferFunds(ctx, order.Client, miner, order.Total)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: retrieval payment of %s attoFIL from %s",
			core.ErrInsufficientFunds, order.Total, order.Client)
	}

	log.Info("Object retrieved", "root", order.Root, "path", ref.Path, "paid", order.Total)
	return nil
}
