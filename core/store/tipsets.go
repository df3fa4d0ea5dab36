package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-datastore"

	"github.com/PinkDiamond1/filsim/core/types"
)

// TipsetManager tracks the earliest (genesis) and latest tipsets and reads
// tipset records by height, joining headers through the block manager. The
// durable tip itself is written by Store.CommitTipset as part of the mining
// batch.
type TipsetManager struct {
	partition

	root   datastore.Datastore
	blocks *BlockManager

	mu       sync.RWMutex
	earliest *types.Tipset
	latest   *types.Tipset
}

func newTipsetManager(ctx context.Context, root datastore.Datastore, ds datastore.Datastore, blocks *BlockManager) (*TipsetManager, error) {
	m := &TipsetManager{
		partition: partition{ds: ds},
		root:      root,
		blocks:    blocks,
	}

	data, err := root.Get(ctx, latestTipsetKey)
	if err == datastore.ErrNotFound {
		return m, nil // fresh store, genesis not yet ensured
	}
	if err != nil {
		return nil, err
	}
	if len(data) != 8 {
		return nil, fmt.Errorf("malformed latest-tipset record (%d bytes)", len(data))
	}

	height := abi.ChainEpoch(binary.BigEndian.Uint64(data))
	latest, err := m.TipsetAtHeight(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("load tip at height %d: %w", height, err)
	}
	if latest == nil {
		return nil, fmt.Errorf("latest-tipset points at missing height %d", height)
	}
	earliest, err := m.TipsetAtHeight(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}
	m.latest, m.earliest = latest, earliest
	return m, nil
}

// TipsetAtHeight loads the tipset committed at the given height, or nil when
// no tipset exists there.
func (m *TipsetManager) TipsetAtHeight(ctx context.Context, height abi.ChainEpoch) (*types.Tipset, error) {
	data, err := m.get(ctx, fmt.Sprintf("/%d", height))
	if err == datastore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_, cids, err := types.DecodeTipsetCids(data)
	if err != nil {
		return nil, fmt.Errorf("decode tipset at %d: %w", height, err)
	}
	blocks := make([]*types.BlockHeader, len(cids))
	for i, c := range cids {
		blk, err := m.blocks.Get(ctx, c)
		if err != nil {
			return nil, err
		}
		blocks[i] = blk
	}
	return types.NewTipset(blocks, cids)
}

// Latest returns the current chain tip.
func (m *TipsetManager) Latest() *types.Tipset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Genesis returns the earliest tipset.
func (m *TipsetManager) Genesis() *types.Tipset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.earliest
}

func (m *TipsetManager) setLatest(ts *types.Tipset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = ts
	if m.earliest == nil {
		m.earliest = ts
	}
}
