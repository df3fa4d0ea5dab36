package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"

	"github.com/PinkDiamond1/filsim/core/types"
)

const blockCacheSize = 512

// BlockManager stores block headers keyed by CID, with an LRU read cache in
// front of the partition.
type BlockManager struct {
	partition

	cache *lru.Cache[cid.Cid, *types.BlockHeader]
}

func newBlockManager(ds datastore.Datastore) (*BlockManager, error) {
	cache, err := lru.New[cid.Cid, *types.BlockHeader](blockCacheSize)
	if err != nil {
		return nil, err
	}
	return &BlockManager{partition: partition{ds: ds}, cache: cache}, nil
}

// Get loads the header stored under c.
func (m *BlockManager) Get(ctx context.Context, c cid.Cid) (*types.BlockHeader, error) {
	if blk, ok := m.cache.Get(c); ok {
		return blk, nil
	}
	data, err := m.get(ctx, "/"+c.String())
	if err != nil {
		return nil, fmt.Errorf("load block %s: %w", c, err)
	}
	blk, err := types.DecodeBlockHeader(data)
	if err != nil {
		return nil, fmt.Errorf("decode block %s: %w", c, err)
	}
	m.cache.Add(c, blk)
	return blk, nil
}

// Put writes the header through under the given CID. The CID is supplied by
// the caller because the genesis header lives under a pinned CID.
func (m *BlockManager) Put(ctx context.Context, c cid.Cid, blk *types.BlockHeader) error {
	data, err := blk.Serialize()
	if err != nil {
		return err
	}
	if err := m.put(ctx, "/"+c.String(), data); err != nil {
		return err
	}
	m.cache.Add(c, blk)
	return nil
}

// Delete removes the header stored under c.
func (m *BlockManager) Delete(ctx context.Context, c cid.Cid) error {
	if err := m.delete(ctx, "/"+c.String()); err != nil {
		return err
	}
	m.cache.Remove(c)
	return nil
}

func (m *BlockManager) cacheAdd(c cid.Cid, blk *types.BlockHeader) {
	m.cache.Add(c, blk)
}
