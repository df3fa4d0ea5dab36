package store

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"

	"github.com/PinkDiamond1/filsim/core/types"
)

// Datastore namespaces. Every manager writes through to one partition;
// accounts and keys are cached in full, block headers in an LRU, tipsets
// only as the earliest and latest, and messages not at all.
const (
	blocksNS         = "/blocks"
	tipsetsNS        = "/tipsets"
	accountsNS       = "/accounts"
	privateKeysNS    = "/privateKeys"
	signedMessagesNS = "/signedMessages"
	blockMessagesNS  = "/blockMessages"
)

// latestTipsetKey is the top-level durable chain tip: the big-endian height
// of the most recently committed tipset.
var latestTipsetKey = datastore.NewKey("/latest-tipset")

// partition wraps one namespaced slice of the key/value store.
type partition struct {
	ds datastore.Datastore
}

func (p partition) get(ctx context.Context, key string) ([]byte, error) {
	return p.ds.Get(ctx, datastore.NewKey(key))
}

func (p partition) put(ctx context.Context, key string, value []byte) error {
	return p.ds.Put(ctx, datastore.NewKey(key), value)
}

func (p partition) delete(ctx context.Context, key string) error {
	return p.ds.Delete(ctx, datastore.NewKey(key))
}

// Store composes the ledger managers over one backing datastore. The root
// handle is kept so a mining commit can write across partitions in a single
// batch.
type Store struct {
	ds datastore.Batching

	Accounts *AccountManager
	Keys     *KeyManager
	Blocks   *BlockManager
	Messages *MessageManager
	Tipsets  *TipsetManager
}

// Open wires the managers and warms their caches from the backing store.
func Open(ctx context.Context, ds datastore.Batching) (*Store, error) {
	s := &Store{ds: ds}

	var err error
	if s.Accounts, err = newAccountManager(ctx, namespace.Wrap(ds, datastore.NewKey(accountsNS))); err != nil {
		return nil, fmt.Errorf("accounts manager: %w", err)
	}
	if s.Keys, err = newKeyManager(ctx, namespace.Wrap(ds, datastore.NewKey(privateKeysNS))); err != nil {
		return nil, fmt.Errorf("key manager: %w", err)
	}
	if s.Blocks, err = newBlockManager(namespace.Wrap(ds, datastore.NewKey(blocksNS))); err != nil {
		return nil, fmt.Errorf("block manager: %w", err)
	}
	s.Messages = newMessageManager(
		namespace.Wrap(ds, datastore.NewKey(signedMessagesNS)),
		namespace.Wrap(ds, datastore.NewKey(blockMessagesNS)),
	)
	if s.Tipsets, err = newTipsetManager(ctx, ds, namespace.Wrap(ds, datastore.NewKey(tipsetsNS)), s.Blocks); err != nil {
		return nil, fmt.Errorf("tipset manager: %w", err)
	}
	return s, nil
}

// CommitTipset persists a freshly sealed tipset: its headers, the included
// signed messages, the block-messages index for blocks[0], the tipset record
// and the latest-tipset key, all in one write batch so the durable tip never
// references half-written blocks. Caches are updated only after the batch
// commits.
func (s *Store) CommitTipset(ctx context.Context, ts *types.Tipset, msgs []*types.SignedMessage) error {
	batch, err := s.ds.Batch(ctx)
	if err != nil {
		return fmt.Errorf("open batch: %w", err)
	}

	for i, blk := range ts.Blocks {
		data, err := blk.Serialize()
		if err != nil {
			return fmt.Errorf("serialize block: %w", err)
		}
		if err := batch.Put(ctx, datastore.NewKey(blocksNS+"/"+ts.Cids[i].String()), data); err != nil {
			return err
		}
	}

	msgCids := make([][]byte, len(msgs))
	for i, sm := range msgs {
		c, err := sm.Cid()
		if err != nil {
			return fmt.Errorf("message cid: %w", err)
		}
		data, err := sm.Serialize()
		if err != nil {
			return fmt.Errorf("serialize message: %w", err)
		}
		if err := batch.Put(ctx, datastore.NewKey(signedMessagesNS+"/"+c.String()), data); err != nil {
			return err
		}
		msgCids[i] = c.Bytes()
	}

	// All included messages are attributed to the first block of the tipset.
	idx, err := types.CborEncode(msgCids)
	if err != nil {
		return fmt.Errorf("serialize block messages: %w", err)
	}
	if err := batch.Put(ctx, datastore.NewKey(blockMessagesNS+"/"+ts.Cids[0].String()), idx); err != nil {
		return err
	}

	tsData, err := ts.Serialize()
	if err != nil {
		return fmt.Errorf("serialize tipset: %w", err)
	}
	if err := batch.Put(ctx, datastore.NewKey(fmt.Sprintf("%s/%d", tipsetsNS, ts.Height)), tsData); err != nil {
		return err
	}

	height := make([]byte, 8)
	binary.BigEndian.PutUint64(height, uint64(ts.Height))
	if err := batch.Put(ctx, latestTipsetKey, height); err != nil {
		return err
	}

	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("commit tipset batch: %w", err)
	}

	for i, blk := range ts.Blocks {
		s.Blocks.cacheAdd(ts.Cids[i], blk)
	}
	s.Tipsets.setLatest(ts)
	return nil
}
