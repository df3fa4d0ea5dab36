package store

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"

	"github.com/PinkDiamond1/filsim/core/types"
)

// MessageManager stores signed messages by CID and the per-block inclusion
// index mapping a block CID to its ordered message CIDs.
type MessageManager struct {
	msgs  partition
	index partition
}

func newMessageManager(msgs, index datastore.Datastore) *MessageManager {
	return &MessageManager{
		msgs:  partition{ds: msgs},
		index: partition{ds: index},
	}
}

// GetSigned loads one signed message by CID.
func (m *MessageManager) GetSigned(ctx context.Context, c cid.Cid) (*types.SignedMessage, error) {
	data, err := m.msgs.get(ctx, "/"+c.String())
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", c, err)
	}
	return types.DecodeSignedMessage(data)
}

// PutSigned writes one signed message through to the store.
func (m *MessageManager) PutSigned(ctx context.Context, sm *types.SignedMessage) (cid.Cid, error) {
	c, err := sm.Cid()
	if err != nil {
		return cid.Undef, err
	}
	data, err := sm.Serialize()
	if err != nil {
		return cid.Undef, err
	}
	if err := m.msgs.put(ctx, "/"+c.String(), data); err != nil {
		return cid.Undef, err
	}
	return c, nil
}

// BlockMessages loads the messages included in the given block, in inclusion
// order, joining the index against the signed-message partition.
func (m *MessageManager) BlockMessages(ctx context.Context, blockCid cid.Cid) ([]*types.SignedMessage, error) {
	data, err := m.index.get(ctx, "/"+blockCid.String())
	if err == datastore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load block messages %s: %w", blockCid, err)
	}
	var raw [][]byte
	if err := types.CborDecode(data, &raw); err != nil {
		return nil, fmt.Errorf("decode block messages %s: %w", blockCid, err)
	}
	out := make([]*types.SignedMessage, 0, len(raw))
	for _, b := range raw {
		c, err := cid.Cast(b)
		if err != nil {
			return nil, fmt.Errorf("message cid in index: %w", err)
		}
		sm, err := m.GetSigned(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, nil
}
