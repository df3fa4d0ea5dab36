package types

import (
	"errors"
	"fmt"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
)

var (
	errEmptyTipset  = errors.New("tipset must contain at least one block")
	errTipsetHeight = errors.New("tipset blocks disagree on height")
	errTipsetParent = errors.New("tipset blocks disagree on parents")
)

// Tipset is a non-empty ordered set of blocks sharing the same height and
// parent set. Block CIDs are carried explicitly because the genesis block is
// stored under a pinned CID rather than a content-derived one.
type Tipset struct {
	Blocks []*BlockHeader
	Height abi.ChainEpoch
	Cids   []cid.Cid
}

// NewTipset assembles a tipset from sibling headers and their CIDs, checking
// the height and parent-set invariants.
func NewTipset(blocks []*BlockHeader, cids []cid.Cid) (*Tipset, error) {
	if len(blocks) == 0 {
		return nil, errEmptyTipset
	}
	if len(cids) != len(blocks) {
		return nil, fmt.Errorf("have %d blocks but %d cids", len(blocks), len(cids))
	}
	first := blocks[0]
	for _, b := range blocks[1:] {
		if b.Height != first.Height {
			return nil, errTipsetHeight
		}
		if !sameParents(b.Parents, first.Parents) {
			return nil, errTipsetParent
		}
	}
	return &Tipset{
		Blocks: blocks,
		Height: first.Height,
		Cids:   cids,
	}, nil
}

func sameParents(a, b []cid.Cid) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

type tipsetWire struct {
	Height int64    `cbor:"1,keyasint"`
	Cids   [][]byte `cbor:"2,keyasint"`
}

// Serialize encodes the tipset as its height and block CIDs; headers are
// persisted separately and re-joined on read.
func (ts *Tipset) Serialize() ([]byte, error) {
	w := tipsetWire{Height: int64(ts.Height), Cids: make([][]byte, len(ts.Cids))}
	for i, c := range ts.Cids {
		w.Cids[i] = c.Bytes()
	}
	return CborEncode(&w)
}

// DecodeTipsetCids decodes a persisted tipset record into its height and
// block CIDs.
func DecodeTipsetCids(data []byte) (abi.ChainEpoch, []cid.Cid, error) {
	var w tipsetWire
	if err := CborDecode(data, &w); err != nil {
		return 0, nil, err
	}
	cids := make([]cid.Cid, len(w.Cids))
	for i, b := range w.Cids {
		c, err := cid.Cast(b)
		if err != nil {
			return 0, nil, fmt.Errorf("block cid: %w", err)
		}
		cids[i] = c
	}
	return abi.ChainEpoch(w.Height), cids, nil
}
