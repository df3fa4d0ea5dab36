package types

import (
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
)

// Ticket is the VRF chain entry carried by a block header.
type Ticket struct {
	VRFProof []byte
}

// ElectionProof records the number of wins backing a block. The simulator
// always elects its single miner with one win.
type ElectionProof struct {
	WinCount int64
	VRFProof []byte
}

// BlockHeader is a simulated Filecoin block header. State and receipt roots
// are omitted: the simulator's ledger lives outside the chain objects.
type BlockHeader struct {
	Miner         address.Address
	Parents       []cid.Cid
	Height        abi.ChainEpoch
	ParentWeight  big.Int
	Ticket        Ticket
	ElectionProof ElectionProof
	Timestamp     uint64
}

type blockHeaderWire struct {
	Miner        string   `cbor:"1,keyasint"`
	Parents      [][]byte `cbor:"2,keyasint"`
	Height       int64    `cbor:"3,keyasint"`
	ParentWeight []byte   `cbor:"4,keyasint"`
	TicketProof  []byte   `cbor:"5,keyasint"`
	WinCount     int64    `cbor:"6,keyasint"`
	VRFProof     []byte   `cbor:"7,keyasint"`
	Timestamp    uint64   `cbor:"8,keyasint"`
}

func (b *BlockHeader) wire() blockHeaderWire {
	parents := make([][]byte, len(b.Parents))
	for i, p := range b.Parents {
		parents[i] = p.Bytes()
	}
	return blockHeaderWire{
		Miner:        b.Miner.String(),
		Parents:      parents,
		Height:       int64(b.Height),
		ParentWeight: bigBytes(b.ParentWeight),
		TicketProof:  b.Ticket.VRFProof,
		WinCount:     b.ElectionProof.WinCount,
		VRFProof:     b.ElectionProof.VRFProof,
		Timestamp:    b.Timestamp,
	}
}

// Cid derives the header's content identifier. The genesis block is the one
// exception: it is persisted under a pinned CID instead.
func (b *BlockHeader) Cid() (cid.Cid, error) {
	w := b.wire()
	return CidOf(&w)
}

// Serialize encodes the header for persistence.
func (b *BlockHeader) Serialize() ([]byte, error) {
	w := b.wire()
	return CborEncode(&w)
}

// DecodeBlockHeader is the inverse of Serialize.
func DecodeBlockHeader(data []byte) (*BlockHeader, error) {
	var w blockHeaderWire
	if err := CborDecode(data, &w); err != nil {
		return nil, err
	}
	miner, err := address.NewFromString(w.Miner)
	if err != nil {
		return nil, fmt.Errorf("miner address: %w", err)
	}
	parents := make([]cid.Cid, len(w.Parents))
	for i, p := range w.Parents {
		c, err := cid.Cast(p)
		if err != nil {
			return nil, fmt.Errorf("parent cid: %w", err)
		}
		parents[i] = c
	}
	return &BlockHeader{
		Miner:        miner,
		Parents:      parents,
		Height:       abi.ChainEpoch(w.Height),
		ParentWeight: bigFromBytes(w.ParentWeight),
		Ticket:       Ticket{VRFProof: w.TicketProof},
		ElectionProof: ElectionProof{
			WinCount: w.WinCount,
			VRFProof: w.VRFProof,
		},
		Timestamp: w.Timestamp,
	}, nil
}
