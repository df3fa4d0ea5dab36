package types

import (
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/ipfs/go-cid"
)

// Message is an unsigned value-transfer message. Only method 0 (bare send)
// is executable by the simulator.
type Message struct {
	From       address.Address
	To         address.Address
	Nonce      uint64
	Value      big.Int
	Method     abi.MethodNum
	GasLimit   int64
	GasFeeCap  big.Int
	GasPremium big.Int
}

// SignedMessage wraps a message with its sender signature.
type SignedMessage struct {
	Message   Message
	Signature crypto.Signature
}

type messageWire struct {
	From       string `cbor:"1,keyasint"`
	To         string `cbor:"2,keyasint"`
	Nonce      uint64 `cbor:"3,keyasint"`
	Value      []byte `cbor:"4,keyasint"`
	Method     uint64 `cbor:"5,keyasint"`
	GasLimit   int64  `cbor:"6,keyasint"`
	GasFeeCap  []byte `cbor:"7,keyasint"`
	GasPremium []byte `cbor:"8,keyasint"`
}

type signedMessageWire struct {
	Message messageWire `cbor:"1,keyasint"`
	SigType uint64      `cbor:"2,keyasint"`
	SigData []byte      `cbor:"3,keyasint"`
}

func (m *Message) wire() messageWire {
	return messageWire{
		From:       m.From.String(),
		To:         m.To.String(),
		Nonce:      m.Nonce,
		Value:      bigBytes(m.Value),
		Method:     uint64(m.Method),
		GasLimit:   m.GasLimit,
		GasFeeCap:  bigBytes(m.GasFeeCap),
		GasPremium: bigBytes(m.GasPremium),
	}
}

func (w *messageWire) message() (Message, error) {
	from, err := address.NewFromString(w.From)
	if err != nil {
		return Message{}, fmt.Errorf("from address: %w", err)
	}
	to, err := address.NewFromString(w.To)
	if err != nil {
		return Message{}, fmt.Errorf("to address: %w", err)
	}
	return Message{
		From:       from,
		To:         to,
		Nonce:      w.Nonce,
		Value:      bigFromBytes(w.Value),
		Method:     abi.MethodNum(w.Method),
		GasLimit:   w.GasLimit,
		GasFeeCap:  bigFromBytes(w.GasFeeCap),
		GasPremium: bigFromBytes(w.GasPremium),
	}, nil
}

// Cid derives the message's content identifier.
func (m *Message) Cid() (cid.Cid, error) {
	w := m.wire()
	return CidOf(&w)
}

// RequiredFunds is the balance a sender must hold for this message to be
// admitted: the full fee-cap gas spend plus the transferred value.
func (m *Message) RequiredFunds() big.Int {
	gas := big.Mul(m.GasFeeCap, big.NewInt(m.GasLimit))
	return big.Add(gas, m.Value)
}

// MinerFee is the per-message reward paid to the sealing miner.
func (m *Message) MinerFee() big.Int {
	return big.Mul(m.GasFeeCap, big.NewInt(m.GasLimit))
}

// BurnFee is the per-message base fee burned to the burnt-funds actor.
func (m *Message) BurnFee() big.Int {
	return big.Mul(m.GasPremium, big.NewInt(m.GasLimit))
}

// Cid derives the signed message's content identifier. It covers the inner
// message and the signature, so the same message signed twice has two CIDs.
func (sm *SignedMessage) Cid() (cid.Cid, error) {
	w := sm.wire()
	return CidOf(&w)
}

func (sm *SignedMessage) wire() signedMessageWire {
	return signedMessageWire{
		Message: sm.Message.wire(),
		SigType: uint64(sm.Signature.Type),
		SigData: sm.Signature.Data,
	}
}

// Serialize encodes the signed message for persistence.
func (sm *SignedMessage) Serialize() ([]byte, error) {
	w := sm.wire()
	return CborEncode(&w)
}

// DecodeSignedMessage is the inverse of Serialize.
func DecodeSignedMessage(data []byte) (*SignedMessage, error) {
	var w signedMessageWire
	if err := CborDecode(data, &w); err != nil {
		return nil, err
	}
	m, err := w.Message.message()
	if err != nil {
		return nil, err
	}
	return &SignedMessage{
		Message: m,
		Signature: crypto.Signature{
			Type: crypto.SigType(w.SigType),
			Data: w.SigData,
		},
	}, nil
}

// MessageSendSpec carries optional send parameters supplied by the caller.
type MessageSendSpec struct {
	MaxFee big.Int
}

func bigBytes(i big.Int) []byte {
	if i.Int == nil {
		return nil
	}
	return i.Int.Bytes()
}

func bigFromBytes(b []byte) big.Int {
	return big.PositiveFromUnsignedBytes(b)
}
