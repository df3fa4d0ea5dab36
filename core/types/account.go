package types

import (
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
)

// Account is the ledger record for one address. Nonce is the next nonce to
// be assigned at commit time, not the last applied one.
type Account struct {
	Address address.Address
	Balance big.Int
	Nonce   uint64
}

type accountWire struct {
	Address string `cbor:"1,keyasint"`
	Balance []byte `cbor:"2,keyasint"`
	Nonce   uint64 `cbor:"3,keyasint"`
}

// Serialize encodes the account for persistence. Private keys are stored in
// their own partition, never alongside the balance record.
func (a *Account) Serialize() ([]byte, error) {
	w := accountWire{
		Address: a.Address.String(),
		Balance: bigBytes(a.Balance),
		Nonce:   a.Nonce,
	}
	return CborEncode(&w)
}

// DecodeAccount is the inverse of Serialize.
func DecodeAccount(data []byte) (*Account, error) {
	var w accountWire
	if err := CborDecode(data, &w); err != nil {
		return nil, err
	}
	addr, err := address.NewFromString(w.Address)
	if err != nil {
		return nil, fmt.Errorf("account address: %w", err)
	}
	return &Account{
		Address: addr,
		Balance: bigFromBytes(w.Balance),
		Nonce:   w.Nonce,
	}, nil
}
