package types

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// All chain objects are persisted and content-addressed through one canonical
// CBOR encoding. Addresses travel as their string form and big integers as
// unsigned big-endian bytes, which keeps the encoding deterministic without
// generated marshalers.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	opts := cbor.DecOptions{}
	if decMode, err = opts.DecMode(); err != nil {
		panic(err)
	}
}

// CborEncode marshals v with the canonical encoder.
func CborEncode(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// CborDecode unmarshals data into v.
func CborDecode(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}

// CidOf derives the content identifier of v: blake2b-256 over the canonical
// CBOR encoding, carried in a CIDv1 with the DagCBOR codec.
func CidOf(v interface{}) (cid.Cid, error) {
	data, err := CborEncode(v)
	if err != nil {
		return cid.Undef, fmt.Errorf("cbor encode: %w", err)
	}
	digest, err := mh.Sum(data, mh.BLAKE2B_MIN+31, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("multihash: %w", err)
	}
	return cid.NewCidV1(cid.DagCBOR, digest), nil
}
