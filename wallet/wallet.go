package wallet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/filecoin-project/go-address"
	fcrypto "github.com/filecoin-project/go-crypto"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/minio/blake2b-simd"
)

var (
	ErrSignatureMismatch = errors.New("signature does not match signer")
	ErrUnsupportedSig    = errors.New("unsupported signature type")
)

// KeyLookup resolves the private key held for an address, or an error when
// the key is not managed by this node.
type KeyLookup func(address.Address) ([]byte, error)

// GenerateKey derives a SECP256K1 private key from the given reader and
// returns it with its address. Feeding the node's seeded PRNG makes wallet
// generation deterministic per seed.
func GenerateKey(rand io.Reader) ([]byte, address.Address, error) {
	// The scalar is read straight from rand, retrying until it lies in
	// [1, n) for the secp256k1 group order n, so a given stream always
	// yields the same key.
	order, _ := new(big.Int).SetString("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)
	priv := make([]byte, 32)
	for {
		if _, err := io.ReadFull(rand, priv); err != nil {
			return nil, address.Undef, fmt.Errorf("generate key: %w", err)
		}
		if k := new(big.Int).SetBytes(priv); k.Sign() != 0 && k.Cmp(order) < 0 {
			break
		}
	}
	addr, err := address.NewSecp256k1Address(fcrypto.PublicKey(priv))
	if err != nil {
		return nil, address.Undef, fmt.Errorf("derive address: %w", err)
	}
	return priv, addr, nil
}

// GenerateBLSKey derives a simulated BLS key pair from the given reader.
// The public key is a blake2b digest of the private key, not a real G1
// point; see the package signing notes.
func GenerateBLSKey(rand io.Reader) ([]byte, address.Address, error) {
	priv := make([]byte, 32)
	if _, err := io.ReadFull(rand, priv); err != nil {
		return nil, address.Undef, fmt.Errorf("generate bls key: %w", err)
	}
	pub := blake2b.Sum512(priv)
	addr, err := address.NewBLSAddress(pub[:48])
	if err != nil {
		return nil, address.Undef, fmt.Errorf("derive bls address: %w", err)
	}
	return priv, addr, nil
}

// Sign produces a signature over data with the given key. SECP256K1 signs
// the blake2b-256 digest with real secp256k1 recovery signatures. BLS is
// simulated: the signature is a keyed blake2b digest, which round-trips
// through Verify but is not a conformant BLS signature.
func Sign(priv []byte, sigType crypto.SigType, data []byte) (*crypto.Signature, error) {
	switch sigType {
	case crypto.SigTypeSecp256k1:
		digest := blake2b.Sum256(data)
		sig, err := fcrypto.Sign(priv, digest[:])
		if err != nil {
			return nil, fmt.Errorf("secp sign: %w", err)
		}
		return &crypto.Signature{Type: crypto.SigTypeSecp256k1, Data: sig}, nil
	case crypto.SigTypeBLS:
		return &crypto.Signature{Type: crypto.SigTypeBLS, Data: blsDigest(priv, data)}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSig, sigType)
	}
}

// Verify checks that sig was produced over data by the owner of signer.
// SECP256K1 recovers the public key and compares addresses. BLS recomputes
// the simulated digest, which requires the signer's key to be managed
// locally via keys.
func Verify(sig *crypto.Signature, signer address.Address, data []byte, keys KeyLookup) error {
	switch sig.Type {
	case crypto.SigTypeSecp256k1:
		digest := blake2b.Sum256(data)
		pub, err := fcrypto.EcRecover(digest[:], sig.Data)
		if err != nil {
			return fmt.Errorf("recover pubkey: %w", err)
		}
		recovered, err := address.NewSecp256k1Address(pub)
		if err != nil {
			return fmt.Errorf("recovered address: %w", err)
		}
		if recovered != signer {
			return ErrSignatureMismatch
		}
		return nil
	case crypto.SigTypeBLS:
		priv, err := keys(signer)
		if err != nil {
			return fmt.Errorf("bls verification needs a managed key: %w", err)
		}
		if !bytes.Equal(sig.Data, blsDigest(priv, data)) {
			return ErrSignatureMismatch
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedSig, sig.Type)
	}
}

func blsDigest(priv, data []byte) []byte {
	d := blake2b.Sum256(append(append([]byte{}, priv...), data...))
	return d[:]
}
