package wallet

import (
	"math/rand"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noKeys(address.Address) ([]byte, error) {
	return nil, assert.AnError
}

func TestSecpSignVerify(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	priv, addr, err := GenerateKey(rng)
	require.NoError(t, err)
	assert.Equal(t, address.SECP256K1, addr.Protocol())

	msg := []byte("payload to sign")
	sig, err := Sign(priv, crypto.SigTypeSecp256k1, msg)
	require.NoError(t, err)

	require.NoError(t, Verify(sig, addr, msg, noKeys))

	// A different signer fails recovery comparison.
	_, other, err := GenerateKey(rng)
	require.NoError(t, err)
	assert.Error(t, Verify(sig, other, msg, noKeys))

	// Tampered payloads fail.
	assert.Error(t, Verify(sig, addr, []byte("other payload"), noKeys))
}

func TestKeyDeterminism(t *testing.T) {
	p1, a1, err := GenerateKey(rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	p2, a2, err := GenerateKey(rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, a1, a2)
}

func TestBLSSignVerify(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	priv, addr, err := GenerateBLSKey(rng)
	require.NoError(t, err)
	assert.Equal(t, address.BLS, addr.Protocol())

	lookup := func(a address.Address) ([]byte, error) {
		if a == addr {
			return priv, nil
		}
		return nil, assert.AnError
	}

	msg := []byte("bls payload")
	sig, err := Sign(priv, crypto.SigTypeBLS, msg)
	require.NoError(t, err)
	require.NoError(t, Verify(sig, addr, msg, lookup))

	// Verification needs the managed key.
	assert.Error(t, Verify(sig, addr, msg, noKeys))

	sig.Data[0] ^= 0xff
	assert.ErrorIs(t, Verify(sig, addr, msg, lookup), ErrSignatureMismatch)
}
