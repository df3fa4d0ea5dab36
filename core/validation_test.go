package core_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PinkDiamond1/filsim/core"
	"github.com/PinkDiamond1/filsim/core/store"
	"github.com/PinkDiamond1/filsim/core/types"
	"github.com/PinkDiamond1/filsim/wallet"
)

func keyedAccount(t *testing.T, chain *store.Store, rng *rand.Rand, balance int64) address.Address {
	t.Helper()
	priv, addr, err := wallet.GenerateKey(rng)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, chain.Keys.Put(ctx, addr, priv))
	require.NoError(t, chain.Accounts.Put(ctx, &types.Account{
		Address: addr,
		Balance: big.NewInt(balance),
	}))
	return addr
}

func signMessage(t *testing.T, chain *store.Store, m types.Message) *types.SignedMessage {
	t.Helper()
	priv, err := chain.Keys.Get(m.From)
	require.NoError(t, err)
	c, err := m.Cid()
	require.NoError(t, err)
	sig, err := wallet.Sign(priv, crypto.SigTypeSecp256k1, c.Bytes())
	require.NoError(t, err)
	return &types.SignedMessage{Message: m, Signature: *sig}
}

func baseMessage(from, to address.Address) types.Message {
	return types.Message{
		From:       from,
		To:         to,
		Value:      big.NewInt(1),
		GasLimit:   1,
		GasFeeCap:  big.Zero(),
		GasPremium: big.Zero(),
	}
}

func TestCheckMessage(t *testing.T) {
	_, chain := newTestLedger(t)
	rng := rand.New(rand.NewSource(4))
	a := keyedAccount(t, chain, rng, 100)
	b := keyedAccount(t, chain, rng, 0)
	idAddr, err := address.NewIDAddress(42)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(m *types.Message)
		tamper  func(sm *types.SignedMessage)
		wantErr error
	}{
		{
			name: "valid message",
		},
		{
			name:    "non-send method",
			mutate:  func(m *types.Message) { m.Method = abi.MethodNum(2) },
			wantErr: core.ErrUnsupportedMethod,
		},
		{
			name:    "caller-supplied nonce",
			mutate:  func(m *types.Message) { m.Nonce = 3 },
			wantErr: core.ErrInvalidNonce,
		},
		{
			name:    "id sender",
			mutate:  func(m *types.Message) { m.From = idAddr },
			wantErr: core.ErrInvalidProtocol,
		},
		{
			name:    "id receiver",
			mutate:  func(m *types.Message) { m.To = idAddr },
			wantErr: core.ErrInvalidProtocol,
		},
		{
			name:    "corrupted signature",
			tamper:  func(sm *types.SignedMessage) { sm.Signature.Data[4] ^= 0xff },
			wantErr: core.ErrInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := baseMessage(a, b)
			if tt.mutate != nil {
				tt.mutate(&m)
			}
			sm := &types.SignedMessage{Message: m, Signature: crypto.Signature{Type: crypto.SigTypeSecp256k1}}
			if m.From == a {
				sm = signMessage(t, chain, m)
			}
			if tt.tamper != nil {
				tt.tamper(sm)
			}

			err := core.CheckMessage(sm, chain.Keys.Get)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
