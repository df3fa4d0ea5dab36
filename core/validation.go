package core

import (
	"fmt"

	"github.com/filecoin-project/go-address"

	"github.com/PinkDiamond1/filsim/core/types"
	"github.com/PinkDiamond1/filsim/wallet"
)

// CheckMessage runs the structural and semantic checks applied to every
// signed message at the submission boundary. The pool assigns nonces itself,
// so a caller-supplied nonce other than zero is rejected outright.
func CheckMessage(sm *types.SignedMessage, keys wallet.KeyLookup) error {
	m := &sm.Message
	if m.Method != 0 {
		return fmt.Errorf("%w: got method %d", ErrUnsupportedMethod, m.Method)
	}
	if m.Nonce != 0 {
		return fmt.Errorf("%w: got nonce %d", ErrInvalidNonce, m.Nonce)
	}
	if !transferableProtocol(m.From.Protocol()) {
		return fmt.Errorf("%w: sender %s", ErrInvalidProtocol, m.From)
	}
	if !transferableProtocol(m.To.Protocol()) {
		return fmt.Errorf("%w: receiver %s", ErrInvalidProtocol, m.To)
	}

	c, err := m.Cid()
	if err != nil {
		return err
	}
	if err := wallet.Verify(&sm.Signature, m.From, c.Bytes(), keys); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func transferableProtocol(p address.Protocol) bool {
	return p == address.SECP256K1 || p == address.BLS
}
