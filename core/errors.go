package core

import "errors"

// Error kinds surfaced to engine callers. Submission-time failures leave the
// pool unmodified; mining-time transfer failures are absorbed by the miner
// instead of being raised.
var (
	ErrNotReady          = errors.New("blockchain engine is not ready")
	ErrUnsupportedMethod = errors.New("only method 0 (send) is supported")
	ErrInvalidNonce      = errors.New("submitted nonce must be 0, the engine assigns nonces")
	ErrInvalidProtocol   = errors.New("sender and receiver must be SECP256K1 or BLS addresses")
	ErrInvalidSignature  = errors.New("message signature verification failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMissingWallet     = errors.New("deal proposal has no wallet address")
	ErrUnknownPrivateKey = errors.New("address has no managed private key")
	ErrObjectNotFound    = errors.New("object not found in local store")
)
