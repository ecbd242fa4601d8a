// Package wallet provides wallet adapters and the per-scope WalletPool.
//
// Adapters hold per-session signing state (keys, connections). They are
// deliberately never shared across pools: two scopes rendered for the same
// tenant each get their own adapter instances.
package wallet

import (
	"context"
	"errors"
)

// Errors
var (
	ErrNoAdapters    = errors.New("wallet: pool has no adapters")
	ErrPoolDisposed  = errors.New("wallet: pool has been cleaned up")
	ErrUserRejected  = errors.New("wallet: user rejected the signature request")
	ErrSigningFailed = errors.New("wallet: signing failed")
)

// Adapter is one wallet capable of signing payment authorizations.
type Adapter interface {
	// Name identifies the adapter kind (e.g. "solana-local", "evm-local").
	Name() string
	// PublicKey returns the payer identity in the chain's native encoding.
	PublicKey() string
	// SignMessage signs msg and returns the signature in the chain's native
	// encoding (base58 for Solana, 0x-hex for EVM).
	SignMessage(ctx context.Context, msg []byte) (string, error)
	// Close releases adapter-held resources. Safe to call more than once.
	Close() error
}
