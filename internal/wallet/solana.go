package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// SolanaAdapter signs with a locally held ed25519 key.
type SolanaAdapter struct {
	mu     sync.Mutex
	key    solana.PrivateKey
	closed bool
}

// NewSolanaAdapter generates a fresh keypair.
func NewSolanaAdapter() (*SolanaAdapter, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate solana key: %w", err)
	}
	return &SolanaAdapter{key: key}, nil
}

// NewSolanaAdapterFromKey builds an adapter from a base58-encoded private key.
func NewSolanaAdapterFromKey(base58Key string) (*SolanaAdapter, error) {
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("wallet: parse solana key: %w", err)
	}
	return &SolanaAdapter{key: key}, nil
}

// Name implements Adapter.
func (a *SolanaAdapter) Name() string { return "solana-local" }

// PublicKey returns the base58 public key.
func (a *SolanaAdapter) PublicKey() string {
	return a.key.PublicKey().String()
}

// SignMessage signs msg with ed25519 and returns the base58 signature.
func (a *SolanaAdapter) SignMessage(ctx context.Context, msg []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrPoolDisposed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sig, err := a.key.Sign(msg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return sig.String(), nil
}

// Close zeroes nothing (the key lives in GC memory) but marks the adapter
// unusable so late callers fail loudly instead of signing after teardown.
func (a *SolanaAdapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}
