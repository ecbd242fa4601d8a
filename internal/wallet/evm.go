package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EVMAdapter signs with a locally held secp256k1 key.
type EVMAdapter struct {
	mu     sync.Mutex
	key    *ecdsa.PrivateKey
	addr   common.Address
	closed bool
}

// NewEVMAdapter generates a fresh keypair.
func NewEVMAdapter() (*EVMAdapter, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate evm key: %w", err)
	}
	return &EVMAdapter{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewEVMAdapterFromKey builds an adapter from a hex private key (no 0x prefix).
func NewEVMAdapterFromKey(hexKey string) (*EVMAdapter, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: parse evm key: %w", err)
	}
	return &EVMAdapter{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Name implements Adapter.
func (a *EVMAdapter) Name() string { return "evm-local" }

// PublicKey returns the checksummed address.
func (a *EVMAdapter) PublicKey() string {
	return a.addr.Hex()
}

// SignMessage signs keccak256(msg) and returns the 65-byte signature hex encoded.
func (a *EVMAdapter) SignMessage(ctx context.Context, msg []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrPoolDisposed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	digest := crypto.Keccak256(msg)
	sig, err := crypto.Sign(digest, a.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return hexutil.Encode(sig), nil
}

// Close marks the adapter unusable.
func (a *EVMAdapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}
