package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/filecoin-project/go-address"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"

	"github.com/PinkDiamond1/filsim/core"
)

// KeyManager stores private key material keyed by address. Plaintext keys
// are a simulator convenience; nothing here is safe for real funds.
type KeyManager struct {
	partition

	mu    sync.RWMutex
	cache map[address.Address][]byte
}

func newKeyManager(ctx context.Context, ds datastore.Datastore) (*KeyManager, error) {
	m := &KeyManager{
		partition: partition{ds: ds},
		cache:     make(map[address.Address][]byte),
	}
	res, err := ds.Query(ctx, query.Query{})
	if err != nil {
		return nil, err
	}
	defer res.Close()
	for r := range res.Next() {
		if r.Error != nil {
			return nil, r.Error
		}
		addr, err := address.NewFromString(strings.TrimPrefix(r.Key, "/"))
		if err != nil {
			return nil, fmt.Errorf("key record %s: %w", r.Key, err)
		}
		m.cache[addr] = r.Value
	}
	return m, nil
}

// Get returns the private key held for addr.
func (m *KeyManager) Get(addr address.Address) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	priv, ok := m.cache[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownPrivateKey, addr)
	}
	return priv, nil
}

// Has reports whether a key is managed for addr.
func (m *KeyManager) Has(addr address.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cache[addr]
	return ok
}

// Addresses lists all addresses with managed keys.
func (m *KeyManager) Addresses() []address.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]address.Address, 0, len(m.cache))
	for a := range m.cache {
		out = append(out, a)
	}
	return out
}

// Put stores key material for addr.
func (m *KeyManager) Put(ctx context.Context, addr address.Address, priv []byte) error {
	if err := m.put(ctx, "/"+addr.String(), priv); err != nil {
		return err
	}
	m.mu.Lock()
	m.cache[addr] = priv
	m.mu.Unlock()
	return nil
}

// Delete removes the key held for addr.
func (m *KeyManager) Delete(ctx context.Context, addr address.Address) error {
	if err := m.delete(ctx, "/"+addr.String()); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.cache, addr)
	m.mu.Unlock()
	return nil
}
