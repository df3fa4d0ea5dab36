package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/filecoin-project/go-address"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"

	"github.com/PinkDiamond1/filsim/core/types"
)

// AccountManager caches balance/nonce records over the accounts partition.
type AccountManager struct {
	partition

	mu    sync.RWMutex
	cache map[address.Address]*types.Account
}

func newAccountManager(ctx context.Context, ds datastore.Datastore) (*AccountManager, error) {
	m := &AccountManager{
		partition: partition{ds: ds},
		cache:     make(map[address.Address]*types.Account),
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
		acct, err := types.DecodeAccount(r.Value)
		if err != nil {
			return nil, fmt.Errorf("decode account %s: %w", r.Key, err)
		}
		m.cache[acct.Address] = acct
	}
	return m, nil
}

// Get returns the cached account for addr, or nil when none is stored.
func (m *AccountManager) Get(addr address.Address) *types.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache[addr]
}

// Put writes the account through to the store and refreshes the cache.
func (m *AccountManager) Put(ctx context.Context, acct *types.Account) error {
	data, err := acct.Serialize()
	if err != nil {
		return err
	}
	if err := m.put(ctx, "/"+acct.Address.String(), data); err != nil {
		return err
	}
	m.mu.Lock()
	m.cache[acct.Address] = acct
	m.mu.Unlock()
	return nil
}

// Delete removes the account record.
func (m *AccountManager) Delete(ctx context.Context, addr address.Address) error {
	if err := m.delete(ctx, "/"+addr.String()); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.cache, addr)
	m.mu.Unlock()
	return nil
}

// Empty reports whether any account has been stored. Used to decide whether
// genesis seeding is needed.
func (m *AccountManager) Empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache) == 0
}

// Addresses lists all stored account addresses.
func (m *AccountManager) Addresses() []address.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]address.Address, 0, len(m.cache))
	for a := range m.cache {
		out = append(out, a)
	}
	return out
}
