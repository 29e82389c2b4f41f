package oracle

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// AccountSource fetches oracle accounts. Missing accounts come back as nil entries
// so the result stays parallel to keys.
type AccountSource interface {
	GetAccounts(ctx context.Context, keys []solana.PublicKey) ([]*Account, error)
}

// MemoryAccounts is an in-process AccountSource, the home of test oracles.
type MemoryAccounts struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey]Account
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{accounts: make(map[solana.PublicKey]Account)}
}

func (m *MemoryAccounts) Put(account Account) {
	data := append([]byte(nil), account.Data...)
	m.mu.Lock()
	m.accounts[account.Key] = Account{Key: account.Key, Owner: account.Owner, Data: data}
	m.mu.Unlock()
}

// PutTestOracle stores an encoded TestOracle under key, replacing any previous value.
func (m *MemoryAccounts) PutTestOracle(key, owner solana.PublicKey, state TestOracle) error {
	data, err := EncodeTestOracle(state)
	if err != nil {
		return err
	}
	m.Put(Account{Key: key, Owner: owner, Data: data})
	return nil
}

func (m *MemoryAccounts) Has(key solana.PublicKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[key]
	return ok
}

func (m *MemoryAccounts) GetAccounts(ctx context.Context, keys []solana.PublicKey) ([]*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Account, len(keys))
	for i, key := range keys {
		account, ok := m.accounts[key]
		if !ok {
			continue
		}
		account.Data = append([]byte(nil), account.Data...)
		out[i] = &account
	}
	return out, nil
}

// LayeredSources serves each key from the first source that has it.
type LayeredSources []AccountSource

func (l LayeredSources) GetAccounts(ctx context.Context, keys []solana.PublicKey) ([]*Account, error) {
	out := make([]*Account, len(keys))
	pending := make([]int, len(keys))
	for i := range keys {
		pending[i] = i
	}

	for _, source := range l {
		if len(pending) == 0 {
			break
		}
		lookup := make([]solana.PublicKey, len(pending))
		for i, idx := range pending {
			lookup[i] = keys[idx]
		}
		found, err := source.GetAccounts(ctx, lookup)
		if err != nil {
			return nil, err
		}

		next := pending[:0]
		for i, idx := range pending {
			if i < len(found) && found[i] != nil {
				out[idx] = found[i]
				continue
			}
			next = append(next, idx)
		}
		pending = next
	}
	return out, nil
}
