package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store with the same atomicity contract
// as the SQL store. Useful for tests and single-node deployments that
// accept losing balances on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) getOrCreateLocked(address string) (*Entry, bool) {
	if e, ok := m.entries[address]; ok {
		return e, true
	}
	now := time.Now()
	e := &Entry{Address: address, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	m.entries[address] = e
	return e, false
}

// FindAndIncrement implements Store.
func (m *MemoryStore) FindAndIncrement(_ context.Context, address string, delta decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, _ := m.getOrCreateLocked(address)
	next := entry.Balance.Add(delta)
	if next.IsNegative() {
		return entry.Balance, ErrInsufficientFunds
	}
	entry.Balance = next
	entry.UpdatedAt = time.Now()
	return entry.Balance, nil
}

// GetOrCreate implements Store.
func (m *MemoryStore) GetOrCreate(_ context.Context, address string) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, existed := m.getOrCreateLocked(address)
	copied := *entry
	return &copied, existed, nil
}
