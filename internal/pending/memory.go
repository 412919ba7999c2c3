package pending

import (
	"context"
	"sync"

	"github.com/Maphikza/tipbot-engine/internal/transfer"
)

// MemoryStore keeps staged transactions in process memory. Entries are lost
// on restart.
type MemoryStore struct {
	mu      sync.Mutex
	byOwner map[string]transfer.PendingEntry
	byToken map[string]string
}

var _ transfer.PendingStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byOwner: make(map[string]transfer.PendingEntry),
		byToken: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, entry transfer.PendingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byOwner[entry.OwnerID]; exists {
		return transfer.ErrOwnerHasPending
	}
	m.byOwner[entry.OwnerID] = entry
	m.byToken[entry.Token] = entry.OwnerID
	return nil
}

func (m *MemoryStore) FindByOwner(_ context.Context, ownerID string) (*transfer.PendingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byOwner[ownerID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *MemoryStore) FindByToken(_ context.Context, token string) (*transfer.PendingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.byToken[token]
	if !ok {
		return nil, nil
	}
	entry := m.byOwner[owner]
	return &entry, nil
}

func (m *MemoryStore) Take(_ context.Context, token string) (*transfer.PendingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.byToken[token]
	if !ok {
		return nil, nil
	}
	entry := m.byOwner[owner]
	delete(m.byToken, token)
	delete(m.byOwner, owner)
	return &entry, nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byOwner)
}
