package identity

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryStore keeps identities in process. It backs tests and local runs.
type MemoryStore struct {
	mu  sync.RWMutex
	ids map[string]Identity
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]Identity)}
}

func (m *MemoryStore) Get(_ context.Context, uid string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.ids[uid]
	if !ok {
		return nil, notFound(uid)
	}

	return clone(id), nil
}

func (m *MemoryStore) GetByEmail(_ context.Context, email string) (*Identity, error) {
	email = NormalizeEmail(email)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.ids {
		if id.Email != "" && id.Email == email {
			return clone(id), nil
		}
	}

	return nil, notFound(email)
}

func (m *MemoryStore) Create(_ context.Context, id Identity) error {
	id.Email = NormalizeEmail(id.Email)
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ids[id.UID]; ok {
		return alreadyExists(id.UID)
	}

	for _, other := range m.ids {
		if id.Email != "" && other.Email == id.Email {
			return alreadyExists(id.Email)
		}
	}

	id.Claims = maps.Clone(id.Claims)
	m.ids[id.UID] = id
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ids[uid]; !ok {
		return notFound(uid)
	}

	delete(m.ids, uid)
	return nil
}

func (m *MemoryStore) SetClaims(_ context.Context, uid string, claims map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.ids[uid]
	if !ok {
		return notFound(uid)
	}

	id.Claims = maps.Clone(claims)
	m.ids[uid] = id
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func clone(id Identity) *Identity {
	id.Claims = maps.Clone(id.Claims)
	return &id
}
