package merchant

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory merchant store for demo/development.
type MemoryStore struct {
	mu        sync.RWMutex
	merchants map[string]*Merchant // by ID
	slugs     map[string]string    // slug → ID
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory merchant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		merchants: make(map[string]*Merchant),
		slugs:     make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, m *Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.slugs[m.Slug]; exists {
		return ErrSlugTaken
	}

	cp := *m
	s.merchants[m.ID] = &cp
	s.slugs[m.Slug] = m.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.merchants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetBySlug(_ context.Context, slug string) (*Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.slugs[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.merchants[id]
	return &cp, nil
}

func (s *MemoryStore) GetByStripeCustomer(_ context.Context, customerID string) (*Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.merchants {
		if m.StripeCustomerID == customerID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Update(_ context.Context, m *Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.merchants[m.ID]; !ok {
		return ErrNotFound
	}
	cp := *m
	s.merchants[m.ID] = &cp
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Merchant, 0, len(s.merchants))
	for _, m := range s.merchants {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	result := make([]*Merchant, len(all))
	for i, m := range all {
		cp := *m
		result[i] = &cp
	}
	return result, nil
}
