package boltx

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu         sync.RWMutex
	bySession  map[string][]*StoredPrediction // merchantID/sessionID → predictions
	byMerchant map[string][]*StoredPrediction // merchantID → predictions, insertion order
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory prediction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bySession:  make(map[string][]*StoredPrediction),
		byMerchant: make(map[string][]*StoredPrediction),
	}
}

func sessionKey(merchantID, sessionID string) string {
	return merchantID + "/" + sessionID
}

func (s *MemoryStore) Record(ctx context.Context, p *StoredPrediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	key := sessionKey(p.MerchantID, p.SessionID)
	s.bySession[key] = append(s.bySession[key], &cp)
	s.byMerchant[p.MerchantID] = append(s.byMerchant[p.MerchantID], &cp)
	return nil
}

func (s *MemoryStore) ListBySession(ctx context.Context, merchantID, sessionID string, limit int) ([]*StoredPrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.bySession[sessionKey(merchantID, sessionID)], limit), nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, merchantID string, limit int) ([]*StoredPrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.byMerchant[merchantID], limit), nil
}

// newestFirst copies up to limit entries, most recent first.
func newestFirst(all []*StoredPrediction, limit int) []*StoredPrediction {
	if len(all) == 0 {
		return nil
	}
	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	result := make([]*StoredPrediction, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		cp := *all[i]
		result = append(result, &cp)
	}
	return result
}
