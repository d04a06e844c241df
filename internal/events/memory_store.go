package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cartpulse/cartpulse/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]*Event // merchantID → events, insertion order
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]*Event)}
}

func (s *MemoryStore) Insert(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events[e.MerchantID] = append(s.events[e.MerchantID], &cp)
	return nil
}

func (s *MemoryStore) ListBySession(ctx context.Context, merchantID, sessionID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Event
	for _, e := range s.events[merchantID] {
		if e.SessionID == sessionID {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, merchantID string, since time.Time, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[merchantID]
	var result []*Event
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		if all[i].CreatedAt.After(since) {
			cp := *all[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListPage(ctx context.Context, merchantID string, cursor *pagination.Cursor, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Event, len(s.events[merchantID]))
	copy(all, s.events[merchantID])
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	result := make([]*Event, 0, limit)
	for _, e := range all {
		if cursor != nil {
			// Skip everything at or before the cursor position.
			if e.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if e.CreatedAt.Equal(cursor.CreatedAt) && e.ID >= cursor.ID {
				continue
			}
		}
		cp := *e
		result = append(result, &cp)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) CountSince(ctx context.Context, merchantID string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.events[merchantID] {
		if e.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DailyRevenue(ctx context.Context, merchantID string, days int) ([]DailyRevenue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	byDay := make(map[string]int64)
	for _, e := range s.events[merchantID] {
		if e.Type != TypeCheckoutCompleted || e.CreatedAt.Before(cutoff) {
			continue
		}
		byDay[e.CreatedAt.UTC().Format("2006-01-02")] += e.RevenueCents
	}

	result := make([]DailyRevenue, 0, len(byDay))
	for day, cents := range byDay {
		date, _ := time.Parse("2006-01-02", day)
		result = append(result, DailyRevenue{Date: date, RevenueCents: cents})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

func (s *MemoryStore) FunnelCounts(ctx context.Context, merchantID string, since time.Time) (map[string]StepCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Distinct sessions per step, per action.
	viewed := make(map[string]map[string]bool)
	completed := make(map[string]map[string]bool)
	mark := func(m map[string]map[string]bool, step, session string) {
		if m[step] == nil {
			m[step] = make(map[string]bool)
		}
		m[step][session] = true
	}

	for _, e := range s.events[merchantID] {
		if !e.CreatedAt.After(since) || e.Step == "" {
			continue
		}
		switch e.Type {
		case TypeStepViewed:
			mark(viewed, e.Step, e.SessionID)
		case TypeStepCompleted:
			mark(completed, e.Step, e.SessionID)
		}
	}

	result := make(map[string]StepCounts)
	for step, sessions := range viewed {
		c := result[step]
		c.Viewed = len(sessions)
		result[step] = c
	}
	for step, sessions := range completed {
		c := result[step]
		c.Completed = len(sessions)
		result[step] = c
	}
	return result, nil
}

func (s *MemoryStore) ActiveSessionIDs(ctx context.Context, merchantID string, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ended := make(map[string]bool)
	lastSeen := make(map[string]time.Time)
	var order []string
	for _, e := range s.events[merchantID] {
		if _, seen := lastSeen[e.SessionID]; !seen {
			order = append(order, e.SessionID)
		}
		if e.CreatedAt.After(lastSeen[e.SessionID]) {
			lastSeen[e.SessionID] = e.CreatedAt
		}
		if e.Terminal() {
			ended[e.SessionID] = true
		}
	}

	var result []string
	for _, id := range order {
		if !ended[id] && lastSeen[id].After(since) {
			result = append(result, id)
		}
	}
	return result, nil
}

func (s *MemoryStore) EndedSessionIDs(ctx context.Context, merchantID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type endedAt struct {
		id string
		at time.Time
	}
	var ended []endedAt
	for _, e := range s.events[merchantID] {
		if e.Terminal() {
			ended = append(ended, endedAt{e.SessionID, e.CreatedAt})
		}
	}
	sort.Slice(ended, func(i, j int) bool { return ended[i].at.After(ended[j].at) })

	seen := make(map[string]bool)
	var result []string
	for _, e := range ended {
		if seen[e.id] {
			continue
		}
		seen[e.id] = true
		result = append(result, e.id)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) MerchantPriors(ctx context.Context, merchantID string) (*Priors, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	firstSeen := make(map[string]time.Time)
	var p Priors
	var totalSeconds float64
	var timed int

	for _, e := range s.events[merchantID] {
		if t, ok := firstSeen[e.SessionID]; !ok || e.CreatedAt.Before(t) {
			firstSeen[e.SessionID] = e.CreatedAt
		}
	}
	for _, e := range s.events[merchantID] {
		switch e.Type {
		case TypeCheckoutCompleted:
			p.Completions++
			totalSeconds += e.CreatedAt.Sub(firstSeen[e.SessionID]).Seconds()
			timed++
		case TypeCheckoutAbandoned:
			p.Abandonments++
		}
	}

	if total := p.Completions + p.Abandonments; total > 0 {
		p.ConversionRate = float64(p.Completions) / float64(total)
	}
	if timed > 0 {
		p.AvgCheckoutSeconds = totalSeconds / float64(timed)
	}
	return &p, nil
}
