package events

import (
	"context"
	"errors"
	"time"

	"github.com/cartpulse/cartpulse/internal/idgen"
	"github.com/cartpulse/cartpulse/internal/merchant"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/syncutil"
	"github.com/cartpulse/cartpulse/internal/traces"
)

// Errors
var (
	ErrInvalidType   = errors.New("events: unknown event type")
	ErrQuotaExceeded = errors.New("events: monthly event quota exceeded")
	ErrSuspended     = errors.New("events: merchant is not active")
)

// Broadcaster pushes ingested events to live dashboard streams.
type Broadcaster interface {
	BroadcastIngested(merchantID string, data map[string]interface{})
}

// Service handles event ingestion with quota enforcement.
type Service struct {
	store Store
	hub   Broadcaster // optional
	// quotaMu serializes the quota check-then-insert per merchant so
	// concurrent ingests cannot overshoot the plan quota.
	quotaMu *syncutil.ContextShardedMutex
}

// NewService creates an ingestion service. hub may be nil.
func NewService(store Store, hub Broadcaster) *Service {
	return &Service{store: store, hub: hub, quotaMu: syncutil.NewContextShardedMutex()}
}

// Store returns the underlying event store.
func (s *Service) Store() Store { return s.store }

// Ingest validates and persists one checkout event for a merchant. The
// event's ID and CreatedAt are assigned here.
func (s *Service) Ingest(ctx context.Context, m *merchant.Merchant, e *Event) error {
	if !m.Active() {
		metrics.EventsRejectedTotal.WithLabelValues("suspended").Inc()
		return ErrSuspended
	}
	if !ValidType(e.Type) {
		metrics.EventsRejectedTotal.WithLabelValues("invalid_type").Inc()
		return ErrInvalidType
	}

	ctx, span := traces.StartSpan(ctx, "events.ingest",
		traces.MerchantID(m.ID), traces.EventType(e.Type))
	defer span.End()

	if quota := m.Settings.MonthlyEventQuota; quota > 0 {
		unlock, err := s.quotaMu.LockContext(ctx, m.ID)
		if err != nil {
			return err
		}
		defer unlock()

		used, err := s.store.CountSince(ctx, m.ID, monthStart(time.Now().UTC()))
		if err != nil {
			return err
		}
		if used >= quota {
			metrics.EventsRejectedTotal.WithLabelValues("quota").Inc()
			return ErrQuotaExceeded
		}
	}

	e.ID = idgen.WithPrefix("evt_")
	e.MerchantID = m.ID
	e.CreatedAt = time.Now().UTC()

	if err := s.store.Insert(ctx, e); err != nil {
		return err
	}
	metrics.EventsIngestedTotal.WithLabelValues(e.Type).Inc()

	if s.hub != nil {
		s.hub.BroadcastIngested(m.ID, map[string]interface{}{
			"id":        e.ID,
			"sessionId": e.SessionID,
			"type":      e.Type,
			"step":      e.Step,
		})
	}
	return nil
}

// IngestBatch persists a set of events for a merchant atomically with
// respect to the quota: either the whole batch fits under the monthly
// quota or none of it is counted. Returns how many events were stored.
func (s *Service) IngestBatch(ctx context.Context, m *merchant.Merchant, evts []*Event) (int, error) {
	if !m.Active() {
		metrics.EventsRejectedTotal.WithLabelValues("suspended").Inc()
		return 0, ErrSuspended
	}
	for _, e := range evts {
		if !ValidType(e.Type) {
			metrics.EventsRejectedTotal.WithLabelValues("invalid_type").Inc()
			return 0, ErrInvalidType
		}
	}

	if quota := m.Settings.MonthlyEventQuota; quota > 0 {
		unlock, err := s.quotaMu.LockContext(ctx, m.ID)
		if err != nil {
			return 0, err
		}
		defer unlock()

		used, err := s.store.CountSince(ctx, m.ID, monthStart(time.Now().UTC()))
		if err != nil {
			return 0, err
		}
		if used+int64(len(evts)) > quota {
			metrics.EventsRejectedTotal.WithLabelValues("quota").Inc()
			return 0, ErrQuotaExceeded
		}
	}

	now := time.Now().UTC()
	for i, e := range evts {
		e.ID = idgen.WithPrefix("evt_")
		e.MerchantID = m.ID
		e.CreatedAt = now

		if err := s.store.Insert(ctx, e); err != nil {
			return i, err
		}
		metrics.EventsIngestedTotal.WithLabelValues(e.Type).Inc()

		if s.hub != nil {
			s.hub.BroadcastIngested(m.ID, map[string]interface{}{
				"id":        e.ID,
				"sessionId": e.SessionID,
				"type":      e.Type,
				"step":      e.Step,
			})
		}
	}
	return len(evts), nil
}

// monthStart returns midnight UTC on the first of t's month, the reset
// point for event quotas.
func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
