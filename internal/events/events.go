// Package events ingests and stores checkout telemetry.
//
// Merchant storefronts post one event per shopper action (viewing a step,
// completing it, hitting an error, finishing or abandoning checkout). The
// event stream is the source of truth for funnel analytics, revenue
// forecasting, and abandonment-risk scoring.
package events

import (
	"context"
	"time"

	"github.com/cartpulse/cartpulse/internal/pagination"
)

// Event types accepted on the ingest endpoint.
const (
	TypeStepViewed        = "step_viewed"
	TypeStepCompleted     = "step_completed"
	TypeCheckoutError     = "checkout_error"
	TypeCheckoutCompleted = "checkout_completed"
	TypeCheckoutAbandoned = "checkout_abandoned"
)

// Types lists every accepted event type.
var Types = []string{
	TypeStepViewed,
	TypeStepCompleted,
	TypeCheckoutError,
	TypeCheckoutCompleted,
	TypeCheckoutAbandoned,
}

// ValidType reports whether t is an accepted event type.
func ValidType(t string) bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}

// Event is one shopper action inside a checkout session.
type Event struct {
	ID         string `json:"id"`
	MerchantID string `json:"merchantId"`
	SessionID  string `json:"sessionId"`
	Type       string `json:"type"`
	// Step names the funnel stage for step_viewed/step_completed events.
	Step string `json:"step,omitempty"`
	// RevenueCents is set on checkout_completed events.
	RevenueCents int64     `json:"revenueCents,omitempty"`
	DeviceType   string    `json:"deviceType,omitempty"`
	Location     string    `json:"location,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DailyRevenue is one day's completed-checkout revenue.
type DailyRevenue struct {
	Date         time.Time `json:"date"`
	RevenueCents int64     `json:"revenueCents"`
}

// Priors are account-level aggregates fed into risk scoring as secondary
// signals.
type Priors struct {
	Completions        int     `json:"completions"`
	Abandonments       int     `json:"abandonments"`
	ConversionRate     float64 `json:"conversionRate"`
	AvgCheckoutSeconds float64 `json:"avgCheckoutSeconds"`
}

// Store persists and aggregates checkout events.
type Store interface {
	Insert(ctx context.Context, e *Event) error
	// ListBySession returns a session's events oldest first.
	ListBySession(ctx context.Context, merchantID, sessionID string) ([]*Event, error)
	// ListRecent returns a merchant's events since a cutoff, newest first.
	ListRecent(ctx context.Context, merchantID string, since time.Time, limit int) ([]*Event, error)
	// ListPage returns a merchant's events newest first, starting strictly
	// after the cursor position when one is given. Ordering ties on
	// CreatedAt break on ID descending so pages never skip or repeat.
	ListPage(ctx context.Context, merchantID string, cursor *pagination.Cursor, limit int) ([]*Event, error)
	// CountSince returns how many events a merchant ingested after the
	// cutoff, used for plan quota enforcement.
	CountSince(ctx context.Context, merchantID string, since time.Time) (int64, error)
	// DailyRevenue returns per-day completed revenue for the trailing
	// window, oldest first. Days with no revenue are omitted.
	DailyRevenue(ctx context.Context, merchantID string, days int) ([]DailyRevenue, error)
	// FunnelCounts returns, per funnel step, how many sessions viewed and
	// completed that step since the cutoff.
	FunnelCounts(ctx context.Context, merchantID string, since time.Time) (map[string]StepCounts, error)
	// ActiveSessionIDs returns sessions with activity after the cutoff and
	// no terminal (completed/abandoned) event yet.
	ActiveSessionIDs(ctx context.Context, merchantID string, since time.Time) ([]string, error)
	// EndedSessionIDs returns sessions that reached a terminal event,
	// most recently ended first.
	EndedSessionIDs(ctx context.Context, merchantID string, limit int) ([]string, error)
	// MerchantPriors aggregates account history for risk scoring.
	MerchantPriors(ctx context.Context, merchantID string) (*Priors, error)
}

// StepCounts tallies distinct sessions that viewed and completed one step.
type StepCounts struct {
	Viewed    int `json:"viewed"`
	Completed int `json:"completed"`
}

// Terminal reports whether the event ends its session.
func (e *Event) Terminal() bool {
	return e.Type == TypeCheckoutCompleted || e.Type == TypeCheckoutAbandoned
}
