// Package merchant provides multi-tenancy for the CartPulse platform.
//
// Each merchant is an online store sending checkout telemetry. Plans gate
// event volume, request rate, and access to abandonment-risk scoring.
package merchant

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound      = errors.New("merchant: not found")
	ErrSlugTaken     = errors.New("merchant: slug already taken")
	ErrQuotaExceeded = errors.New("merchant: monthly event quota exceeded")
)

// Status represents a merchant's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Plan identifies the pricing tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanGrowth     Plan = "growth"
	PlanEnterprise Plan = "enterprise"
)

// Settings stores configurable merchant limits.
type Settings struct {
	RateLimitRPM      int      `json:"rateLimitRpm"`
	MonthlyEventQuota int64    `json:"monthlyEventQuota"` // 0 = unlimited
	RiskScoring       bool     `json:"riskScoring"`       // abandonment-risk add-on
	AllowedOrigins    []string `json:"allowedOrigins,omitempty"`
	// StoreURL is the merchant's storefront, used for tracker verification.
	StoreURL string `json:"storeUrl,omitempty"`
}

// Merchant represents a store using the platform.
type Merchant struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Slug                 string    `json:"slug"`
	Plan                 Plan      `json:"plan"`
	Status               Status    `json:"status"`
	StripeCustomerID     string    `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId,omitempty"`
	Settings             Settings  `json:"settings"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Active reports whether the merchant may ingest events.
func (m *Merchant) Active() bool {
	return m.Status == StatusActive
}
