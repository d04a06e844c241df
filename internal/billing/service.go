package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/cartpulse/cartpulse/internal/merchant"
	"github.com/cartpulse/cartpulse/internal/traces"
)

// Service manages the subscription lifecycle for merchants.
type Service struct {
	gateway   Gateway
	merchants merchant.Store
	prices    map[merchant.Plan]string // plan → Stripe price ID
}

// NewService creates a billing service. A nil gateway disables billing;
// every call then returns ErrNotConfigured.
func NewService(gateway Gateway, merchants merchant.Store, prices map[merchant.Plan]string) *Service {
	return &Service{gateway: gateway, merchants: merchants, prices: prices}
}

// Enabled reports whether Stripe is configured.
func (s *Service) Enabled() bool { return s.gateway != nil }

// Subscribe moves a merchant onto a paid plan, creating the Stripe
// customer on first use.
func (s *Service) Subscribe(ctx context.Context, merchantID string, plan merchant.Plan, email string) (*merchant.Merchant, error) {
	if s.gateway == nil {
		return nil, ErrNotConfigured
	}
	priceID, ok := s.prices[plan]
	if !ok || priceID == "" {
		return nil, ErrNoPrice
	}

	ctx, span := traces.StartSpan(ctx, "billing.subscribe",
		traces.MerchantID(merchantID), traces.Plan(string(plan)))
	defer span.End()

	m, err := s.merchants.Get(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	if m.StripeCustomerID == "" {
		customerID, err := s.gateway.CreateCustomer(ctx, m.Name, email)
		if err != nil {
			return nil, fmt.Errorf("create stripe customer: %w", err)
		}
		m.StripeCustomerID = customerID
	}

	// Replace any existing subscription; Stripe prorates the old one.
	if m.StripeSubscriptionID != "" {
		if err := s.gateway.CancelSubscription(ctx, m.StripeSubscriptionID); err != nil {
			return nil, fmt.Errorf("cancel previous subscription: %w", err)
		}
	}

	subID, err := s.gateway.CreateSubscription(ctx, m.StripeCustomerID, priceID)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	m.StripeSubscriptionID = subID
	m.Plan = plan
	m.Settings = merchant.DefaultSettingsForPlan(plan)
	m.UpdatedAt = time.Now()
	if err := s.merchants.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Cancel ends a merchant's paid subscription and drops them to the free
// plan.
func (s *Service) Cancel(ctx context.Context, merchantID string) (*merchant.Merchant, error) {
	if s.gateway == nil {
		return nil, ErrNotConfigured
	}

	m, err := s.merchants.Get(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	if m.StripeSubscriptionID != "" {
		if err := s.gateway.CancelSubscription(ctx, m.StripeSubscriptionID); err != nil {
			return nil, fmt.Errorf("cancel subscription: %w", err)
		}
	}

	return s.downgrade(ctx, m)
}

// HandleSubscriptionEnded syncs local state when Stripe reports a
// subscription gone, keyed by the Stripe customer.
func (s *Service) HandleSubscriptionEnded(ctx context.Context, stripeCustomerID string) error {
	m, err := s.merchants.GetByStripeCustomer(ctx, stripeCustomerID)
	if err != nil {
		return err
	}
	_, err = s.downgrade(ctx, m)
	return err
}

// HandlePaymentFailed suspends a merchant whose payment failed. Suspended
// merchants stop ingesting until payment recovers.
func (s *Service) HandlePaymentFailed(ctx context.Context, stripeCustomerID string) error {
	m, err := s.merchants.GetByStripeCustomer(ctx, stripeCustomerID)
	if err != nil {
		return err
	}
	m.Status = merchant.StatusSuspended
	m.UpdatedAt = time.Now()
	return s.merchants.Update(ctx, m)
}

// HandlePaymentRecovered reactivates a suspended merchant.
func (s *Service) HandlePaymentRecovered(ctx context.Context, stripeCustomerID string) error {
	m, err := s.merchants.GetByStripeCustomer(ctx, stripeCustomerID)
	if err != nil {
		return err
	}
	if m.Status != merchant.StatusSuspended {
		return nil
	}
	m.Status = merchant.StatusActive
	m.UpdatedAt = time.Now()
	return s.merchants.Update(ctx, m)
}

func (s *Service) downgrade(ctx context.Context, m *merchant.Merchant) (*merchant.Merchant, error) {
	m.StripeSubscriptionID = ""
	m.Plan = merchant.PlanFree
	m.Settings = merchant.DefaultSettingsForPlan(merchant.PlanFree)
	m.Status = merchant.StatusActive
	m.UpdatedAt = time.Now()
	if err := s.merchants.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}
