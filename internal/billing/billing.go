// Package billing connects merchant plans to Stripe subscriptions.
//
// Paid plans are backed by a Stripe subscription; webhook events keep the
// local plan state in sync when payments fail or subscriptions end. The
// Stripe API is wrapped behind a small gateway interface so the service
// and handlers can be tested without network access.
package billing

import (
	"context"
	"errors"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/subscription"
)

// Errors
var (
	ErrNotConfigured = errors.New("billing: stripe is not configured")
	ErrNoPrice       = errors.New("billing: no price configured for plan")
)

// Gateway abstracts the Stripe operations the platform uses.
type Gateway interface {
	CreateCustomer(ctx context.Context, name, email string) (string, error)
	CreateSubscription(ctx context.Context, customerID, priceID string) (string, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// StripeGateway is the production Gateway backed by the Stripe API.
type StripeGateway struct{}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway configures the Stripe client with the given secret key.
func NewStripeGateway(secretKey string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(name),
		Email: stripe.String(email),
	}
	params.Context = ctx
	c, err := customer.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID, priceID string) (string, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
	}
	params.Context = ctx
	s, err := subscription.New(params)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := subscription.Cancel(subscriptionID, params)
	return err
}
