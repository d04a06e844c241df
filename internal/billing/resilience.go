package billing

import (
	"context"
	"errors"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v81"

	"github.com/cartpulse/cartpulse/internal/circuitbreaker"
	"github.com/cartpulse/cartpulse/internal/retry"
)

// ErrGatewayUnavailable is returned while the circuit to Stripe is open.
var ErrGatewayUnavailable = errors.New("billing: payment gateway unavailable")

const (
	breakerKey      = "stripe"
	maxAttempts     = 3
	baseRetryDelay  = 500 * time.Millisecond
	breakerTrips    = 5
	breakerCooldown = 30 * time.Second
)

// resilientGateway wraps a Gateway with retries and a circuit breaker so
// a Stripe outage degrades billing instead of piling up slow failures.
type resilientGateway struct {
	inner   Gateway
	breaker *circuitbreaker.Breaker
}

// NewResilientGateway wraps gw with exponential-backoff retries and a
// circuit breaker.
func NewResilientGateway(gw Gateway) Gateway {
	return &resilientGateway{
		inner:   gw,
		breaker: circuitbreaker.New(breakerTrips, breakerCooldown),
	}
}

func (g *resilientGateway) call(ctx context.Context, fn func() error) error {
	if !g.breaker.Allow(breakerKey) {
		return ErrGatewayUnavailable
	}
	err := retry.Do(ctx, maxAttempts, baseRetryDelay, func() error {
		return classify(fn())
	})
	if err != nil {
		g.breaker.RecordFailure(breakerKey)
		return err
	}
	g.breaker.RecordSuccess(breakerKey)
	return nil
}

// classify marks Stripe client errors (declined cards, bad params) as
// permanent; retrying those only repeats the rejection. Rate limits and
// 5xx stay retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 &&
			se.HTTPStatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
	}
	return err
}

func (g *resilientGateway) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	var id string
	err := g.call(ctx, func() error {
		var err error
		id, err = g.inner.CreateCustomer(ctx, name, email)
		return err
	})
	return id, err
}

func (g *resilientGateway) CreateSubscription(ctx context.Context, customerID, priceID string) (string, error) {
	var id string
	err := g.call(ctx, func() error {
		var err error
		id, err = g.inner.CreateSubscription(ctx, customerID, priceID)
		return err
	})
	return id, err
}

func (g *resilientGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return g.call(ctx, func() error {
		return g.inner.CancelSubscription(ctx, subscriptionID)
	})
}
