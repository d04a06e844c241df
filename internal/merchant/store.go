package merchant

import "context"

// Store persists merchant data.
type Store interface {
	Create(ctx context.Context, m *Merchant) error
	Get(ctx context.Context, id string) (*Merchant, error)
	GetBySlug(ctx context.Context, slug string) (*Merchant, error)
	GetByStripeCustomer(ctx context.Context, customerID string) (*Merchant, error)
	Update(ctx context.Context, m *Merchant) error
	List(ctx context.Context, limit, offset int) ([]*Merchant, error)
}
