package merchant

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
)

// PostgresStore persists merchants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed merchant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the merchants table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS merchants (
			id                     VARCHAR(40) PRIMARY KEY,
			name                   VARCHAR(200) NOT NULL,
			slug                   VARCHAR(64) NOT NULL UNIQUE,
			plan                   VARCHAR(16) NOT NULL,
			status                 VARCHAR(16) NOT NULL,
			stripe_customer_id     VARCHAR(64),
			stripe_subscription_id VARCHAR(64),
			settings               JSONB NOT NULL DEFAULT '{}',
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_merchants_stripe_customer
			ON merchants (stripe_customer_id) WHERE stripe_customer_id IS NOT NULL;
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, m *Merchant) error {
	settingsJSON, err := json.Marshal(m.Settings)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO merchants (id, name, slug, plan, status, stripe_customer_id, stripe_subscription_id, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)`,
		m.ID, m.Name, m.Slug, string(m.Plan), string(m.Status),
		m.StripeCustomerID, m.StripeSubscriptionID, settingsJSON, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrSlugTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Merchant, error) {
	return p.scanMerchant(p.db.QueryRowContext(ctx, `
		SELECT id, name, slug, plan, status, stripe_customer_id, stripe_subscription_id, settings, created_at, updated_at
		FROM merchants WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Merchant, error) {
	return p.scanMerchant(p.db.QueryRowContext(ctx, `
		SELECT id, name, slug, plan, status, stripe_customer_id, stripe_subscription_id, settings, created_at, updated_at
		FROM merchants WHERE slug = $1`, slug))
}

func (p *PostgresStore) GetByStripeCustomer(ctx context.Context, customerID string) (*Merchant, error) {
	return p.scanMerchant(p.db.QueryRowContext(ctx, `
		SELECT id, name, slug, plan, status, stripe_customer_id, stripe_subscription_id, settings, created_at, updated_at
		FROM merchants WHERE stripe_customer_id = $1`, customerID))
}

func (p *PostgresStore) Update(ctx context.Context, m *Merchant) error {
	settingsJSON, err := json.Marshal(m.Settings)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE merchants SET name = $1, plan = $2, status = $3,
			stripe_customer_id = NULLIF($4, ''), stripe_subscription_id = NULLIF($5, ''),
			settings = $6, updated_at = $7
		WHERE id = $8`,
		m.Name, string(m.Plan), string(m.Status),
		m.StripeCustomerID, m.StripeSubscriptionID, settingsJSON, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Merchant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, slug, plan, status, stripe_customer_id, stripe_subscription_id, settings, created_at, updated_at
		FROM merchants ORDER BY created_at ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Merchant
	for rows.Next() {
		m, err := p.scanMerchantRow(rows)
		if err != nil {
			continue
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) scanMerchant(row *sql.Row) (*Merchant, error) {
	m, err := p.scanMerchantRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

func (p *PostgresStore) scanMerchantRow(row rowScanner) (*Merchant, error) {
	var m Merchant
	var plan, status string
	var stripeCustomer, stripeSub sql.NullString
	var settingsJSON []byte

	if err := row.Scan(&m.ID, &m.Name, &m.Slug, &plan, &status,
		&stripeCustomer, &stripeSub, &settingsJSON, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}

	m.Plan = Plan(plan)
	m.Status = Status(status)
	m.StripeCustomerID = stripeCustomer.String
	m.StripeSubscriptionID = stripeSub.String
	_ = json.Unmarshal(settingsJSON, &m.Settings)
	return &m, nil
}
