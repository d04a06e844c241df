package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cartpulse/cartpulse/internal/pagination"
)

// PostgresStore persists checkout events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the events table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id            VARCHAR(40) PRIMARY KEY,
			merchant_id   VARCHAR(40) NOT NULL,
			session_id    VARCHAR(64) NOT NULL,
			type          VARCHAR(24) NOT NULL,
			step          VARCHAR(16),
			revenue_cents BIGINT NOT NULL DEFAULT 0,
			device_type   VARCHAR(24),
			location      VARCHAR(64),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_events_session
			ON events (merchant_id, session_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_events_merchant_time
			ON events (merchant_id, created_at DESC);
	`)
	return err
}

func (s *PostgresStore) Insert(ctx context.Context, e *Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, merchant_id, session_id, type, step, revenue_cents, device_type, location, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), $9)
	`,
		e.ID, e.MerchantID, e.SessionID, e.Type, e.Step, e.RevenueCents, e.DeviceType, e.Location, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, merchantID, sessionID string) ([]*Event, error) {
	return s.list(ctx, `
		SELECT id, merchant_id, session_id, type, step, revenue_cents, device_type, location, created_at
		FROM events
		WHERE merchant_id = $1 AND session_id = $2
		ORDER BY created_at ASC
	`, merchantID, sessionID)
}

func (s *PostgresStore) ListRecent(ctx context.Context, merchantID string, since time.Time, limit int) ([]*Event, error) {
	return s.list(ctx, `
		SELECT id, merchant_id, session_id, type, step, revenue_cents, device_type, location, created_at
		FROM events
		WHERE merchant_id = $1 AND created_at > $2
		ORDER BY created_at DESC
		LIMIT $3
	`, merchantID, since, limit)
}

func (s *PostgresStore) ListPage(ctx context.Context, merchantID string, cursor *pagination.Cursor, limit int) ([]*Event, error) {
	if cursor == nil {
		return s.list(ctx, `
			SELECT id, merchant_id, session_id, type, step, revenue_cents, device_type, location, created_at
			FROM events
			WHERE merchant_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, merchantID, limit)
	}
	return s.list(ctx, `
		SELECT id, merchant_id, session_id, type, step, revenue_cents, device_type, location, created_at
		FROM events
		WHERE merchant_id = $1 AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, merchantID, cursor.CreatedAt, cursor.ID, limit)
}

func (s *PostgresStore) CountSince(ctx context.Context, merchantID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE merchant_id = $1 AND created_at > $2
	`, merchantID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DailyRevenue(ctx context.Context, merchantID string, days int) ([]DailyRevenue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DATE(created_at AT TIME ZONE 'UTC') AS day, SUM(revenue_cents)
		FROM events
		WHERE merchant_id = $1
		  AND type = 'checkout_completed'
		  AND created_at > NOW() - ($2 || ' days')::INTERVAL
		GROUP BY day
		ORDER BY day ASC
	`, merchantID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily revenue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []DailyRevenue
	for rows.Next() {
		var d DailyRevenue
		if err := rows.Scan(&d.Date, &d.RevenueCents); err != nil {
			continue
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *PostgresStore) FunnelCounts(ctx context.Context, merchantID string, since time.Time) (map[string]StepCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, type, COUNT(DISTINCT session_id)
		FROM events
		WHERE merchant_id = $1
		  AND created_at > $2
		  AND step IS NOT NULL
		  AND type IN ('step_viewed', 'step_completed')
		GROUP BY step, type
	`, merchantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query funnel counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]StepCounts)
	for rows.Next() {
		var step, typ string
		var n int
		if err := rows.Scan(&step, &typ, &n); err != nil {
			continue
		}
		c := result[step]
		switch typ {
		case TypeStepViewed:
			c.Viewed = n
		case TypeStepCompleted:
			c.Completed = n
		}
		result[step] = c
	}
	return result, rows.Err()
}

func (s *PostgresStore) ActiveSessionIDs(ctx context.Context, merchantID string, since time.Time) ([]string, error) {
	return s.listIDs(ctx, `
		SELECT session_id
		FROM events
		WHERE merchant_id = $1
		GROUP BY session_id
		HAVING MAX(created_at) > $2
		   AND COUNT(*) FILTER (WHERE type IN ('checkout_completed', 'checkout_abandoned')) = 0
		ORDER BY MAX(created_at) DESC
	`, merchantID, since)
}

func (s *PostgresStore) EndedSessionIDs(ctx context.Context, merchantID string, limit int) ([]string, error) {
	return s.listIDs(ctx, `
		SELECT session_id
		FROM events
		WHERE merchant_id = $1 AND type IN ('checkout_completed', 'checkout_abandoned')
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC
		LIMIT $2
	`, merchantID, limit)
}

func (s *PostgresStore) MerchantPriors(ctx context.Context, merchantID string) (*Priors, error) {
	var p Priors
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		WITH sessions AS (
			SELECT session_id,
			       MIN(created_at) AS started_at,
			       MAX(created_at) FILTER (WHERE type = 'checkout_completed') AS completed_at,
			       COUNT(*) FILTER (WHERE type = 'checkout_abandoned') AS abandoned
			FROM events
			WHERE merchant_id = $1
			GROUP BY session_id
		)
		SELECT COUNT(*) FILTER (WHERE completed_at IS NOT NULL),
		       COUNT(*) FILTER (WHERE abandoned > 0),
		       AVG(EXTRACT(EPOCH FROM completed_at - started_at))
		FROM sessions
	`, merchantID).Scan(&p.Completions, &p.Abandonments, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchant priors: %w", err)
	}
	if avg.Valid {
		p.AvgCheckoutSeconds = avg.Float64
	}
	if total := p.Completions + p.Abandonments; total > 0 {
		p.ConversionRate = float64(p.Completions) / float64(total)
	}
	return &p, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		var e Event
		var step, device, location sql.NullString
		if err := rows.Scan(&e.ID, &e.MerchantID, &e.SessionID, &e.Type, &step, &e.RevenueCents, &device, &location, &e.CreatedAt); err != nil {
			continue
		}
		e.Step = step.String
		e.DeviceType = device.String
		e.Location = location.String
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (s *PostgresStore) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list session ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		result = append(result, id)
	}
	return result, rows.Err()
}
