package boltx

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists predictions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed prediction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the predictions table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS predictions (
			id                VARCHAR(40) PRIMARY KEY,
			merchant_id       VARCHAR(40) NOT NULL,
			session_id        VARCHAR(64) NOT NULL,
			risk_score        NUMERIC(5,1) NOT NULL CHECK (risk_score >= 0 AND risk_score <= 100),
			risk_level        VARCHAR(10) NOT NULL CHECK (risk_level IN ('low', 'medium', 'high', 'critical')),
			confidence        NUMERIC(3,2) NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
			intervention_type VARCHAR(20),
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_predictions_session
			ON predictions (merchant_id, session_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_predictions_merchant
			ON predictions (merchant_id, created_at DESC);
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, p *StoredPrediction) error {
	var intervention sql.NullString
	if p.InterventionType != "" {
		intervention = sql.NullString{String: string(p.InterventionType), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO predictions (id, merchant_id, session_id, risk_score, risk_level, confidence, intervention_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		p.ID,
		p.MerchantID,
		p.SessionID,
		p.RiskScore,
		string(p.RiskLevel),
		p.Confidence,
		intervention,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record prediction: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, merchantID, sessionID string, limit int) ([]*StoredPrediction, error) {
	return s.list(ctx, `
		SELECT id, merchant_id, session_id, risk_score, risk_level, confidence, intervention_type, created_at
		FROM predictions
		WHERE merchant_id = $1 AND session_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, merchantID, sessionID, limit)
}

func (s *PostgresStore) ListRecent(ctx context.Context, merchantID string, limit int) ([]*StoredPrediction, error) {
	return s.list(ctx, `
		SELECT id, merchant_id, session_id, risk_score, risk_level, confidence, intervention_type, created_at
		FROM predictions
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, merchantID, limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*StoredPrediction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*StoredPrediction
	for rows.Next() {
		var p StoredPrediction
		var level string
		var intervention sql.NullString

		if err := rows.Scan(&p.ID, &p.MerchantID, &p.SessionID, &p.RiskScore, &level, &p.Confidence, &intervention, &p.CreatedAt); err != nil {
			continue
		}
		p.RiskLevel = RiskLevel(level)
		if intervention.Valid {
			p.InterventionType = InterventionType(intervention.String)
		}
		result = append(result, &p)
	}
	return result, rows.Err()
}
