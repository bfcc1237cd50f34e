package validation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists validation results in PostgreSQL. The full
// result is stored as a JSONB payload with a few columns broken out
// for querying; the signature covers the payload, so round-tripping
// through JSON keeps it verifiable.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed validation result store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the validation_results table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS validation_results (
			id          VARCHAR(36) PRIMARY KEY,
			vendor_id   VARCHAR(64),
			is_valid    BOOLEAN NOT NULL,
			risk_score  INT NOT NULL DEFAULT 0 CHECK (risk_score >= 0 AND risk_score <= 100),
			payload     JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_validation_results_vendor
			ON validation_results (vendor_id, created_at DESC);
	`)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, result *Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal validation result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO validation_results (id, vendor_id, is_valid, risk_score, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			vendor_id = EXCLUDED.vendor_id,
			is_valid = EXCLUDED.is_valid,
			risk_score = EXCLUDED.risk_score,
			payload = EXCLUDED.payload
	`,
		result.ID,
		result.VendorID,
		result.IsValid,
		result.Fraud.RiskScore,
		payload,
		result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save validation result: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Result, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM validation_results WHERE id = $1
	`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get validation result: %w", err)
	}

	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal validation result: %w", err)
	}
	return &result, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM validation_results
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Result
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var result Result
		if err := json.Unmarshal(payload, &result); err != nil {
			continue
		}
		out = append(out, &result)
	}
	return out, nil
}
