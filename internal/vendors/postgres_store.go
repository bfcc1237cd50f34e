package vendors

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/mvdveen/bouwdepot/internal/idgen"
)

// PostgresStore persists vendor profiles in PostgreSQL. Identity
// columns are broken out for index lookups; the statistical maps and
// trust block live in JSONB.
type PostgresStore struct {
	db      *sql.DB
	matcher MatchStrategy
}

// NewPostgresStore creates a PostgreSQL-backed vendor profile store.
func NewPostgresStore(db *sql.DB, matcher MatchStrategy) *PostgresStore {
	if matcher == nil {
		matcher = SubstringStrategy{}
	}
	return &PostgresStore{db: db, matcher: matcher}
}

// Migrate creates the vendor_profiles table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vendor_profiles (
			id               VARCHAR(36) PRIMARY KEY,
			legal_name       TEXT NOT NULL,
			normalized_name  TEXT NOT NULL,
			kvk_number       VARCHAR(8),
			vat_number       VARCHAR(14),
			categories       TEXT[] NOT NULL DEFAULT '{}',
			invoice_count    INT NOT NULL DEFAULT 0,
			payload          JSONB NOT NULL,
			first_seen       TIMESTAMPTZ NOT NULL,
			last_updated     TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_vendor_profiles_kvk
			ON vendor_profiles (kvk_number) WHERE kvk_number IS NOT NULL AND kvk_number != '';

		CREATE INDEX IF NOT EXISTS idx_vendor_profiles_vat
			ON vendor_profiles (vat_number) WHERE vat_number IS NOT NULL AND vat_number != '';

		CREATE INDEX IF NOT EXISTS idx_vendor_profiles_name
			ON vendor_profiles (normalized_name);

		CREATE INDEX IF NOT EXISTS idx_vendor_profiles_categories
			ON vendor_profiles USING GIN (categories);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Profile, error) {
	return s.one(ctx, `SELECT payload FROM vendor_profiles WHERE id = $1`, id)
}

func (s *PostgresStore) GetByTaxID(ctx context.Context, kvk, vat string) (*Profile, error) {
	if kvk == "" && vat == "" {
		return nil, ErrNotFound
	}
	return s.one(ctx, `
		SELECT payload FROM vendor_profiles
		WHERE ($1 != '' AND kvk_number = $1) OR ($2 != '' AND vat_number = $2)
		LIMIT 1
	`, kvk, vat)
}

func (s *PostgresStore) GetByName(ctx context.Context, normalizedName string) (*Profile, error) {
	if normalizedName == "" {
		return nil, ErrNotFound
	}

	p, err := s.one(ctx, `SELECT payload FROM vendor_profiles WHERE normalized_name = $1 LIMIT 1`, normalizedName)
	if err == nil {
		return p, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	// Fuzzy fallback: the match strategy is Go code, so candidates are
	// scanned here rather than in SQL. Vendor counts are small enough
	// that this stays cheap.
	rows, err := s.db.QueryContext(ctx, `SELECT id, normalized_name FROM vendor_profiles`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vendor names: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			continue
		}
		if s.matcher.Match(name, normalizedName) {
			return s.Get(ctx, id)
		}
	}
	return nil, ErrNotFound
}

func (s *PostgresStore) Upsert(ctx context.Context, profile *Profile) (string, error) {
	if profile.ID == "" {
		profile.ID = idgen.WithPrefix("ven_")
	}

	payload, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("failed to marshal vendor profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vendor_profiles
			(id, legal_name, normalized_name, kvk_number, vat_number, categories, invoice_count, payload, first_seen, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			legal_name = EXCLUDED.legal_name,
			normalized_name = EXCLUDED.normalized_name,
			kvk_number = EXCLUDED.kvk_number,
			vat_number = EXCLUDED.vat_number,
			categories = EXCLUDED.categories,
			invoice_count = EXCLUDED.invoice_count,
			payload = EXCLUDED.payload,
			last_updated = EXCLUDED.last_updated
	`,
		profile.ID,
		profile.LegalName,
		profile.NormalizedName,
		profile.KvKNumber,
		profile.VATNumber,
		pq.Array(profile.Categories),
		profile.InvoiceCount,
		payload,
		profile.FirstSeen,
		profile.LastUpdated,
	)
	if err != nil {
		return "", fmt.Errorf("failed to upsert vendor profile: %w", err)
	}
	return profile.ID, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.many(ctx, `
		SELECT payload FROM vendor_profiles
		ORDER BY last_updated DESC
		LIMIT $1
	`, limit)
}

func (s *PostgresStore) ListByCategory(ctx context.Context, category string) ([]*Profile, error) {
	return s.many(ctx, `
		SELECT payload FROM vendor_profiles WHERE $1 = ANY(categories)
	`, category)
}

func (s *PostgresStore) AggregateIndustryPriceRanges(ctx context.Context) (map[string]PriceBucket, error) {
	profiles, err := s.many(ctx, `SELECT payload FROM vendor_profiles`)
	if err != nil {
		return nil, err
	}

	out := make(map[string]PriceBucket)
	for _, p := range profiles {
		for category, bucket := range p.Prices {
			out[category] = mergeWeighted(out[category], bucket)
		}
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vendor_profiles`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count vendor profiles: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) one(ctx context.Context, query string, args ...any) (*Profile, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vendor profile: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) many(ctx context.Context, query string, args ...any) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendor profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Profile
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var p Profile
		if err := json.Unmarshal(payload, &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}
