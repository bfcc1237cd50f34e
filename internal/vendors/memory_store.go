package vendors

import (
	"context"
	"sync"

	"github.com/mvdveen/bouwdepot/internal/idgen"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile // id → profile
	matcher  MatchStrategy
}

// NewMemoryStore creates an in-memory vendor profile store using the
// given strategy for fuzzy name fallback.
func NewMemoryStore(matcher MatchStrategy) *MemoryStore {
	if matcher == nil {
		matcher = SubstringStrategy{}
	}
	return &MemoryStore{
		profiles: make(map[string]*Profile),
		matcher:  matcher,
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetByTaxID(ctx context.Context, kvk, vat string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if kvk != "" && p.KvKNumber == kvk {
			return p.Clone(), nil
		}
		if vat != "" && p.VATNumber == vat {
			return p.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetByName(ctx context.Context, normalizedName string) (*Profile, error) {
	if normalizedName == "" {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Exact match wins over any fuzzy hit
	for _, p := range s.profiles {
		if p.NormalizedName == normalizedName {
			return p.Clone(), nil
		}
	}
	for _, p := range s.profiles {
		if s.matcher.Match(p.NormalizedName, normalizedName) {
			return p.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Upsert(ctx context.Context, profile *Profile) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile.ID == "" {
		profile.ID = idgen.WithPrefix("ven_")
	}
	s.profiles[profile.ID] = profile.Clone()
	return profile.ID, nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *MemoryStore) ListByCategory(ctx context.Context, category string) ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Profile
	for _, p := range s.profiles {
		for _, c := range p.Categories {
			if c == category {
				out = append(out, p.Clone())
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) AggregateIndustryPriceRanges(ctx context.Context) (map[string]PriceBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]PriceBucket)
	for _, p := range s.profiles {
		for category, bucket := range p.Prices {
			out[category] = mergeWeighted(out[category], bucket)
		}
	}
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles), nil
}
