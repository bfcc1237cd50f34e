package vendors

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no profile matches the lookup.
var ErrNotFound = errors.New("vendor profile not found")

// Store persists vendor profiles. GetByName implements the fuzzy
// fallback itself (exact normalized match first, then the store's
// match strategy), so callers get the full name-resolution chain with
// one call.
type Store interface {
	Get(ctx context.Context, id string) (*Profile, error)
	GetByTaxID(ctx context.Context, kvk, vat string) (*Profile, error)
	GetByName(ctx context.Context, normalizedName string) (*Profile, error)
	Upsert(ctx context.Context, profile *Profile) (string, error)
	List(ctx context.Context, limit int) ([]*Profile, error)
	ListByCategory(ctx context.Context, category string) ([]*Profile, error)
	AggregateIndustryPriceRanges(ctx context.Context) (map[string]PriceBucket, error)
	Count(ctx context.Context) (int, error)
}

// mergeWeighted folds bucket b into acc as a sample-size-weighted merge.
func mergeWeighted(acc, b PriceBucket) PriceBucket {
	if acc.SampleSize == 0 {
		return b
	}
	if b.SampleSize == 0 {
		return acc
	}
	out := acc
	if b.Min < out.Min {
		out.Min = b.Min
	}
	if b.Max > out.Max {
		out.Max = b.Max
	}
	total := acc.SampleSize + b.SampleSize
	out.Average = (acc.Average*float64(acc.SampleSize) + b.Average*float64(b.SampleSize)) / float64(total)
	out.SampleSize = total
	return out
}
