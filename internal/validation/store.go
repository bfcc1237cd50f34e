package validation

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no result exists for the given ID.
var ErrNotFound = errors.New("validation result not found")

// Store persists validation results.
type Store interface {
	Save(ctx context.Context, result *Result) error
	Get(ctx context.Context, id string) (*Result, error)
	List(ctx context.Context, limit int) ([]*Result, error)
}
