// Package oracle is the client for the external decision service that
// judges whether an invoice is a legitimate home-improvement expense.
// The service is a black box; this package only handles transport:
// bounded timeouts, capped retries, and a circuit breaker. On failure
// the caller receives an undetermined judgment rather than an error
// path that would sink the whole validation.
package oracle

import (
	"context"
	"errors"
)

// Judgment is the oracle's verdict on one invoice.
type Judgment struct {
	IsHomeImprovement bool     `json:"isHomeImprovement"`
	Confidence        float64  `json:"confidence"` // 0.0-1.0
	FraudIndicators   []string `json:"fraudIndicators,omitempty"`
	Reasoning         string   `json:"reasoning,omitempty"`

	// Undetermined marks a degraded verdict produced locally because
	// the oracle could not be reached. Never set by the service.
	Undetermined bool `json:"undetermined,omitempty"`
}

// ErrUnavailable is returned by transports when the oracle cannot be
// reached; the client converts it into an undetermined judgment.
var ErrUnavailable = errors.New("decision oracle unavailable")

// Client obtains judgments for submitted invoices.
type Client interface {
	Judge(ctx context.Context, sub *Submission) (*Judgment, error)
}

// Submission is the request sent to the oracle.
type Submission struct {
	Invoice    any      `json:"invoice"`
	PageImages [][]byte `json:"pageImages,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// Undetermined builds the degraded judgment used when the oracle is
// unreachable: not a rejection, just no external signal.
func Undetermined(reason string) *Judgment {
	return &Judgment{
		IsHomeImprovement: false,
		Confidence:        0,
		Reasoning:         reason,
		Undetermined:      true,
	}
}

// Static is a fixed-verdict client for tests and demo mode.
type Static struct {
	Judgment *Judgment
	Err      error
}

func (s *Static) Judge(ctx context.Context, sub *Submission) (*Judgment, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Judgment == nil {
		return Undetermined("no oracle configured"), nil
	}
	return s.Judgment, nil
}
