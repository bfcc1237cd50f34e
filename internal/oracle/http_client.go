package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mvdveen/bouwdepot/internal/circuitbreaker"
	"github.com/mvdveen/bouwdepot/internal/metrics"
	"github.com/mvdveen/bouwdepot/internal/retry"
)

const breakerKey = "oracle"

// HTTPClient talks to the decision oracle over HTTP. Transient
// failures are retried with exponential backoff; repeated failures
// open a circuit breaker so a dead oracle fails fast instead of
// stalling every validation for the full timeout.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	breaker     *circuitbreaker.Breaker
	maxAttempts int
	logger      *slog.Logger
}

// NewHTTPClient creates an oracle client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, maxAttempts int) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &HTTPClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: timeout},
		breaker:     circuitbreaker.New(5, 30*time.Second),
		maxAttempts: maxAttempts,
		logger:      slog.Default().With("component", "oracle"),
	}
}

// Judge submits the invoice and returns the oracle's verdict. When the
// oracle is unreachable or the breaker is open, an undetermined
// judgment is returned instead of an error: validation continues on
// the rule-based path alone.
func (c *HTTPClient) Judge(ctx context.Context, sub *Submission) (*Judgment, error) {
	if !c.breaker.Allow(breakerKey) {
		metrics.OracleRequestsTotal.WithLabelValues("breaker_open").Inc()
		c.logger.Warn("oracle circuit open, degrading to undetermined")
		return Undetermined("decision oracle temporarily unavailable"), nil
	}

	var judgment *Judgment
	err := retry.Do(ctx, c.maxAttempts, 500*time.Millisecond, func() error {
		j, err := c.submit(ctx, sub)
		if err != nil {
			return err
		}
		judgment = j
		return nil
	})
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		metrics.OracleRequestsTotal.WithLabelValues("error").Inc()
		c.logger.Error("oracle request failed", "error", err)
		return Undetermined(fmt.Sprintf("decision oracle unreachable: %v", err)), nil
	}

	c.breaker.RecordSuccess(breakerKey)
	metrics.OracleRequestsTotal.WithLabelValues("ok").Inc()
	return judgment, nil
}

func (c *HTTPClient) submit(ctx context.Context, sub *Submission) (*Judgment, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to marshal submission: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/judge", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		// Transient: retry
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	default:
		// Client error: retrying won't help
		return nil, retry.Permanent(fmt.Errorf("oracle rejected request with status %d", resp.StatusCode))
	}

	var judgment Judgment
	if err := json.NewDecoder(resp.Body).Decode(&judgment); err != nil {
		return nil, fmt.Errorf("failed to decode oracle response: %w", err)
	}
	if judgment.Confidence < 0 || judgment.Confidence > 1 {
		return nil, retry.Permanent(fmt.Errorf("oracle returned confidence %f outside [0,1]", judgment.Confidence))
	}
	return &judgment, nil
}
