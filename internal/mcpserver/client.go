package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the validation API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Optional bearer token when the API sits behind a gateway
}

// APIClient is a pure HTTP client for the validation API.
type APIClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewAPIClient creates a new client for the validation API.
func NewAPIClient(cfg Config) *APIClient {
	return &APIClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *APIClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// SubmitInvoice submits a pre-extracted invoice for validation.
func (c *APIClient) SubmitInvoice(ctx context.Context, invoice map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/validations", nil, invoice)
}

// GetValidation fetches a stored validation result.
func (c *APIClient) GetValidation(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/validations/"+url.PathEscape(id), nil, nil)
}

// VerifyValidation re-checks the signature on a stored result.
func (c *APIClient) VerifyValidation(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/validations/"+url.PathEscape(id)+"/verify", nil, nil)
}

// GetVendorTrust fetches the trust analysis for a vendor.
func (c *APIClient) GetVendorTrust(ctx context.Context, vendorID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/vendors/"+url.PathEscape(vendorID)+"/trust", nil, nil)
}

// ListVendorAnomalies fetches the anomaly records on a vendor profile.
func (c *APIClient) ListVendorAnomalies(ctx context.Context, vendorID string, unresolvedOnly bool) (json.RawMessage, error) {
	var q url.Values
	if unresolvedOnly {
		q = url.Values{"unresolved": {"true"}}
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/vendors/"+url.PathEscape(vendorID)+"/anomalies", q, nil)
}

// ListVendors fetches vendor profiles, optionally filtered by category.
func (c *APIClient) ListVendors(ctx context.Context, category string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/vendors", q, nil)
}

// GetIndustryPrices fetches the aggregated industry price ranges.
func (c *APIClient) GetIndustryPrices(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/industry/prices", nil, nil)
}
