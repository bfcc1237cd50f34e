package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *APIClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *APIClient) *Handlers {
	return &Handlers{client: client}
}

// HandleValidateInvoice submits an invoice and summarizes the verdict.
func (h *Handlers) HandleValidateInvoice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := req.GetArguments()["invoice"]
	inv, ok := raw.(map[string]any)
	if !ok || len(inv) == 0 {
		return mcp.NewToolResultError("invoice is required and must be an object"), nil
	}

	result, err := h.client.SubmitInvoice(ctx, inv)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Validation failed: %v", err)), nil
	}

	text, err := formatValidation(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse validation result: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetValidation fetches a stored result plus its signature check.
func (h *Handlers) HandleGetValidation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("validation_id", "")
	if id == "" {
		return mcp.NewToolResultError("validation_id is required"), nil
	}

	result, err := h.client.GetValidation(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get validation: %v", err)), nil
	}

	text, err := formatValidation(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse validation result: %v", err)), nil
	}

	// The verify endpoint proves the stored record still matches its seal.
	if verifyRaw, err := h.client.VerifyValidation(ctx, id); err == nil {
		var verify struct {
			Signed    bool `json:"signed"`
			Authentic bool `json:"authentic"`
		}
		if json.Unmarshal(verifyRaw, &verify) == nil {
			switch {
			case verify.Authentic:
				text += "\nSignature: verified, record is authentic"
			case verify.Signed:
				text += "\nSignature: INVALID, record was modified after signing"
			default:
				text += "\nSignature: record was never signed"
			}
		}
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetVendorTrust returns the trust analysis for a vendor.
func (h *Handlers) HandleGetVendorTrust(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vendorID := req.GetString("vendor_id", "")
	if vendorID == "" {
		return mcp.NewToolResultError("vendor_id is required"), nil
	}

	raw, err := h.client.GetVendorTrust(ctx, vendorID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get vendor trust: %v", err)), nil
	}

	text, err := formatTrust(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trust analysis: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListVendorAnomalies lists the anomaly records on a vendor profile.
func (h *Handlers) HandleListVendorAnomalies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vendorID := req.GetString("vendor_id", "")
	if vendorID == "" {
		return mcp.NewToolResultError("vendor_id is required"), nil
	}
	unresolvedOnly := req.GetBool("unresolved_only", false)

	raw, err := h.client.ListVendorAnomalies(ctx, vendorID, unresolvedOnly)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list anomalies: %v", err)), nil
	}

	text, err := formatAnomalies(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse anomalies: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListVendors browses vendor profiles.
func (h *Handlers) HandleListVendors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := req.GetString("category", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListVendors(ctx, category, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list vendors: %v", err)), nil
	}

	text, err := formatVendorList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse vendors: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetIndustryPrices returns the aggregated industry price ranges.
func (h *Handlers) HandleGetIndustryPrices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetIndustryPrices(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get industry prices: %v", err)), nil
	}

	text, err := formatIndustryPrices(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse industry prices: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatters ---

func formatValidation(raw json.RawMessage) (string, error) {
	var result struct {
		ID                string   `json:"id"`
		VendorID          string   `json:"vendorId"`
		IsValid           bool     `json:"isValid"`
		ConfidenceScore   float64  `json:"confidenceScore"`
		ConfidenceFactors []string `json:"confidenceFactors"`
		PossibleTampering bool     `json:"possibleTampering"`
		Fraud             struct {
			RiskScore  int    `json:"riskScore"`
			RiskLevel  string `json:"riskLevel"`
			Indicators []struct {
				Category    string  `json:"category"`
				Description string  `json:"description"`
				Severity    float64 `json:"severity"`
			} `json:"indicators"`
		} `json:"fraud"`
		Issues []struct {
			Severity string `json:"severity"`
			Message  string `json:"message"`
		} `json:"issues"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", err
	}

	var sb strings.Builder
	verdict := "REJECTED"
	if result.IsValid {
		verdict = "APPROVED"
	}
	fmt.Fprintf(&sb, "Validation %s: %s\n", result.ID, verdict)
	fmt.Fprintf(&sb, "Confidence: %.2f\n", result.ConfidenceScore)
	if result.Fraud.RiskLevel != "" {
		fmt.Fprintf(&sb, "Fraud risk: %d/100 (%s)\n", result.Fraud.RiskScore, result.Fraud.RiskLevel)
	}
	if result.VendorID != "" {
		fmt.Fprintf(&sb, "Vendor: %s\n", result.VendorID)
	}
	if result.PossibleTampering {
		sb.WriteString("WARNING: document shows signs of tampering\n")
	}

	if len(result.Fraud.Indicators) > 0 {
		sb.WriteString("\nFraud indicators:\n")
		for _, ind := range result.Fraud.Indicators {
			fmt.Fprintf(&sb, "  - [%s] %s (severity %.2f)\n", ind.Category, ind.Description, ind.Severity)
		}
	}
	if len(result.Issues) > 0 {
		sb.WriteString("\nIssues:\n")
		for _, issue := range result.Issues {
			fmt.Fprintf(&sb, "  - [%s] %s\n", issue.Severity, issue.Message)
		}
	}
	if len(result.ConfidenceFactors) > 0 {
		sb.WriteString("\nConfidence factors:\n")
		for _, f := range result.ConfidenceFactors {
			fmt.Fprintf(&sb, "  - %s\n", f)
		}
	}
	return sb.String(), nil
}

func formatTrust(raw json.RawMessage) (string, error) {
	var resp struct {
		VendorID     string `json:"vendorId"`
		InvoiceCount int    `json:"invoiceCount"`
		Trust        struct {
			OverallScore float64  `json:"overallScore"`
			Factors      []string `json:"factors"`
		} `json:"trust"`
		Metrics struct {
			Reliability     float64 `json:"reliability"`
			PriceStability  float64 `json:"priceStability"`
			DocumentQuality float64 `json:"documentQuality"`
		} `json:"metrics"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Vendor %s trust analysis:\n", resp.VendorID)
	fmt.Fprintf(&sb, "  Overall score: %.2f\n", resp.Trust.OverallScore)
	fmt.Fprintf(&sb, "  Invoices on record: %d\n", resp.InvoiceCount)
	fmt.Fprintf(&sb, "  Reliability: %.2f | Price stability: %.2f | Document quality: %.2f\n",
		resp.Metrics.Reliability, resp.Metrics.PriceStability, resp.Metrics.DocumentQuality)
	if len(resp.Trust.Factors) > 0 {
		sb.WriteString("\nFactors:\n")
		for _, f := range resp.Trust.Factors {
			fmt.Fprintf(&sb, "  - %s\n", f)
		}
	}
	return sb.String(), nil
}

func formatAnomalies(raw json.RawMessage) (string, error) {
	var resp struct {
		VendorID  string `json:"vendorId"`
		Anomalies []struct {
			Type        string  `json:"type"`
			Description string  `json:"description"`
			Severity    float64 `json:"severity"`
			Resolved    bool    `json:"resolved"`
		} `json:"anomalies"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Anomalies) == 0 {
		return fmt.Sprintf("No anomalies recorded for vendor %s.", resp.VendorID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Vendor %s has %d anomaly record(s):\n\n", resp.VendorID, len(resp.Anomalies))
	for i, a := range resp.Anomalies {
		status := "open"
		if a.Resolved {
			status = "resolved"
		}
		fmt.Fprintf(&sb, "%d. %s (severity %.2f, %s)\n", i+1, a.Type, a.Severity, status)
		fmt.Fprintf(&sb, "   %s\n", a.Description)
	}
	return sb.String(), nil
}

func formatVendorList(raw json.RawMessage) (string, error) {
	var resp struct {
		Vendors []struct {
			ID           string   `json:"id"`
			LegalName    string   `json:"legalName"`
			KvKNumber    string   `json:"kvkNumber"`
			Categories   []string `json:"categories"`
			InvoiceCount int      `json:"invoiceCount"`
			Trust        struct {
				Reliability float64 `json:"reliability"`
			} `json:"trust"`
		} `json:"vendors"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Vendors) == 0 {
		return "No vendor profiles found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d vendor(s) (%d total):\n\n", len(resp.Vendors), resp.Total)
	for i, v := range resp.Vendors {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, v.LegalName, v.ID)
		if v.KvKNumber != "" {
			fmt.Fprintf(&sb, "   KvK: %s\n", v.KvKNumber)
		}
		if len(v.Categories) > 0 {
			fmt.Fprintf(&sb, "   Categories: %s\n", strings.Join(v.Categories, ", "))
		}
		fmt.Fprintf(&sb, "   Invoices: %d | Reliability: %.2f\n", v.InvoiceCount, v.Trust.Reliability)
	}
	return sb.String(), nil
}

func formatIndustryPrices(raw json.RawMessage) (string, error) {
	var resp struct {
		Categories map[string]struct {
			Min        float64 `json:"min"`
			Max        float64 `json:"max"`
			Average    float64 `json:"average"`
			SampleSize int     `json:"sampleSize"`
		} `json:"categories"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Categories) == 0 {
		return "No industry price data available yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Industry price ranges (%d categories):\n\n", len(resp.Categories))
	for category, bucket := range resp.Categories {
		fmt.Fprintf(&sb, "%s: EUR %.2f - %.2f (avg %.2f, %d samples)\n",
			category, bucket.Min, bucket.Max, bucket.Average, bucket.SampleSize)
	}
	return sb.String(), nil
}
