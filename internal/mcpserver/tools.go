package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the bouwdepot MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolValidateInvoice = mcp.NewTool("validate_invoice",
	mcp.WithDescription(
		"Submit a construction invoice for bouwdepot validation. "+
			"Runs the full pipeline: tampering check, extraction, vendor profile lookup, "+
			"home-improvement judgment, disbursement rules, price checks and anomaly detection. "+
			"Returns the validation verdict with fraud risk score and audit trail."),
	mcp.WithObject("invoice",
		mcp.Required(),
		mcp.Description("Structured invoice: {\"invoiceNumber\": \"2026-001\", \"vendor\": {\"name\": \"...\", \"kvkNumber\": \"...\"}, \"lineItems\": [{\"description\": \"...\", \"quantity\": 1, \"totalPrice\": 100.0}], \"totalAmount\": 121.0}")),
)

var ToolGetValidation = mcp.NewTool("get_validation",
	mcp.WithDescription(
		"Retrieve a stored validation result by its ID, including the signature "+
			"check proving the record was not modified after signing."),
	mcp.WithString("validation_id",
		mcp.Required(),
		mcp.Description("The validation ID from a previous validate_invoice result (e.g. 'val_a1b2...')")),
)

var ToolGetVendorTrust = mcp.NewTool("get_vendor_trust",
	mcp.WithDescription(
		"Get the trust analysis for a vendor: overall trust score, the reliability, "+
			"price stability and document quality metrics it blends, and the factors "+
			"behind the score. New vendors report a neutral score with limited history."),
	mcp.WithString("vendor_id",
		mcp.Required(),
		mcp.Description("The vendor profile ID (e.g. 'ven_a1b2...')")),
)

var ToolListVendorAnomalies = mcp.NewTool("list_vendor_anomalies",
	mcp.WithDescription(
		"List the anomaly records on a vendor profile: missing registration, "+
			"suspicious prices, new bank accounts, unusual services and so on. "+
			"Each record carries a severity between 0 and 1."),
	mcp.WithString("vendor_id",
		mcp.Required(),
		mcp.Description("The vendor profile ID (e.g. 'ven_a1b2...')")),
	mcp.WithBoolean("unresolved_only",
		mcp.Description("Only return anomalies that have not been resolved yet")),
)

var ToolListVendors = mcp.NewTool("list_vendors",
	mcp.WithDescription(
		"Browse known vendor profiles, most recently updated first. "+
			"Optionally filter by work category (e.g. 'badkamer', 'verwarming')."),
	mcp.WithString("category",
		mcp.Description("Filter vendors by work category")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of vendors to return (default 20)")),
)

var ToolGetIndustryPrices = mcp.NewTool("get_industry_prices",
	mcp.WithDescription(
		"Get industry-wide price ranges per work category, aggregated across all "+
			"vendor profiles and weighted by sample size. Used as the fallback "+
			"reference when a vendor has no price history of its own."),
)
