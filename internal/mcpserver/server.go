package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all validation tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("bouwdepot", "1.0.0")
	client := NewAPIClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolValidateInvoice, h.HandleValidateInvoice)
	s.AddTool(ToolGetValidation, h.HandleGetValidation)
	s.AddTool(ToolGetVendorTrust, h.HandleGetVendorTrust)
	s.AddTool(ToolListVendorAnomalies, h.HandleListVendorAnomalies)
	s.AddTool(ToolListVendors, h.HandleListVendors)
	s.AddTool(ToolGetIndustryPrices, h.HandleGetIndustryPrices)

	return s
}
