package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all ledger tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("sentinel", "0.1.0")
	client := NewSentinelClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolDeposit, h.HandleDeposit)
	s.AddTool(ToolSecurePayment, h.HandleSecurePayment)
	s.AddTool(ToolCreateEscrow, h.HandleCreateEscrow)
	s.AddTool(ToolReleaseEscrow, h.HandleReleaseEscrow)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolGetFraudScore, h.HandleGetFraudScore)
	s.AddTool(ToolGetAccountStatus, h.HandleGetAccountStatus)
	s.AddTool(ToolGetSettings, h.HandleGetSettings)

	return s
}
