// Package mcpserver exposes the GuardianShield API as MCP tools so an
// assistant can check a payment before the user sends it.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is the MCP server version reported to clients.
const Version = "2.0.0"

// NewMCPServer creates a configured MCP server with all GuardianShield tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("guardianshield", Version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolEvaluateTransaction, h.HandleEvaluateTransaction)
	s.AddTool(ToolGetBaseline, h.HandleGetBaseline)
	s.AddTool(ToolCheckMerchant, h.HandleCheckMerchant)
	s.AddTool(ToolRecentTransactions, h.HandleRecentTransactions)
	s.AddTool(ToolGetFraudStats, h.HandleGetFraudStats)

	return s
}
