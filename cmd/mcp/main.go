// GuardianShield MCP Server - exposes fraud checks as MCP tools for LLMs
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/guardianshield/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("GUARDIANSHIELD_API_URL", "http://localhost:8000"),
	}
	if raw := os.Getenv("GUARDIANSHIELD_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid GUARDIANSHIELD_TIMEOUT %q: %v\n", raw, err)
			os.Exit(1)
		}
		cfg.Timeout = d
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
