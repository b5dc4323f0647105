// Sentinel MCP Server - exposes the ledger API as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/sentinel/internal/mcpserver"
	"github.com/mbd888/sentinel/internal/validation"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:        envOrDefault("SENTINEL_API_URL", "http://localhost:8080"),
		CallerAddress: os.Getenv("SENTINEL_CALLER_ADDRESS"),
	}

	if cfg.CallerAddress == "" {
		fmt.Fprintln(os.Stderr, "SENTINEL_CALLER_ADDRESS is required")
		os.Exit(1)
	}
	if !validation.IsValidAddress(cfg.CallerAddress) {
		fmt.Fprintln(os.Stderr, "SENTINEL_CALLER_ADDRESS must be a 0x-prefixed 20-byte hex address")
		os.Exit(1)
	}
	cfg.CallerAddress = validation.NormalizeAddress(cfg.CallerAddress)

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
