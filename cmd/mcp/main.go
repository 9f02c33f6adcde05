// Refiner MCP server.
// Exposes the refiner status API as tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/refiner/internal/mcp"
)

func main() {
	refinerURL := os.Getenv("REFINER_URL")
	if refinerURL == "" {
		refinerURL = "http://localhost:13001"
	}

	s := server.NewMCPServer(
		"refiner",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(refinerURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
