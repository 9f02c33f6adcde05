package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all refiner tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerRuns(s, client)
	registerRunDetail(s, client)
	registerRunTxs(s, client)
	registerDeleteRun(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("refiner_status",
		gomcp.WithDescription("Get the live refining run: state, confirmed txs, wallet balance, in-flight tx and confirmation latency."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Refiner unreachable: %v\n\nIs a run in progress with LISTEN_ADDR set?", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("refiner_health",
		gomcp.WithDescription("Quick health check for the refiner. Checks RPC node connectivity."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/ready")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Refiner unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerRuns(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("refiner_runs",
		gomcp.WithDescription("List past refining runs with summary figures (paginated, newest first)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		path := fmt.Sprintf("/v1/runs?limit=%d&offset=%d", limit, offset)

		raw, err := client.Get(ctx, path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Runs failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRuns(raw)), nil
	})
}

func registerRunDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("refiner_run_detail",
		gomcp.WithDescription("Get the results of a specific refining run by ID."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Get(ctx, "/v1/runs/"+url.PathEscape(id))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(raw)), nil
	})
}

func registerRunTxs(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("refiner_run_txs",
		gomcp.WithDescription("Get the confirmed transactions of a refining run (paginated)."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
		gomcp.WithNumber("limit",
			gomcp.Description("Max transactions to return (default: 50, max: 1000)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		limit := req.GetInt("limit", 50)
		offset := req.GetInt("offset", 0)
		path := fmt.Sprintf("/v1/runs/%s/transactions?limit=%d&offset=%d", url.PathEscape(id), limit, offset)

		raw, err := client.Get(ctx, path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run transactions failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunTxs(raw)), nil
	})
}

func registerDeleteRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("refiner_delete_run",
		gomcp.WithDescription("Delete a refining run and its transactions from history. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if _, err := client.Delete(ctx, "/v1/runs/"+url.PathEscape(id)); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Deleted"),
			kv("ID", id),
		)), nil
	})
}

// Response formatting functions

func formatStatus(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	status := getStr(m, "status")
	if status == "idle" {
		return joinLines(section("Refiner Status"), kv("Status", status))
	}

	lines := joinLines(
		section("Refiner Status"),
		kv("Status", status),
		kv("Run", getStr(m, "runId")),
		kv("BurntPix ID", getStr(m, "tokenId")),
		kv("Signer", getStr(m, "signer")),
		kv("Confirmed", fmt.Sprintf("%s / %s", formatNumber(getNum(m, "txConfirmed")), formatNumber(getNum(m, "txCount")))),
		kv("Iterations/tx", formatNumber(getNum(m, "iterationsPerTx"))),
		kv("Next nonce", formatNumber(getNum(m, "nextNonce"))),
		kv("Initial balance", formatWei(getStr(m, "initialBalanceWei"))),
		kv("Current balance", formatWei(getStr(m, "currentBalanceWei"))),
	)
	if inFlight := getStr(m, "inFlightTx"); inFlight != "" {
		lines += "\n" + kv("In flight", inFlight)
	}
	if errMsg := getStr(m, "error"); errMsg != "" {
		lines += "\n" + kv("Error", fmt.Sprintf("[%s] %s", getStr(m, "errorKind"), errMsg))
	}

	if lat, ok := m["latency"].(map[string]any); ok {
		lines += "\n\n" + formatLatency(lat)
	}

	return lines
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	lines := section("Refiner Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			if check, ok := c.(map[string]any); ok {
				line := fmt.Sprintf("  %-15s %s (%dms)", getStr(check, "name"), getStr(check, "status"), int64(getNum(check, "latency_ms")))
				if errMsg := getStr(check, "error"); errMsg != "" {
					line += " - " + errMsg
				}
				lines += "\n" + line
			}
		}
	}

	return lines
}

func formatRuns(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing runs: %v", err)
	}

	lines := joinLines(
		section("Refining History"),
		kv("Total Runs", formatNumber(getNum(m, "total"))),
	) + "\n\n"

	runs, ok := m["runs"].([]any)
	if !ok || len(runs) == 0 {
		return lines + "No runs found."
	}

	for _, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			continue
		}
		lines += fmt.Sprintf("### %s\n", getStr(run, "id"))
		lines += joinLines(
			kv("Status", getStr(run, "status")),
			kv("BurntPix ID", getStr(run, "tokenId")),
			kv("Confirmed", fmt.Sprintf("%s / %s", formatNumber(getNum(run, "txConfirmed")), formatNumber(getNum(run, "txCount")))),
			kv("Iterations", formatNumber(getNum(run, "totalIterations"))),
			kv("Started", formatTime(getStr(run, "startedAt"))),
		)
		lines += "\n\n"
	}

	return lines
}

func formatRunDetail(raw json.RawMessage) string {
	var run map[string]any
	if err := json.Unmarshal(raw, &run); err != nil {
		return fmt.Sprintf("Error parsing run: %v", err)
	}
	if getStr(run, "id") == "" {
		return "Run not found"
	}

	lines := joinLines(
		section("Run: "+getStr(run, "id")),
		kv("Status", getStr(run, "status")),
		kv("BurntPix ID", getStr(run, "tokenId")),
		kv("Signer", getStr(run, "signer")),
		kv("Registry", getStr(run, "registry")),
		kv("Started", formatTime(getStr(run, "startedAt"))),
		kv("Duration", fmt.Sprintf("%.1fs", getNum(run, "durationMs")/1000)),
		kv("Confirmed", fmt.Sprintf("%s / %s", formatNumber(getNum(run, "txConfirmed")), formatNumber(getNum(run, "txCount")))),
		kv("Iterations/tx", formatNumber(getNum(run, "iterationsPerTx"))),
		kv("Total iterations", formatNumber(getNum(run, "totalIterations"))),
		kv("Initial balance", formatWei(getStr(run, "initialBalanceWei"))),
		kv("Final balance", formatWei(getStr(run, "finalBalanceWei"))),
		kv("Total fees", formatWei(getStr(run, "totalFeesWei"))),
	)
	if errMsg := getStr(run, "errorMessage"); errMsg != "" {
		lines += "\n" + kv("Error", fmt.Sprintf("[%s] %s", getStr(run, "errorKind"), errMsg))
	}

	if lat, ok := run["latencyStats"].(map[string]any); ok {
		lines += "\n\n" + formatLatency(lat)
	}

	return lines
}

func formatRunTxs(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing transactions: %v", err)
	}

	lines := joinLines(
		section("Transactions"),
		kv("Total", formatNumber(getNum(m, "total"))),
	) + "\n\n"

	txs, ok := m["transactions"].([]any)
	if !ok || len(txs) == 0 {
		return lines + "No transactions found."
	}

	for i, t := range txs {
		if i >= 20 {
			lines += fmt.Sprintf("... and %d more\n", len(txs)-20)
			break
		}
		tx, ok := t.(map[string]any)
		if !ok {
			continue
		}
		lines += fmt.Sprintf("  [%d] %s  block=%d  gas=%s  iterations=%s  fee=%s\n",
			int64(getNum(tx, "index"))+1,
			shortHash(getStr(tx, "hash")),
			int64(getNum(tx, "blockNumber")),
			formatNumber(getNum(tx, "gasUsed")),
			formatNumber(getNum(tx, "cumulativeIterations")),
			formatWei(getStr(tx, "feeWei")),
		)
	}

	return lines
}

func formatLatency(lat map[string]any) string {
	return joinLines(
		section("Confirmation Latency"),
		kv("Min", formatMs(getNum(lat, "min"))),
		kv("Avg", formatMs(getNum(lat, "avg"))),
		kv("P50", formatMs(getNum(lat, "p50"))),
		kv("P95", formatMs(getNum(lat, "p95"))),
		kv("Max", formatMs(getNum(lat, "max"))),
	)
}

func formatTime(s string) string {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02 15:04:05")
}

// Helper functions
func getStr(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getNum(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if n, ok := v.(float64); ok {
			return n
		}
	}
	return 0
}
