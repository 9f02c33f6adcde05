package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{float64(0), "0"},
		{float64(999), "999"},
		{float64(1000), "1,000"},
		{float64(1234567), "1,234,567"},
		{float64(-1234), "-1,234"},
		{float64(1.5), "1.5"},
		{uint64(100000), "100,000"},
		{"x", "x"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatWei(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "-"},
		{"1000000000000000000", "1.000000"},
		{"37800000000000", "0.000038"},
		{"not-a-number", "not-a-number"},
	}
	for _, tt := range tests {
		if got := formatWei(tt.in); got != tt.want {
			t.Errorf("formatWei(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	idle := formatStatus(json.RawMessage(`{"status":"idle"}`))
	if !strings.Contains(idle, "idle") || strings.Contains(idle, "Signer") {
		t.Errorf("idle status = %q", idle)
	}

	running := formatStatus(json.RawMessage(`{
		"status":"running","runId":"r1","txCount":100,"txConfirmed":42,
		"currentBalanceWei":"1500000000000000000","inFlightTx":"0xabc",
		"latency":{"count":42,"avg":2100,"p95":3000}
	}`))
	for _, want := range []string{"running", "42 / 100", "1.500000", "In flight", "0xabc", "Confirmation Latency", "3000.0ms"} {
		if !strings.Contains(running, want) {
			t.Errorf("formatStatus() missing %q\n%s", want, running)
		}
	}

	failed := formatStatus(json.RawMessage(`{"status":"aborted","error":"simulation failed","errorKind":"insufficient_funds"}`))
	if !strings.Contains(failed, "[insufficient_funds] simulation failed") {
		t.Errorf("formatStatus(aborted) = %q", failed)
	}
}

func TestFormatHealth(t *testing.T) {
	got := formatHealth(json.RawMessage(`{"ready":false,"checks":[{"name":"rpc","status":"failed","latency_ms":12,"error":"refused"}]}`))
	if !strings.Contains(got, "NOT READY") || !strings.Contains(got, "rpc") || !strings.Contains(got, "refused") {
		t.Errorf("formatHealth() = %q", got)
	}
}

func TestFormatRunsAndTxs(t *testing.T) {
	empty := formatRuns(json.RawMessage(`{"runs":[],"total":0}`))
	if !strings.Contains(empty, "No runs found.") {
		t.Errorf("formatRuns(empty) = %q", empty)
	}

	runs := formatRuns(json.RawMessage(`{"total":1,"runs":[{"id":"r1","status":"completed","txCount":2,"txConfirmed":2,"totalIterations":2000,"startedAt":"2026-01-02T03:04:05Z"}]}`))
	for _, want := range []string{"### r1", "completed", "2 / 2", "2,000", "2026-01-02 03:04:05"} {
		if !strings.Contains(runs, want) {
			t.Errorf("formatRuns() missing %q\n%s", want, runs)
		}
	}

	txs := formatRunTxs(json.RawMessage(`{"total":1,"transactions":[{"index":0,"hash":"0x00000000000000000000000000000000000000000000000000000000000000a0","blockNumber":7,"gasUsed":90000,"cumulativeIterations":1000,"feeWei":"37800000000000"}]}`))
	for _, want := range []string{"[1] 0x0000000000000000...", "block=7", "gas=90,000", "fee=0.000038"} {
		if !strings.Contains(txs, want) {
			t.Errorf("formatRunTxs() missing %q\n%s", want, txs)
		}
	}

	if got := formatRunDetail(json.RawMessage(`{}`)); got != "Run not found" {
		t.Errorf("formatRunDetail(empty) = %q", got)
	}
}

func TestClient(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.RequestURI()
		if r.URL.Path == "/missing" {
			http.Error(w, `{"error":"Run not found"}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	raw, err := c.Get(context.Background(), "/v1/runs?limit=5")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(raw) != `{"ok":true}` || gotMethod != http.MethodGet || gotPath != "/v1/runs?limit=5" {
		t.Errorf("Get() = %s via %s %s", raw, gotMethod, gotPath)
	}

	if _, err := c.Delete(context.Background(), "/v1/runs/r1"); err != nil || gotMethod != http.MethodDelete {
		t.Errorf("Delete() error = %v, method = %s", err, gotMethod)
	}

	_, err = c.Get(context.Background(), "/missing")
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("Get(missing) error = %v, want HTTP 404", err)
	}
}
