// Package types contains public API types for the refiner status API.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// RunStatus represents the state of a refining run.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusAborted   RunStatus = "aborted" // Simulation failed before a submission
	StatusError     RunStatus = "error"   // Submission or confirmation failed
)

// EventType identifies a run event pushed over the websocket stream.
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventTxSubmitted EventType = "tx_submitted"
	EventTxConfirmed EventType = "tx_confirmed"
	EventRunFinished EventType = "run_finished"
	// EventSnapshot is sent once to each new websocket client.
	EventSnapshot EventType = "snapshot"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"` // ms
	Max     float64         `json:"max"` // ms
	Avg     float64         `json:"avg"` // ms
	P50     float64         `json:"p50"` // ms
	P75     float64         `json:"p75"` // ms
	P90     float64         `json:"p90"` // ms
	P95     float64         `json:"p95"` // ms
	P99     float64         `json:"p99"` // ms
	Buckets []LatencyBucket `json:"buckets"`
}

// TxRecord is one confirmed refine transaction.
// Wei amounts are decimal strings to keep full precision in JSON.
type TxRecord struct {
	Index                int       `json:"index"`
	Nonce                uint64    `json:"nonce"`
	Hash                 string    `json:"hash"`
	BlockNumber          uint64    `json:"blockNumber"`
	GasUsed              uint64    `json:"gasUsed"`
	CumulativeIterations uint64    `json:"cumulativeIterations"`
	FeeWei               string    `json:"feeWei"`
	BalanceWei           string    `json:"balanceWei"`
	LatencyMs            int64     `json:"latencyMs"`
	ConfirmedAt          time.Time `json:"confirmedAt"`
}

// RunSnapshot is the live view of the current (or last) run.
type RunSnapshot struct {
	RunID              string        `json:"runId,omitempty"`
	Status             RunStatus     `json:"status"`
	TokenID            string        `json:"tokenId,omitempty"`
	Signer             string        `json:"signer,omitempty"`
	Registry           string        `json:"registry,omitempty"`
	TxCount            uint64        `json:"txCount"`
	IterationsPerTx    uint64        `json:"iterationsPerTx"`
	StartingIterations uint64        `json:"startingIterations"`
	GasPriceWei        string        `json:"gasPriceWei,omitempty"`
	InitialBalanceWei  string        `json:"initialBalanceWei,omitempty"`
	CurrentBalanceWei  string        `json:"currentBalanceWei,omitempty"`
	NextNonce          uint64        `json:"nextNonce"`
	TxConfirmed        int           `json:"txConfirmed"`
	InFlightTx         string        `json:"inFlightTx,omitempty"`
	StartedAt          *time.Time    `json:"startedAt,omitempty"`
	CompletedAt        *time.Time    `json:"completedAt,omitempty"`
	Error              string        `json:"error,omitempty"`
	ErrorKind          string        `json:"errorKind,omitempty"`
	Records            []TxRecord    `json:"records,omitempty"`
	Latency            *LatencyStats `json:"latency,omitempty"`
}

// Event is a single message on the websocket stream.
type Event struct {
	Type     EventType    `json:"type"`
	RunID    string       `json:"runId"`
	Time     time.Time    `json:"time"`
	Record   *TxRecord    `json:"record,omitempty"`
	TxHash   string       `json:"txHash,omitempty"`
	Snapshot *RunSnapshot `json:"snapshot,omitempty"`
}
