// Package storage provides persistence for refining history.
package storage

import (
	"time"

	"github.com/gateway-fm/refiner/pkg/types"
)

// Run is a persisted refining run. Wei amounts are decimal strings.
type Run struct {
	ID                 string              `json:"id"`
	StartedAt          time.Time           `json:"startedAt"`
	CompletedAt        *time.Time          `json:"completedAt,omitempty"`
	Status             types.RunStatus     `json:"status"`
	TokenID            string              `json:"tokenId"`
	Signer             string              `json:"signer"`
	Registry           string              `json:"registry"`
	TxCount            uint64              `json:"txCount"`
	IterationsPerTx    uint64              `json:"iterationsPerTx"`
	StartingIterations uint64              `json:"startingIterations"`
	GasPriceWei        string              `json:"gasPriceWei"`
	InitialBalanceWei  string              `json:"initialBalanceWei"`
	FinalBalanceWei    string              `json:"finalBalanceWei,omitempty"`
	TotalFeesWei       string              `json:"totalFeesWei,omitempty"`
	TxConfirmed        int                 `json:"txConfirmed"`
	TotalIterations    uint64              `json:"totalIterations"`
	DurationMs         int64               `json:"durationMs"`
	LatencyStats       *types.LatencyStats `json:"latencyStats,omitempty"`
	ErrorMessage       string              `json:"errorMessage,omitempty"`
	ErrorKind          string              `json:"errorKind,omitempty"`
}

// RunCompletion holds the final figures written when a run ends.
type RunCompletion struct {
	Status          types.RunStatus
	FinalBalanceWei string
	TotalFeesWei    string
	TxConfirmed     int
	TotalIterations uint64
	DurationMs      int64
	LatencyStats    *types.LatencyStats
	ErrorMessage    string
	ErrorKind       string
}

// PaginatedRuns represents a paginated list of runs.
type PaginatedRuns struct {
	Runs   []Run `json:"runs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// PaginatedTxRecords represents a paginated list of confirmed transactions.
type PaginatedTxRecords struct {
	Transactions []types.TxRecord `json:"transactions"`
	Total        int              `json:"total"`
	Limit        int              `json:"limit"`
	Offset       int              `json:"offset"`
}
