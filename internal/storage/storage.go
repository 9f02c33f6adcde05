package storage

import (
	"context"

	"github.com/gateway-fm/refiner/pkg/types"
)

// Storage defines the persistence interface for refining history.
type Storage interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *Run) error
	AppendTxRecord(ctx context.Context, runID string, rec types.TxRecord) error
	CompleteRun(ctx context.Context, id string, done *RunCompletion) error

	// History queries
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error)
	DeleteRun(ctx context.Context, id string) error
	GetTxRecords(ctx context.Context, runID string, limit, offset int) (*PaginatedTxRecords, error)
	GetTxRecordByHash(ctx context.Context, txHash string) (*types.TxRecord, error)

	// Lifecycle
	Close() error
}
