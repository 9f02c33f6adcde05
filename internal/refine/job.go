// Package refine drives a sequential batch of refine transactions
// against the BurntPix registry.
package refine

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Job is an immutable description of one refining run.
type Job struct {
	TokenID         common.Hash
	Registry        common.Address
	TxCount         uint64
	IterationsPerTx uint64
	GasPrice        *big.Int // wei
	GasLimit        uint64
	Simulate        bool
}

// Validate checks the job before any chain call is made.
func (j Job) Validate() error {
	if j.GasPrice == nil || j.GasPrice.Sign() < 0 {
		return errors.New("gas price must be a non-negative amount")
	}
	if j.GasLimit == 0 {
		return errors.New("gas limit must be positive")
	}
	if j.IterationsPerTx == 0 {
		return errors.New("iterations per tx must be positive")
	}
	return nil
}

// Call is everything needed to simulate or submit one refine transaction.
type Call struct {
	TokenID    common.Hash
	Iterations uint64
	GasLimit   uint64
	GasPrice   *big.Int
	Nonce      uint64
}

// Receipt is the subset of a transaction receipt the driver uses.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64
}

// Chain is the blockchain collaborator. Every method may block on the network.
type Chain interface {
	// Address is the signer that pays for and submits refine calls.
	Address() common.Address
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	// Simulate dry-runs call from the signer without creating a transaction.
	Simulate(ctx context.Context, call Call) error
	// Submit signs and broadcasts call and returns the transaction hash.
	Submit(ctx context.Context, call Call) (common.Hash, error)
	// WaitMined blocks until the receipt for hash is available or ctx ends.
	WaitMined(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// IterationSource reports how many iterations a token has already had applied.
type IterationSource interface {
	StartingIterations(ctx context.Context, tokenID common.Hash) (uint64, error)
}

// FixedIterations is an IterationSource with a constant offset.
type FixedIterations uint64

// StartingIterations returns the fixed offset.
func (f FixedIterations) StartingIterations(context.Context, common.Hash) (uint64, error) {
	return uint64(f), nil
}

// IterationCounter computes the cumulative iteration count shown for the
// transaction at index (0-based).
type IterationCounter func(start, perTx uint64, index int) uint64

// DefaultIterationCounter counts the iterations applied up to and including index.
func DefaultIterationCounter(start, perTx uint64, index int) uint64 {
	return start + perTx*uint64(index+1)
}

// RunInfo describes a run that has just started.
type RunInfo struct {
	RunID              string
	Job                Job
	Signer             common.Address
	StartingNonce      uint64
	StartingIterations uint64
	InitialBalance     *big.Int
	StartedAt          time.Time
}

// Progress is a point-in-time view of a running job.
type Progress struct {
	Confirmed int
	Total     uint64
	NextNonce uint64
	Balance   *big.Int
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	RunID              string
	TxSent             int
	TotalIterations    uint64
	StartingIterations uint64
	InitialBalance     *big.Int
	FinalBalance       *big.Int
	TotalFees          *big.Int
	Duration           time.Duration
}

// Result is returned by Driver.Run.
type Result struct {
	Summary Summary
	Records []TxRecord
}
