package refine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// Driver runs refine jobs one transaction at a time.
type Driver struct {
	chain      Chain
	iterations IterationSource
	counter    IterationCounter
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
	newRunID   func() string
}

// Option configures a Driver.
type Option func(*Driver)

// WithObserver sets the observer notified of run events.
func WithObserver(o Observer) Option {
	return func(d *Driver) { d.observer = o }
}

// WithIterationSource sets where the starting iteration offset comes from.
func WithIterationSource(src IterationSource) Option {
	return func(d *Driver) { d.iterations = src }
}

// WithIterationCounter replaces the cumulative iteration formula.
func WithIterationCounter(c IterationCounter) Option {
	return func(d *Driver) { d.counter = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithRunID fixes the id reported for the next runs.
func WithRunID(id string) Option {
	return func(d *Driver) { d.newRunID = func() string { return id } }
}

// withClock overrides time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// New creates a driver over chain.
func New(chain Chain, opts ...Option) *Driver {
	d := &Driver{
		chain:      chain,
		iterations: FixedIterations(0),
		counter:    DefaultIterationCounter,
		observer:   NopObserver{},
		now:        time.Now,
		newRunID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Run executes job. Balance, nonce and starting iterations are read once;
// afterwards the driver tracks them locally. Observers see RunFinished
// exactly once for every run that reached RunStarted.
//
// On failure the returned Result holds everything confirmed so far.
func (d *Driver) Run(ctx context.Context, job Job) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	signer := d.chain.Address()
	balance, err := d.chain.Balance(ctx, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}
	nonce, err := d.chain.PendingNonce(ctx, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	start, err := d.iterations.StartingIterations(ctx, job.TokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch starting iterations: %w", err)
	}

	info := RunInfo{
		RunID:              d.newRunID(),
		Job:                job,
		Signer:             signer,
		StartingNonce:      nonce,
		StartingIterations: start,
		InitialBalance:     new(big.Int).Set(balance),
		StartedAt:          d.now(),
	}
	state := newRunState(nonce, balance)

	d.logger.Info("refine run started",
		slog.String("runId", info.RunID),
		slog.String("tokenId", job.TokenID.Hex()),
		slog.String("signer", signer.Hex()),
		slog.Uint64("txCount", job.TxCount),
		slog.Uint64("iterationsPerTx", job.IterationsPerTx),
		slog.Uint64("nonce", nonce),
		slog.String("balance", balance.String()),
	)
	d.observer.RunStarted(info)

	runErr := d.loop(ctx, job, info, state)

	summary := Summary{
		RunID:              info.RunID,
		TxSent:             len(state.records),
		TotalIterations:    job.IterationsPerTx * uint64(len(state.records)),
		StartingIterations: start,
		InitialBalance:     new(big.Int).Set(state.initialBalance),
		FinalBalance:       state.Balance(),
		TotalFees:          new(big.Int).Set(state.totalFees),
		Duration:           d.now().Sub(info.StartedAt),
	}

	if runErr != nil {
		d.logger.Info("refine run stopped",
			slog.String("runId", info.RunID),
			slog.Int("confirmed", summary.TxSent),
			slog.String("kind", KindOf(runErr).String()),
			slog.String("error", runErr.Error()),
		)
	} else {
		d.logger.Info("refine run completed",
			slog.String("runId", info.RunID),
			slog.Int("confirmed", summary.TxSent),
			slog.String("fees", summary.TotalFees.String()),
			slog.Duration("duration", summary.Duration),
		)
	}
	d.observer.RunFinished(summary, runErr)

	return &Result{Summary: summary, Records: state.Records()}, runErr
}

func (d *Driver) loop(ctx context.Context, job Job, info RunInfo, state *RunState) error {
	for i := 0; uint64(i) < job.TxCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		call := Call{
			TokenID:    job.TokenID,
			Iterations: job.IterationsPerTx,
			GasLimit:   job.GasLimit,
			GasPrice:   job.GasPrice,
			Nonce:      state.Nonce(),
		}

		if job.Simulate {
			if err := d.chain.Simulate(ctx, call); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &SimulationError{Index: i, Kind: Classify(err), Err: err}
			}
		}

		sentAt := d.now()
		hash, err := d.chain.Submit(ctx, call)
		if err != nil {
			return &TxError{Index: i, Stage: StageSubmit, Kind: Classify(err), Err: err}
		}
		state.advanceNonce()
		d.logger.Debug("refine tx submitted",
			slog.Int("index", i),
			slog.Uint64("nonce", call.Nonce),
			slog.String("hash", hash.Hex()),
		)
		d.observer.TxSubmitted(i, call.Nonce, hash)

		receipt, err := d.chain.WaitMined(ctx, hash)
		if err != nil {
			return &TxError{Index: i, Stage: StageConfirm, Kind: Classify(err), Hash: hash.Hex(), Err: err}
		}
		if receipt.Status == types.ReceiptStatusFailed {
			return &TxError{Index: i, Stage: StageConfirm, Kind: KindReverted, Hash: hash.Hex(), Err: ErrTxReverted}
		}

		fee := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), job.GasPrice)
		confirmedAt := d.now()
		rec := TxRecord{
			Index:                i,
			Nonce:                call.Nonce,
			Hash:                 hash,
			BlockNumber:          receipt.BlockNumber,
			GasUsed:              receipt.GasUsed,
			CumulativeIterations: d.counter(info.StartingIterations, job.IterationsPerTx, i),
			Fee:                  fee,
			Balance:              state.charge(fee),
			ConfirmedAt:          confirmedAt,
			Latency:              confirmedAt.Sub(sentAt),
		}
		state.append(rec)

		d.observer.TxConfirmed(rec, state.progress(job.TxCount))
	}
	return nil
}
