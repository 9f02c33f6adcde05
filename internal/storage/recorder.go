package storage

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/refiner/internal/metrics"
	"github.com/gateway-fm/refiner/internal/refine"
	"github.com/gateway-fm/refiner/pkg/types"
)

// DefaultWriteTimeout bounds each database write made by a Recorder.
const DefaultWriteTimeout = 5 * time.Second

// Recorder persists run events as they happen. A failed write is logged and
// never interrupts the run.
type Recorder struct {
	store   Storage
	logger  *slog.Logger
	timeout time.Duration

	runID   string
	latency *metrics.StreamingLatencyStats
	// disabled is set when the run row could not be created.
	disabled bool
}

var _ refine.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Storage, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   store,
		logger:  logger,
		timeout: DefaultWriteTimeout,
		latency: metrics.NewStreamingLatencyStats(),
	}
}

func (r *Recorder) RunStarted(info refine.RunInfo) {
	r.runID = info.RunID
	r.latency.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err := r.store.CreateRun(ctx, &Run{
		ID:                 info.RunID,
		StartedAt:          info.StartedAt,
		Status:             types.StatusRunning,
		TokenID:            info.Job.TokenID.Hex(),
		Signer:             info.Signer.Hex(),
		Registry:           info.Job.Registry.Hex(),
		TxCount:            info.Job.TxCount,
		IterationsPerTx:    info.Job.IterationsPerTx,
		StartingIterations: info.StartingIterations,
		GasPriceWei:        bigString(info.Job.GasPrice),
		InitialBalanceWei:  bigString(info.InitialBalance),
	})
	r.disabled = err != nil
	if err != nil {
		r.logger.Error("failed to record run", slog.String("run", info.RunID), slog.String("error", err.Error()))
	}
}

func (r *Recorder) TxSubmitted(int, uint64, common.Hash) {}

func (r *Recorder) TxConfirmed(record refine.TxRecord, _ refine.Progress) {
	r.latency.Add(float64(record.Latency.Microseconds()) / 1000)
	if r.disabled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.AppendTxRecord(ctx, r.runID, record.View()); err != nil {
		r.logger.Error("failed to record transaction",
			slog.String("run", r.runID),
			slog.String("hash", record.Hash.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Recorder) RunFinished(summary refine.Summary, runErr error) {
	if r.disabled {
		return
	}

	done := &RunCompletion{
		Status:          refine.StatusOf(runErr),
		FinalBalanceWei: bigString(summary.FinalBalance),
		TotalFeesWei:    bigString(summary.TotalFees),
		TxConfirmed:     summary.TxSent,
		TotalIterations: summary.TotalIterations,
		DurationMs:      summary.Duration.Milliseconds(),
		LatencyStats:    r.latency.GetStats(),
	}
	if runErr != nil {
		done.ErrorMessage = runErr.Error()
		done.ErrorKind = refine.KindOf(runErr).String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.CompleteRun(ctx, r.runID, done); err != nil {
		r.logger.Error("failed to complete run", slog.String("run", r.runID), slog.String("error", err.Error()))
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
