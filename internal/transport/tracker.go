package transport

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/refiner/internal/metrics"
	"github.com/gateway-fm/refiner/internal/refine"
	"github.com/gateway-fm/refiner/pkg/types"
)

// subscriberBuffer is the per-subscriber event backlog. Events for a
// subscriber whose buffer is full are dropped.
const subscriberBuffer = 64

// Tracker keeps the live snapshot of the current run and fans events out to
// subscribers.
type Tracker struct {
	mu      sync.RWMutex
	snap    types.RunSnapshot
	latency *metrics.StreamingLatencyStats
	now     func() time.Time

	subsMu sync.Mutex
	subs   map[chan types.Event]struct{}
}

var _ refine.Observer = (*Tracker)(nil)

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		snap:    types.RunSnapshot{Status: types.StatusIdle},
		latency: metrics.NewStreamingLatencyStats(),
		now:     time.Now,
		subs:    make(map[chan types.Event]struct{}),
	}
}

// Snapshot returns a copy of the live run state.
func (t *Tracker) Snapshot() types.RunSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() types.RunSnapshot {
	s := t.snap
	if t.snap.Records != nil {
		s.Records = make([]types.TxRecord, len(t.snap.Records))
		copy(s.Records, t.snap.Records)
	}
	s.Latency = t.latency.GetStats()
	return s
}

// Subscribe registers for run events. The returned func unsubscribes and
// closes the channel.
func (t *Tracker) Subscribe() (<-chan types.Event, func()) {
	ch := make(chan types.Event, subscriberBuffer)
	t.subsMu.Lock()
	t.subs[ch] = struct{}{}
	t.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.subsMu.Lock()
			delete(t.subs, ch)
			t.subsMu.Unlock()
			close(ch)
		})
	}
}

func (t *Tracker) publish(ev types.Event) {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (t *Tracker) RunStarted(info refine.RunInfo) {
	started := info.StartedAt
	t.mu.Lock()
	t.latency.Reset()
	t.snap = types.RunSnapshot{
		RunID:              info.RunID,
		Status:             types.StatusRunning,
		TokenID:            info.Job.TokenID.Hex(),
		Signer:             info.Signer.Hex(),
		Registry:           info.Job.Registry.Hex(),
		TxCount:            info.Job.TxCount,
		IterationsPerTx:    info.Job.IterationsPerTx,
		StartingIterations: info.StartingIterations,
		GasPriceWei:        weiString(info.Job.GasPrice),
		InitialBalanceWei:  weiString(info.InitialBalance),
		CurrentBalanceWei:  weiString(info.InitialBalance),
		NextNonce:          info.StartingNonce,
		StartedAt:          &started,
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.publish(types.Event{Type: types.EventRunStarted, RunID: info.RunID, Time: t.now(), Snapshot: &snap})
}

func (t *Tracker) TxSubmitted(_ int, nonce uint64, hash common.Hash) {
	t.mu.Lock()
	t.snap.InFlightTx = hash.Hex()
	t.snap.NextNonce = nonce + 1
	runID := t.snap.RunID
	t.mu.Unlock()

	t.publish(types.Event{Type: types.EventTxSubmitted, RunID: runID, Time: t.now(), TxHash: hash.Hex()})
}

func (t *Tracker) TxConfirmed(record refine.TxRecord, progress refine.Progress) {
	view := record.View()

	t.mu.Lock()
	t.snap.Records = append(t.snap.Records, view)
	t.snap.TxConfirmed = progress.Confirmed
	t.snap.NextNonce = progress.NextNonce
	t.snap.CurrentBalanceWei = weiString(progress.Balance)
	t.snap.InFlightTx = ""
	t.latency.Add(float64(record.Latency.Microseconds()) / 1000)
	runID := t.snap.RunID
	t.mu.Unlock()

	t.publish(types.Event{Type: types.EventTxConfirmed, RunID: runID, Time: t.now(), Record: &view})
}

func (t *Tracker) RunFinished(summary refine.Summary, err error) {
	completed := t.now()

	t.mu.Lock()
	t.snap.Status = refine.StatusOf(err)
	t.snap.CompletedAt = &completed
	t.snap.InFlightTx = ""
	if summary.FinalBalance != nil {
		t.snap.CurrentBalanceWei = summary.FinalBalance.String()
	}
	if err != nil {
		t.snap.Error = err.Error()
		t.snap.ErrorKind = refine.KindOf(err).String()
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.publish(types.Event{Type: types.EventRunFinished, RunID: snap.RunID, Time: completed, Snapshot: &snap})
}

func weiString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
