// Package display renders a refining run to the terminal.
package display

import (
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/refiner/internal/metrics"
	"github.com/gateway-fm/refiner/internal/refine"
)

const (
	clearScreen = "\033[H\033[2J"
	eraseLine   = "\r\033[2K"
)

// Options configures a Renderer.
type Options struct {
	Out          io.Writer
	Interactive  bool
	Width        int
	Currency     string
	TickInterval time.Duration
	Logger       *slog.Logger
}

// Renderer draws run progress. In interactive mode it redraws the whole
// screen on every confirmation and animates a status line in between; in
// plain mode it appends one line per confirmed transaction.
type Renderer struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool
	width       int
	currency    string
	logger      *slog.Logger

	anim    *Animation
	latency *metrics.StreamingLatencyStats

	info    refine.RunInfo
	balance *big.Int
	records []refine.TxRecord
	status  string
}

var _ refine.Observer = (*Renderer)(nil)

// NewRenderer creates a renderer.
func NewRenderer(opts Options) *Renderer {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	width := opts.Width
	if width <= 0 || width > DefaultWidth {
		width = DefaultWidth
	}
	currency := opts.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Renderer{
		out:         out,
		interactive: opts.Interactive,
		width:       width,
		currency:    currency,
		logger:      logger,
		latency:     metrics.NewStreamingLatencyStats(),
	}
	r.anim = NewAnimation(opts.TickInterval, r.tick)
	return r
}

func (r *Renderer) RunStarted(info refine.RunInfo) {
	r.mu.Lock()
	r.info = info
	r.balance = info.InitialBalance
	r.records = nil
	r.latency.Reset()
	r.status = "Preparing first transaction"
	if r.interactive {
		r.redrawLocked(true)
	} else {
		r.write(Header(info, nil, r.currency, r.width))
	}
	r.mu.Unlock()

	if r.interactive {
		r.anim.Start()
	}
}

func (r *Renderer) TxSubmitted(index int, nonce uint64, hash common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = fmt.Sprintf("Refining tx %d/%d (nonce %d) %s", index+1, r.info.Job.TxCount, nonce, hash.Hex())
	if r.interactive {
		r.write(eraseLine + r.statusLineLocked())
	}
}

func (r *Renderer) TxConfirmed(record refine.TxRecord, progress refine.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	r.balance = progress.Balance
	r.latency.Add(float64(record.Latency.Microseconds()) / 1000)
	r.status = fmt.Sprintf("Confirmed %d/%d, preparing next transaction", progress.Confirmed, progress.Total)

	if r.interactive {
		r.redrawLocked(true)
		return
	}
	r.write(Line(record, r.info.Job.TxCount, r.currency) + "\n")
}

func (r *Renderer) RunFinished(summary refine.Summary, err error) {
	// Stop before locking: the last tick may be waiting on r.mu.
	r.anim.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if summary.FinalBalance != nil {
		r.balance = summary.FinalBalance
	}
	if r.interactive {
		r.redrawLocked(false)
		r.write("\n")
	}
	r.write(Summary(summary, r.latency.GetStats(), err, r.currency, r.width))
}

// tick runs on the animation goroutine.
func (r *Renderer) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.write(eraseLine + r.statusLineLocked())
}

func (r *Renderer) statusLineLocked() string {
	return fmt.Sprintf("%s %s %s", r.anim.Spinner(), r.status, Flames(r.anim.FlameCount()))
}

func (r *Renderer) redrawLocked(withStatus bool) {
	r.write(clearScreen)
	r.write(Header(r.info, r.balance, r.currency, r.width))
	if len(r.records) > 0 {
		table, err := Table(r.records, r.currency)
		if err != nil {
			r.logger.Warn("failed to render table", slog.String("error", err.Error()))
		} else {
			r.write(table + "\n")
		}
	}
	if withStatus {
		r.write(r.statusLineLocked())
	}
}

func (r *Renderer) write(s string) {
	if _, err := io.WriteString(r.out, s); err != nil {
		r.logger.Debug("terminal write failed", slog.String("error", err.Error()))
	}
}
