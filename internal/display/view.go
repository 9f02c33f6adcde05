package display

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/gateway-fm/refiner/internal/refine"
	"github.com/gateway-fm/refiner/pkg/types"
)

// DefaultCurrency is the native token symbol of LUKSO.
const DefaultCurrency = "LYX"

// Header renders the run parameters between two separators.
func Header(info refine.RunInfo, balance *big.Int, currency string, width int) string {
	sep := Separator(width)
	var b strings.Builder
	b.WriteString(sep + "\n")
	fmt.Fprintf(&b, "🔀 Sending %d tx for 🖼️ BurntPix ID: %s\n", info.Job.TxCount, info.Job.TokenID.Hex())
	fmt.Fprintf(&b, "🔑 Refiner wallet address: %s\n", info.Signer.Hex())
	fmt.Fprintf(&b, "💵 Initial wallet balance: %s %s\n", FormatEther(info.InitialBalance, 6), currency)
	if balance != nil {
		fmt.Fprintf(&b, "💰 Current wallet balance: %s %s\n", FormatEther(balance, 6), currency)
	}
	fmt.Fprintf(&b, "⛽️ Gas Price used (in gwei): %s\n", FormatGwei(info.Job.GasPrice))
	fmt.Fprintf(&b, "🔁 Iterations per tx: %d (starting at %d)\n", info.Job.IterationsPerTx, info.StartingIterations)
	b.WriteString(sep + "\n")
	return b.String()
}

// Table renders confirmed records as a pterm table.
func Table(records []refine.TxRecord, currency string) (string, error) {
	data := make([][]string, 0, len(records)+1)
	data = append(data, []string{
		"#",
		"Transaction Hash",
		"Block Number",
		"Gas Used",
		"Iterations",
		fmt.Sprintf("Refining Fee (%s)", currency),
		fmt.Sprintf("Wallet Balance (%s)", currency),
	})
	for _, r := range records {
		data = append(data, []string{
			strconv.Itoa(r.Index + 1),
			r.Hash.Hex(),
			strconv.FormatUint(r.BlockNumber, 10),
			strconv.FormatUint(r.GasUsed, 10),
			strconv.FormatUint(r.CumulativeIterations, 10),
			FormatEther(r.Fee, 6),
			FormatEther(r.Balance, 6),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

// Line renders a single confirmed record for plain output.
func Line(r refine.TxRecord, total uint64, currency string) string {
	return fmt.Sprintf("✔ [%d/%d] %s block=%d gas=%d iterations=%d fee=%s %s balance=%s %s",
		r.Index+1, total, r.Hash.Hex(), r.BlockNumber, r.GasUsed, r.CumulativeIterations,
		FormatEther(r.Fee, 6), currency, FormatEther(r.Balance, 6), currency)
}

// Summary renders the end-of-run block. err is the error returned by the
// driver, nil on success.
func Summary(s refine.Summary, latency *types.LatencyStats, err error, currency string, width int) string {
	sep := Separator(width)
	var b strings.Builder
	b.WriteString(sep + "\n")
	if err == nil {
		b.WriteString("✅ BurntPix Refining Completed\n")
	} else {
		b.WriteString("❌ BurntPix Refining Aborted\n")
	}
	fmt.Fprintf(&b, "- Total nb of transactions = %d\n", s.TxSent)
	fmt.Fprintf(&b, "- Total nb of iterations = %d\n", s.TotalIterations)
	fmt.Fprintf(&b, "- Total refining fees = %s %s\n", FormatEther(s.TotalFees, 6), currency)
	fmt.Fprintf(&b, "- Final wallet balance = %s %s\n", FormatEther(s.FinalBalance, 6), currency)
	if latency != nil {
		fmt.Fprintf(&b, "- Avg confirmation time = %s (p95 %s)\n", formatLatency(latency.Avg), formatLatency(latency.P95))
	}
	fmt.Fprintf(&b, "- Duration = %s\n", s.Duration.Round(time.Millisecond))
	b.WriteString(sep + "\n")
	if err != nil {
		b.WriteString(failureMessage(err, currency) + "\n")
	}
	return b.String()
}

func failureMessage(err error, currency string) string {
	var simErr *refine.SimulationError
	switch {
	case refine.KindOf(err) == refine.KindInsufficientFunds:
		return fmt.Sprintf("💸 Insufficient funds: the wallet does not hold enough %s to pay for the next refine transaction. Top it up and run again.", currency)
	case errors.Is(err, context.Canceled):
		return "⏹️ Interrupted"
	case errors.As(err, &simErr):
		return fmt.Sprintf("❌ Transaction #%d would fail, nothing was sent: %v", simErr.Index+1, simErr.Err)
	default:
		return "❌ " + err.Error()
	}
}

func formatLatency(ms float64) string {
	return (time.Duration(ms * float64(time.Millisecond))).Round(10 * time.Millisecond).String()
}
