package refine

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/refiner/pkg/types"
)

// TxRecord is one confirmed refine transaction. Amounts are exact wei.
type TxRecord struct {
	Index                int
	Nonce                uint64
	Hash                 common.Hash
	BlockNumber          uint64
	GasUsed              uint64
	CumulativeIterations uint64
	Fee                  *big.Int
	Balance              *big.Int // wallet balance after this tx's fee
	ConfirmedAt          time.Time
	Latency              time.Duration // submission to receipt
}

// View converts the record to its public JSON form.
func (r TxRecord) View() types.TxRecord {
	return types.TxRecord{
		Index:                r.Index,
		Nonce:                r.Nonce,
		Hash:                 r.Hash.Hex(),
		BlockNumber:          r.BlockNumber,
		GasUsed:              r.GasUsed,
		CumulativeIterations: r.CumulativeIterations,
		FeeWei:               bigString(r.Fee),
		BalanceWei:           bigString(r.Balance),
		LatencyMs:            r.Latency.Milliseconds(),
		ConfirmedAt:          r.ConfirmedAt,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
