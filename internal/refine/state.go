package refine

import (
	"math/big"
)

// RunState is the mutable state of one run. Only the driver loop touches it;
// observers receive copies.
type RunState struct {
	nonce          uint64
	initialBalance *big.Int
	balance        *big.Int
	totalFees      *big.Int
	records        []TxRecord
}

func newRunState(nonce uint64, balance *big.Int) *RunState {
	return &RunState{
		nonce:          nonce,
		initialBalance: new(big.Int).Set(balance),
		balance:        new(big.Int).Set(balance),
		totalFees:      new(big.Int),
	}
}

// Nonce is the nonce the next submission will use.
func (s *RunState) Nonce() uint64 { return s.nonce }

// Balance returns a copy of the running balance.
func (s *RunState) Balance() *big.Int { return new(big.Int).Set(s.balance) }

// Records returns a copy of the confirmed records.
func (s *RunState) Records() []TxRecord {
	out := make([]TxRecord, len(s.records))
	copy(out, s.records)
	return out
}

// advanceNonce is called once a submission has been accepted.
func (s *RunState) advanceNonce() {
	s.nonce++
}

// charge deducts fee from the running balance and returns the new balance.
func (s *RunState) charge(fee *big.Int) *big.Int {
	s.balance.Sub(s.balance, fee)
	s.totalFees.Add(s.totalFees, fee)
	return new(big.Int).Set(s.balance)
}

func (s *RunState) append(rec TxRecord) {
	s.records = append(s.records, rec)
}

func (s *RunState) progress(total uint64) Progress {
	return Progress{
		Confirmed: len(s.records),
		Total:     total,
		NextNonce: s.nonce,
		Balance:   s.Balance(),
	}
}
