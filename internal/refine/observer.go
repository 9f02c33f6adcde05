package refine

import (
	"github.com/ethereum/go-ethereum/common"
)

// Observer receives run events. Calls happen on the driver goroutine in
// order; implementations must return quickly.
type Observer interface {
	RunStarted(info RunInfo)
	TxSubmitted(index int, nonce uint64, hash common.Hash)
	TxConfirmed(record TxRecord, progress Progress)
	// RunFinished is called once per started run; err is nil on success.
	RunFinished(summary Summary, err error)
}

// Observers fans events out to each observer in order.
type Observers []Observer

func (o Observers) RunStarted(info RunInfo) {
	for _, obs := range o {
		obs.RunStarted(info)
	}
}

func (o Observers) TxSubmitted(index int, nonce uint64, hash common.Hash) {
	for _, obs := range o {
		obs.TxSubmitted(index, nonce, hash)
	}
}

func (o Observers) TxConfirmed(record TxRecord, progress Progress) {
	for _, obs := range o {
		obs.TxConfirmed(record, progress)
	}
}

func (o Observers) RunFinished(summary Summary, err error) {
	for _, obs := range o {
		obs.RunFinished(summary, err)
	}
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) RunStarted(RunInfo) {}
func (NopObserver) TxSubmitted(int, uint64, common.Hash) {}
func (NopObserver) TxConfirmed(TxRecord, Progress) {}
func (NopObserver) RunFinished(Summary, error) {}
