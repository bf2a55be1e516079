package chain

import (
	"math/big"
	"sync"
	"time"
)

// Feed is a simulated price feed. The answer is fixed until changed, and
// every read reports a fresh round so staleness checks pass.
type Feed struct {
	mu      sync.Mutex
	roundID uint64
	answer  *big.Int
}

func NewFeed(answer *big.Int) *Feed {
	if answer == nil {
		answer = big.NewInt(0)
	}

	return &Feed{answer: new(big.Int).Set(answer)}
}

func (f *Feed) SetAnswer(answer *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.answer = new(big.Int).Set(answer)
}

func (f *Feed) LatestRoundData() (uint64, *big.Int, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.roundID++

	return f.roundID, new(big.Int).Set(f.answer), time.Now(), nil
}
