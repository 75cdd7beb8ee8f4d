package stream

import (
	"sync"
	"time"
)

// PriceBook keeps the latest mid per symbol from aggregated market updates.
// Written only by the ingestion dispatcher; readers get point-in-time values.
type PriceBook struct {
	mu     sync.RWMutex
	maxAge time.Duration
	prices map[string]pricePoint
}

type pricePoint struct {
	mid float64
	at  time.Time
}

func NewPriceBook(maxAge time.Duration) *PriceBook {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &PriceBook{
		maxAge: maxAge,
		prices: make(map[string]pricePoint),
	}
}

func (b *PriceBook) Update(symbol string, mid float64) {
	if mid <= 0 {
		return
	}
	b.mu.Lock()
	b.prices[symbol] = pricePoint{mid: mid, at: time.Now()}
	b.mu.Unlock()
}

// Mid returns the latest reference price, or ok=false when the symbol has no
// fresh positive price.
func (b *PriceBook) Mid(symbol string) (float64, bool) {
	b.mu.RLock()
	p, ok := b.prices[symbol]
	b.mu.RUnlock()

	if !ok || p.mid <= 0 || time.Since(p.at) > b.maxAge {
		return 0, false
	}
	return p.mid, true
}
