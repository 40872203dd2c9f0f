package trading

import "sync"

// DefaultHistoryCapacity bounds the number of retained prices.
const DefaultHistoryCapacity = 4096

// PriceHistory is an append-only sequence of prices. Once capacity is
// reached the oldest prices are dropped.
type PriceHistory struct {
	mu       sync.RWMutex
	prices   []float64
	capacity int
}

// NewPriceHistory creates a history retaining at most capacity prices.
func NewPriceHistory(capacity int) *PriceHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &PriceHistory{capacity: capacity}
}

// Append adds a price to the end of the history.
func (h *PriceHistory) Append(price float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prices = append(h.prices, price)
	if over := len(h.prices) - h.capacity; over > 0 {
		h.prices = append(h.prices[:0:0], h.prices[over:]...)
	}
}

// Len returns the number of retained prices.
func (h *PriceHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.prices)
}

// Tail returns a copy of the last n prices, or all of them when fewer
// are retained.
func (h *PriceHistory) Tail(n int) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > len(h.prices) || n <= 0 {
		n = len(h.prices)
	}
	out := make([]float64, n)
	copy(out, h.prices[len(h.prices)-n:])
	return out
}
