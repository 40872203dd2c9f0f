package trading

import (
	"time"

	"trend-trader/internal/models"
)

// IsStale reports whether the trade's entry has been working while flat
// for at least timeout. A trade whose cancellation was already
// requested is never stale again.
func IsStale(trade *models.Trade, position int, now time.Time, timeout time.Duration) bool {
	if trade == nil || !NoPosition(position) || timeout <= 0 {
		return false
	}
	entry := trade.Entry
	if !entry.IsActive() || entry.CancelRequested {
		return false
	}
	return now.Sub(trade.OpenedAt) >= timeout
}
