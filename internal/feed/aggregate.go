package feed

import (
	"time"

	"trend-trader/internal/models"
)

// BarBuilder aggregates trade ticks into fixed-interval bars.
type BarBuilder struct {
	interval time.Duration

	current  models.Bar
	open     bool
	notional float64
	volume   int64
	lastCum  int64
}

// NewBarBuilder creates a builder producing bars of the given interval.
func NewBarBuilder(interval time.Duration) *BarBuilder {
	return &BarBuilder{interval: interval, lastCum: -1}
}

// Add folds a tick into the current bar. cumVolume is the session's
// cumulative traded volume. When the tick starts a new interval the
// completed bar is returned.
func (b *BarBuilder) Add(at time.Time, price float64, cumVolume int64) (models.Bar, bool) {
	start := at.Truncate(b.interval)

	var dv int64
	if b.lastCum >= 0 && cumVolume >= b.lastCum {
		dv = cumVolume - b.lastCum
	}
	b.lastCum = cumVolume

	var done models.Bar
	var emitted bool
	if b.open && !start.Equal(b.current.Time) {
		done, emitted = b.finish(), true
	}

	if !b.open {
		b.current = models.Bar{Time: start, Open: price, High: price, Low: price, Close: price}
		b.notional, b.volume = 0, 0
		b.open = true
	}
	if price > b.current.High {
		b.current.High = price
	}
	if price < b.current.Low {
		b.current.Low = price
	}
	b.current.Close = price
	b.volume += dv
	b.notional += price * float64(dv)

	return done, emitted
}

// Flush returns the partially built bar, if any.
func (b *BarBuilder) Flush() (models.Bar, bool) {
	if !b.open {
		return models.Bar{}, false
	}
	return b.finish(), true
}

func (b *BarBuilder) finish() models.Bar {
	bar := b.current
	bar.Volume = b.volume
	if b.volume > 0 {
		bar.WAP = b.notional / float64(b.volume)
	}
	b.open = false
	return bar
}
