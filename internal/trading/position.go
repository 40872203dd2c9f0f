package trading

import (
	"context"
	"fmt"

	"trend-trader/internal/broker"
	"trend-trader/internal/models"
)

// PositionTracker queries the gateway for the signed position of one
// instrument. It never caches: every evaluation sees the broker's view.
type PositionTracker struct {
	gateway    broker.Gateway
	instrument models.Instrument
}

// NewPositionTracker creates a tracker for inst.
func NewPositionTracker(gw broker.Gateway, inst models.Instrument) *PositionTracker {
	return &PositionTracker{gateway: gw, instrument: inst}
}

// Current returns the signed position quantity.
func (pt *PositionTracker) Current(ctx context.Context) (int, error) {
	q, err := pt.gateway.Position(ctx, pt.instrument)
	if err != nil {
		return 0, fmt.Errorf("fetching position for %s: %w", pt.instrument.Key(), err)
	}
	return q, nil
}

// NoPosition reports whether q is flat.
func NoPosition(q int) bool {
	return q == 0
}

// TrendChanged reports whether a non-flat position points against dir.
// A flat position never counts as a change.
func TrendChanged(q int, dir models.Direction) bool {
	switch {
	case q > 0:
		return dir == models.Down
	case q < 0:
		return dir == models.Up
	default:
		return false
	}
}

// Classify maps a signed quantity to its class.
func Classify(q int) models.PositionClass {
	switch {
	case q > 0:
		return models.Long
	case q < 0:
		return models.Short
	default:
		return models.Flat
	}
}
