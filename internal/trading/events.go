package trading

import (
	"sync"

	"github.com/rs/zerolog"

	"trend-trader/internal/logging"
	"trend-trader/internal/models"
)

// EventSink receives every transition event. Implementations handle their
// own failures; Record must not block the tick.
type EventSink interface {
	Record(ev models.Event)
}

// TradeSink receives a copy of a trade each time one of its orders changes.
type TradeSink interface {
	RecordTrade(trade *models.Trade)
}

// MarketObserver receives the evaluated market view once per tick.
type MarketObserver interface {
	ObserveMarket(bar models.Bar, trend models.TrendState, position int)
}

// MultiSink fans events out to several sinks. Members that also implement
// TradeSink or MarketObserver receive those notifications too.
type MultiSink []EventSink

// Record implements EventSink.
func (m MultiSink) Record(ev models.Event) {
	for _, s := range m {
		s.Record(ev)
	}
}

// RecordTrade implements TradeSink.
func (m MultiSink) RecordTrade(trade *models.Trade) {
	for _, s := range m {
		if ts, ok := s.(TradeSink); ok {
			ts.RecordTrade(trade)
		}
	}
}

// ObserveMarket implements MarketObserver.
func (m MultiSink) ObserveMarket(bar models.Bar, trend models.TrendState, position int) {
	for _, s := range m {
		if mo, ok := s.(MarketObserver); ok {
			mo.ObserveMarket(bar, trend, position)
		}
	}
}

// LogSink writes events as structured log lines.
type LogSink struct {
	Logger zerolog.Logger
}

// Record implements EventSink.
func (s LogSink) Record(ev models.Event) {
	logging.LogTransition(s.Logger, ev)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

// Record implements EventSink.
func (r *Recorder) Record(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Actions returns the recorded actions in order.
func (r *Recorder) Actions() []models.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Action, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
