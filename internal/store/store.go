// Package store provides the session journal: transition events, observed
// bars and trade snapshots.
package store

import (
	"context"
	"time"

	"trend-trader/internal/models"
)

// Journal defines the persistence operations of a trading session.
type Journal interface {
	// Sessions
	StartSession(ctx context.Context, info SessionInfo) error

	// Bars
	SaveBar(ctx context.Context, instrument string, bar models.Bar) error
	RecentBars(ctx context.Context, instrument string, n int) ([]models.Bar, error)

	// Events
	SaveEvent(ctx context.Context, ev models.Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]models.Event, error)

	// Trades
	SaveTrade(ctx context.Context, instrument string, trade *models.Trade) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]TradeRecord, error)

	// Lifecycle
	Close() error
}

// SessionInfo identifies one run of the automation.
type SessionInfo struct {
	ID         string
	ClientID   int
	Instrument string
	Mode       string
	StartedAt  time.Time
}

// EventFilter represents filters for querying events.
type EventFilter struct {
	SessionID string
	TradeID   string
	Action    models.Action
	Since     time.Time
	Limit     int
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	SessionID  string
	Instrument string
	Reason     models.TradeReason
	Limit      int
}

// TradeRecord is a persisted trade snapshot.
type TradeRecord struct {
	SessionID  string
	Instrument string
	Trade      *models.Trade
	UpdatedAt  time.Time
}
