// Package models provides domain models for the trend execution engine.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ContractType represents the kind of tradable contract.
type ContractType string

const (
	ContractFuture ContractType = "FUT"
	ContractStock  ContractType = "STK"
	ContractIndex  ContractType = "IND"
)

// ExpiryFrontMonth is the configuration shorthand for the current quarterly expiry.
const ExpiryFrontMonth = "front"

// Instrument represents the single tradable instrument of a session.
// It is immutable once a session starts.
type Instrument struct {
	Symbol       string
	Exchange     string
	ContractType ContractType
	Expiry       string // YYYYMM, required for futures
	TickSize     float64
	Currency     string
}

// Key returns a stable identifier for the instrument.
func (i Instrument) Key() string {
	if i.Expiry == "" {
		return fmt.Sprintf("%s:%s", i.Exchange, i.Symbol)
	}
	return fmt.Sprintf("%s:%s:%s", i.Exchange, i.Symbol, i.Expiry)
}

// PriceSource selects which bar field feeds the price history.
type PriceSource string

const (
	PriceClose PriceSource = "close"
	PriceOpen  PriceSource = "open"
	PriceHigh  PriceSource = "high"
	PriceLow   PriceSource = "low"
	PriceWAP   PriceSource = "wap"
)

// ParsePriceSource parses a configured price source name.
func ParsePriceSource(s string) (PriceSource, error) {
	switch PriceSource(strings.ToLower(strings.TrimSpace(s))) {
	case PriceClose, "":
		return PriceClose, nil
	case PriceOpen:
		return PriceOpen, nil
	case PriceHigh:
		return PriceHigh, nil
	case PriceLow:
		return PriceLow, nil
	case PriceWAP, "average", "vwap":
		return PriceWAP, nil
	}
	return "", fmt.Errorf("unknown price source %q", s)
}

// Bar represents one market-data bar, typically a 5-second real-time bar.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	WAP    float64
}

// Price returns the bar field selected by source.
func (b Bar) Price(source PriceSource) float64 {
	switch source {
	case PriceOpen:
		return b.Open
	case PriceHigh:
		return b.High
	case PriceLow:
		return b.Low
	case PriceWAP:
		if b.WAP == 0 {
			return b.Close
		}
		return b.WAP
	default:
		return b.Close
	}
}

// Direction is the trend direction signalled by the moving averages.
type Direction int

const (
	Down Direction = -1
	Up   Direction = 1
)

func (d Direction) String() string {
	if d == Up {
		return "UP"
	}
	return "DOWN"
}

// Side returns the entry side that follows the direction.
func (d Direction) Side() Side {
	if d == Up {
		return Buy
	}
	return Sell
}

// TrendState is derived from the tail of the price history on every tick.
type TrendState struct {
	FastMA    float64
	SlowMA    float64
	Direction Direction
}

// Side represents the side of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int {
	if s == Buy {
		return 1
	}
	return -1
}

// PositionClass classifies a signed quantity.
type PositionClass string

const (
	Flat  PositionClass = "FLAT"
	Long  PositionClass = "LONG"
	Short PositionClass = "SHORT"
)
