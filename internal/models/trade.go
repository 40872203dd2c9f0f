package models

import "time"

// TradeReason records which transition created a trade.
type TradeReason string

const (
	ReasonOpen     TradeReason = "open"
	ReasonReentry  TradeReason = "reentry"
	ReasonReversal TradeReason = "reversal"
	// ReasonAdopted marks a position found at startup without a trade of
	// this session behind it.
	ReasonAdopted TradeReason = "adopted"
)

// Trade is the aggregate root: one entry order plus its flanks.
type Trade struct {
	ID       string
	Entry    *Order
	Flanks   []*Order
	OpenedAt time.Time
	Reason   TradeReason
}

// Reversal reports whether the trade was opened to flip the position.
func (t *Trade) Reversal() bool {
	return t != nil && t.Reason == ReasonReversal
}

// Orders returns the entry followed by the flanks.
func (t *Trade) Orders() []*Order {
	if t == nil {
		return nil
	}
	orders := make([]*Order, 0, len(t.Flanks)+1)
	if t.Entry != nil {
		orders = append(orders, t.Entry)
	}
	return append(orders, t.Flanks...)
}

// EntryActive reports whether the entry order is still working.
func (t *Trade) EntryActive() bool {
	return t != nil && t.Entry.IsActive()
}

// HasOpenOrders reports whether any order of the trade is working.
func (t *Trade) HasOpenOrders() bool {
	for _, o := range t.Orders() {
		if o.IsActive() {
			return true
		}
	}
	return false
}

// FilledFlank returns the first filled flank, if any.
func (t *Trade) FilledFlank() *Order {
	if t == nil {
		return nil
	}
	for _, f := range t.Flanks {
		if f.Status == StatusFilled {
			return f
		}
	}
	return nil
}

// FlankWorking reports whether any flank is working at the broker.
func (t *Trade) FlankWorking() bool {
	if t == nil {
		return false
	}
	for _, f := range t.Flanks {
		if f.IsActive() {
			return true
		}
	}
	return false
}

// FlankGaps returns flanks that went terminal without a fill and were not
// cancelled on our own request.
func (t *Trade) FlankGaps() []*Order {
	if t == nil {
		return nil
	}
	var gaps []*Order
	for _, f := range t.Flanks {
		if f.CancelRequested {
			continue
		}
		if f.Status == StatusCancelled || f.Status == StatusInactive {
			gaps = append(gaps, f)
		}
	}
	return gaps
}

// Order finds an order of the trade by gateway id.
func (t *Trade) Order(id string) *Order {
	if id == "" {
		return nil
	}
	for _, o := range t.Orders() {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// OrderIDs returns the ids of all transmitted orders.
func (t *Trade) OrderIDs() []string {
	var ids []string
	for _, o := range t.Orders() {
		if o.ID != "" {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Clone returns a deep copy safe to hand to other goroutines.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	if t.Entry != nil {
		e := *t.Entry
		c.Entry = &e
	}
	c.Flanks = make([]*Order, len(t.Flanks))
	for i, f := range t.Flanks {
		fc := *f
		c.Flanks[i] = &fc
	}
	return &c
}
