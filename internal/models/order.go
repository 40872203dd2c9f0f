package models

import "time"

// OrderRole distinguishes the entry (parent) order from its protective flanks.
type OrderRole string

const (
	RoleEntry OrderRole = "ENTRY"
	RoleFlank OrderRole = "FLANK"
)

// FlankKind names the protective function of an order.
type FlankKind string

const (
	KindEntry        FlankKind = "entry"
	KindStopLoss     FlankKind = "stop_loss"
	KindTakeProfit   FlankKind = "take_profit"
	KindTrailingStop FlankKind = "trailing_stop"
)

// OrderType represents the broker order type.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LMT"
	OrderTypeStop       OrderType = "STP"
	OrderTypeTrailLimit OrderType = "TRAIL LIMIT"
)

// OrderStatus represents the lifecycle status of an order.
type OrderStatus string

const (
	StatusSubmitted OrderStatus = "Submitted"
	StatusActive    OrderStatus = "Active"
	StatusFilled    OrderStatus = "Filled"
	StatusCancelled OrderStatus = "Cancelled"
	StatusInactive  OrderStatus = "Inactive" // rejected or never transmitted
)

// IsActive reports whether the order is working at the broker.
func (s OrderStatus) IsActive() bool {
	return s == StatusSubmitted || s == StatusActive
}

// IsTerminal reports whether the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return !s.IsActive()
}

// OrderSpec captures the price parameters of an order.
type OrderSpec struct {
	Type        OrderType
	LimitPrice  float64
	StopPrice   float64
	TrailAmount float64
	LimitOffset float64
}

// Order is owned by the lifecycle manager of the trade that created it.
type Order struct {
	ID              string
	Role            OrderRole
	Kind            FlankKind
	Side            Side
	Quantity        int
	Spec            OrderSpec
	ParentID        string
	Status          OrderStatus
	CancelRequested bool
	FilledQty       int
	AvgPrice        float64
	RejectReason    string
	SubmittedAt     time.Time
	UpdatedAt       time.Time
}

// IsActive reports whether the order is working.
func (o *Order) IsActive() bool {
	return o != nil && o.Status.IsActive()
}

// Transmitted reports whether the gateway ever accepted the order.
func (o *Order) Transmitted() bool {
	return o != nil && o.ID != ""
}

// OrderRequest is what the gateway receives to place an order.
type OrderRequest struct {
	Side     Side
	Quantity int
	Spec     OrderSpec
	ParentID string
	Tag      string
}

// OrderState is an entry of the gateway's open-order snapshot. Side,
// Quantity and Spec let a new session adopt orders it did not place.
type OrderState struct {
	OrderID  string
	Status   OrderStatus
	Side     Side
	Quantity int
	Spec     OrderSpec
	Tag      string
}

// OrderUpdate is an asynchronous status notification from the gateway.
type OrderUpdate struct {
	OrderID   string
	Status    OrderStatus
	FilledQty int
	AvgPrice  float64
	Reason    string
	Time      time.Time
}
