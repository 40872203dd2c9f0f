package models

import "time"

// Action names a state-machine transition or an observed gateway change.
type Action string

const (
	ActionOpen          Action = "open"
	ActionReentry       Action = "reentry"
	ActionReversal      Action = "reversal"
	ActionCancelStale   Action = "cancel_stale"
	ActionCancelReverse Action = "cancel_reverse"
	ActionResubmitFlank Action = "resubmit_flank"
	ActionReconcileFill Action = "reconcile_fill"
	ActionOrderUpdate   Action = "order_update"
	ActionReject        Action = "order_rejected"
	ActionHalt          Action = "halt"
	ActionReconcile     Action = "reconcile"
	ActionAdopt         Action = "adopt"
)

// MachineState is the conceptual state derived from position and orders.
type MachineState string

const (
	StateFlatNoOrder         MachineState = "Flat-NoOrder"
	StateFlatPendingEntry    MachineState = "Flat-PendingEntry"
	StatePositionedProtected MachineState = "Positioned-Protected"
	StatePositionedFlankGap  MachineState = "Positioned-FlankGap"
	StatePositionedReversal  MachineState = "Positioned-ReversalPending"
	StateHalted              MachineState = "Halted"
)

// Event is the structured record emitted for every transition.
type Event struct {
	Time      time.Time
	SessionID string
	TradeID   string
	Action    Action
	OrderIDs  []string
	Side      Side
	Quantity  int
	Price     float64
	Position  int
	State     MachineState
	Reason    string
}
