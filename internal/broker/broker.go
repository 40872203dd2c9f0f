// Package broker provides brokerage gateway interfaces and implementations.
package broker

import (
	"context"

	"trend-trader/internal/models"
)

// Gateway defines the brokerage operations the execution core consumes.
type Gateway interface {
	Connect(ctx context.Context) error
	// PlaceOrder returns the gateway-assigned order id. A rejected submission
	// returns an error wrapping errors.ErrOrderRejected.
	PlaceOrder(ctx context.Context, inst models.Instrument, req models.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	OpenOrders(ctx context.Context) ([]models.OrderState, error)
	Position(ctx context.Context, inst models.Instrument) (int, error)
	// Updates delivers asynchronous order status changes.
	Updates() <-chan models.OrderUpdate
	Close() error
}

// BarObserver is implemented by gateways that simulate executions against
// market data.
type BarObserver interface {
	OnBar(bar models.Bar)
}

// updateBuffer is the capacity of gateway update channels.
const updateBuffer = 1024
