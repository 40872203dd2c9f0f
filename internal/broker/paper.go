package broker

import (
	"context"
	"strconv"
	"sync"
	"time"

	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/models"
)

// PaperGateway implements Gateway by simulating executions against the
// bars it observes. Attached children are held until their parent fills and
// are cancelled with it. There is no native OCO.
type PaperGateway struct {
	mu sync.Mutex

	orders   map[string]*paperOrder
	sequence []string // placement order
	nextID   int
	position int

	connected bool
	closed    bool

	rejectNext   bool
	rejectReason string

	pending []models.OrderUpdate
	updates chan models.OrderUpdate
	now     func() time.Time
}

type paperOrder struct {
	id     string
	req    models.OrderRequest
	status models.OrderStatus
	held   bool

	// trailing stop state
	stop    float64
	extreme float64
}

// PaperGatewayConfig holds configuration for the paper gateway.
type PaperGatewayConfig struct {
	InitialPosition int
	// Clock stamps order updates. Defaults to time.Now.
	Clock func() time.Time
}

// NewPaperGateway creates a new paper trading gateway.
func NewPaperGateway(cfg PaperGatewayConfig) *PaperGateway {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &PaperGateway{
		orders:   make(map[string]*paperOrder),
		nextID:   1,
		position: cfg.InitialPosition,
		updates:  make(chan models.OrderUpdate, updateBuffer),
		now:      now,
	}
}

// Connect marks the gateway connected.
func (p *PaperGateway) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return apperrors.NewGatewayError("connect", "paper gateway closed", apperrors.ErrNotConnected)
	}
	p.connected = true
	return nil
}

// PlaceOrder accepts an order for simulation.
func (p *PaperGateway) PlaceOrder(ctx context.Context, inst models.Instrument, req models.OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return "", p.disconnected("place")
	}
	if p.rejectNext {
		p.rejectNext = false
		return "", apperrors.NewOrderError("", req.Tag, "place", p.rejectReason, apperrors.ErrOrderRejected)
	}
	if req.Quantity <= 0 {
		return "", apperrors.NewOrderError("", req.Tag, "place", "quantity must be positive", apperrors.ErrOrderRejected)
	}

	o := &paperOrder{
		id:     strconv.Itoa(p.nextID),
		req:    req,
		status: models.StatusSubmitted,
		stop:   req.Spec.StopPrice,
	}

	if req.ParentID != "" {
		parent, ok := p.orders[req.ParentID]
		if !ok {
			return "", apperrors.NewOrderError("", req.Tag, "place", "unknown parent "+req.ParentID, apperrors.ErrOrderRejected)
		}
		switch {
		case parent.status == models.StatusFilled:
		case parent.status.IsActive():
			o.held = true
		default:
			return "", apperrors.NewOrderError("", req.Tag, "place", "parent "+req.ParentID+" is "+string(parent.status), apperrors.ErrOrderRejected)
		}
	}

	p.nextID++
	p.orders[o.id] = o
	p.sequence = append(p.sequence, o.id)

	if !o.held {
		o.status = models.StatusActive
		p.emitLocked(o, 0, 0, "")
	}
	return o.id, nil
}

// CancelOrder cancels a working order and any children held behind it.
// Cancelling a terminal order is a no-op.
func (p *PaperGateway) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return p.disconnected("cancel")
	}
	o, ok := p.orders[orderID]
	if !ok {
		return apperrors.NewGatewayError("cancel", "order "+orderID, apperrors.ErrOrderNotFound)
	}
	if o.status.IsActive() {
		p.terminateLocked(o, models.StatusCancelled, "cancelled")
	}
	return nil
}

// OpenOrders returns the working orders.
func (p *PaperGateway) OpenOrders(ctx context.Context) ([]models.OrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return nil, p.disconnected("open orders")
	}
	var states []models.OrderState
	for _, id := range p.sequence {
		o := p.orders[id]
		if o.status.IsActive() {
			states = append(states, models.OrderState{
				OrderID:  id,
				Status:   o.status,
				Side:     o.req.Side,
				Quantity: o.req.Quantity,
				Spec:     o.req.Spec,
				Tag:      o.req.Tag,
			})
		}
	}
	return states, nil
}

// Position returns the simulated net position.
func (p *PaperGateway) Position(ctx context.Context, inst models.Instrument) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return 0, p.disconnected("position")
	}
	return p.position, nil
}

// Updates returns the order update channel.
func (p *PaperGateway) Updates() <-chan models.OrderUpdate {
	return p.updates
}

// Close disconnects and closes the update channel.
func (p *PaperGateway) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.connected = false
	p.closed = true
	close(p.updates)
	return nil
}

// OnBar matches working orders against the bar.
func (p *PaperGateway) OnBar(bar models.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return
	}

	released := make(map[string]bool)
	for _, id := range p.sequence {
		o := p.orders[id]
		if !o.status.IsActive() || o.held || released[id] {
			continue
		}
		price, ok := o.trigger(bar)
		if !ok {
			continue
		}
		p.fillLocked(o, price)
		p.releaseChildrenLocked(id, released)
	}
}

// trigger reports whether the bar executes the order and at what price.
func (o *paperOrder) trigger(bar models.Bar) (float64, bool) {
	spec := o.req.Spec
	buy := o.req.Side == models.Buy

	switch spec.Type {
	case models.OrderTypeLimit:
		if buy && bar.Low <= spec.LimitPrice {
			return spec.LimitPrice, true
		}
		if !buy && bar.High >= spec.LimitPrice {
			return spec.LimitPrice, true
		}
	case models.OrderTypeStop:
		if buy && bar.High >= spec.StopPrice {
			return spec.StopPrice, true
		}
		if !buy && bar.Low <= spec.StopPrice {
			return spec.StopPrice, true
		}
	case models.OrderTypeTrailLimit:
		// Check against the stop as it stood before this bar, then ratchet.
		if buy {
			if o.stop > 0 && bar.High >= o.stop {
				return o.stop, true
			}
			if o.extreme == 0 || bar.Low < o.extreme {
				o.extreme = bar.Low
			}
			if next := o.extreme + spec.TrailAmount; o.stop == 0 || next < o.stop {
				o.stop = next
			}
		} else {
			if o.stop > 0 && bar.Low <= o.stop {
				return o.stop, true
			}
			if bar.High > o.extreme {
				o.extreme = bar.High
			}
			if next := o.extreme - spec.TrailAmount; next > o.stop {
				o.stop = next
			}
		}
	}
	return 0, false
}

func (p *PaperGateway) fillLocked(o *paperOrder, price float64) {
	o.status = models.StatusFilled
	p.position += o.req.Side.Sign() * o.req.Quantity
	p.emitLocked(o, o.req.Quantity, price, "")
}

// releaseChildrenLocked activates the children held behind a filled parent.
func (p *PaperGateway) releaseChildrenLocked(parentID string, released map[string]bool) {
	for _, child := range p.childrenLocked(parentID) {
		if child.held && child.status.IsActive() {
			child.held = false
			child.status = models.StatusActive
			if released != nil {
				released[child.id] = true
			}
			p.emitLocked(child, 0, 0, "")
		}
	}
}

// terminateLocked moves an order to a terminal status and cancels children
// still held behind it.
func (p *PaperGateway) terminateLocked(o *paperOrder, status models.OrderStatus, reason string) {
	o.status = status
	p.emitLocked(o, 0, 0, reason)
	for _, child := range p.childrenLocked(o.id) {
		if child.status.IsActive() {
			child.status = models.StatusCancelled
			p.emitLocked(child, 0, 0, "parent "+o.id+" "+string(status))
		}
	}
}

func (p *PaperGateway) childrenLocked(parentID string) []*paperOrder {
	var children []*paperOrder
	for _, id := range p.sequence {
		if o := p.orders[id]; o.req.ParentID == parentID {
			children = append(children, o)
		}
	}
	return children
}

func (p *PaperGateway) emitLocked(o *paperOrder, filled int, price float64, reason string) {
	if p.closed {
		return
	}
	p.pending = append(p.pending, models.OrderUpdate{
		OrderID:   o.id,
		Status:    o.status,
		FilledQty: filled,
		AvgPrice:  price,
		Reason:    reason,
		Time:      p.now(),
	})
	for len(p.pending) > 0 {
		select {
		case p.updates <- p.pending[0]:
			p.pending = p.pending[1:]
		default:
			return
		}
	}
}

func (p *PaperGateway) disconnected(op string) error {
	return apperrors.NewGatewayError(op, "paper gateway not connected", apperrors.ErrGatewayDisconnected)
}

// RejectNext makes the next PlaceOrder fail with reason.
func (p *PaperGateway) RejectNext(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectNext = true
	p.rejectReason = reason
}

// Reject turns a working order Inactive, as a broker does when a margin or
// position check fails after acceptance.
func (p *PaperGateway) Reject(orderID, reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok || !o.status.IsActive() {
		return false
	}
	p.terminateLocked(o, models.StatusInactive, reason)
	return true
}

// CancelExternally cancels a working order as if the broker or an operator
// had done it.
func (p *PaperGateway) CancelExternally(orderID, reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok || !o.status.IsActive() {
		return false
	}
	p.terminateLocked(o, models.StatusCancelled, reason)
	return true
}

// Fill executes a working order at price regardless of market data.
func (p *PaperGateway) Fill(orderID string, price float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok || !o.status.IsActive() || o.held {
		return false
	}
	p.fillLocked(o, price)
	p.releaseChildrenLocked(orderID, nil)
	return true
}

// Disconnect simulates a dropped connection.
func (p *PaperGateway) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
}

// SetPosition overrides the simulated position.
func (p *PaperGateway) SetPosition(q int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = q
}

// Status returns the simulated status of an order.
func (p *PaperGateway) Status(orderID string) (models.OrderStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return "", false
	}
	return o.status, true
}
