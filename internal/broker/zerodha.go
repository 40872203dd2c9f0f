package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/models"
)

// KiteGateway implements Gateway on Zerodha Kite Connect. Kite has no
// push channel for order updates over REST, so the order book is polled and
// status changes of orders placed by this gateway are emitted as updates.
type KiteGateway struct {
	client       *kiteconnect.Client
	accessToken  string
	product      string
	pollInterval time.Duration
	logger       zerolog.Logger

	mu        sync.Mutex
	known     map[string]models.OrderStatus
	connected bool
	closed    bool
	stop      context.CancelFunc
	wg        sync.WaitGroup

	updates chan models.OrderUpdate
}

// KiteGatewayConfig holds configuration for the Kite gateway.
type KiteGatewayConfig struct {
	APIKey       string
	AccessToken  string
	Product      string // MIS, NRML
	PollInterval time.Duration
}

// NewKiteGateway creates a new Kite Connect gateway.
func NewKiteGateway(cfg KiteGatewayConfig, logger zerolog.Logger) *KiteGateway {
	client := kiteconnect.New(cfg.APIKey)

	product := cfg.Product
	if product == "" {
		product = kiteconnect.ProductNRML
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &KiteGateway{
		client:       client,
		accessToken:  cfg.AccessToken,
		product:      product,
		pollInterval: poll,
		logger:       logger.With().Str("gateway", "kite").Logger(),
		known:        make(map[string]models.OrderStatus),
		updates:      make(chan models.OrderUpdate, updateBuffer),
	}
}

// Connect verifies the session and starts polling the order book.
func (k *KiteGateway) Connect(ctx context.Context) error {
	k.client.SetAccessToken(k.accessToken)
	if _, err := k.client.GetUserProfile(); err != nil {
		return apperrors.NewGatewayError("connect", "verifying kite session", mapKiteError(err))
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return apperrors.NewGatewayError("connect", "kite gateway closed", apperrors.ErrNotConnected)
	}
	if k.connected {
		return nil
	}
	k.connected = true

	pollCtx, cancel := context.WithCancel(context.Background())
	k.stop = cancel
	k.wg.Add(1)
	go k.pollOrders(pollCtx)
	return nil
}

// PlaceOrder places a regular-variety order. Attached children are not
// supported; flanks must be transmitted independently.
func (k *KiteGateway) PlaceOrder(ctx context.Context, inst models.Instrument, req models.OrderRequest) (string, error) {
	if err := k.ensureConnected("place"); err != nil {
		return "", err
	}
	if req.ParentID != "" {
		return "", apperrors.NewOrderError("", req.Tag, "place", "kite does not accept attached orders", apperrors.ErrOrderRejected)
	}

	params := kiteconnect.OrderParams{
		Exchange:        inst.Exchange,
		Tradingsymbol:   inst.Symbol,
		TransactionType: string(req.Side),
		Product:         k.product,
		Quantity:        req.Quantity,
		Validity:        kiteconnect.ValidityDay,
		Tag:             kiteTag(req.Tag),
	}

	switch req.Spec.Type {
	case models.OrderTypeLimit:
		params.OrderType = kiteconnect.OrderTypeLimit
		params.Price = req.Spec.LimitPrice
	case models.OrderTypeStop:
		params.OrderType = kiteconnect.OrderTypeSLM
		params.TriggerPrice = req.Spec.StopPrice
	case models.OrderTypeTrailLimit:
		// Kite has no trailing orders; the initial stop is sent as a static
		// stop-limit.
		params.OrderType = kiteconnect.OrderTypeSL
		params.TriggerPrice = req.Spec.StopPrice
		if req.Side == models.Sell {
			params.Price = req.Spec.StopPrice - req.Spec.LimitOffset
		} else {
			params.Price = req.Spec.StopPrice + req.Spec.LimitOffset
		}
	default:
		return "", apperrors.NewOrderError("", req.Tag, "place", fmt.Sprintf("unsupported order type %q", req.Spec.Type), apperrors.ErrOrderRejected)
	}

	resp, err := k.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return "", apperrors.NewOrderError("", req.Tag, "place", "kite place order", mapKiteError(err))
	}

	k.mu.Lock()
	k.known[resp.OrderID] = models.StatusSubmitted
	k.mu.Unlock()

	return resp.OrderID, nil
}

// CancelOrder cancels an open order.
func (k *KiteGateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := k.ensureConnected("cancel"); err != nil {
		return err
	}
	if _, err := k.client.CancelOrder(kiteconnect.VarietyRegular, orderID, nil); err != nil {
		return apperrors.NewGatewayError("cancel", "order "+orderID, mapKiteError(err))
	}
	return nil
}

// OpenOrders returns today's orders that are still working. A partially
// executed order is reported Filled.
func (k *KiteGateway) OpenOrders(ctx context.Context) ([]models.OrderState, error) {
	if err := k.ensureConnected("open orders"); err != nil {
		return nil, err
	}
	orders, err := k.client.GetOrders()
	if err != nil {
		return nil, apperrors.NewGatewayError("open orders", "fetching orders", mapKiteError(err))
	}

	var states []models.OrderState
	for _, o := range orders {
		if o.Status == "OPEN" || o.Status == "TRIGGER PENDING" {
			states = append(states, kiteOrderState(o))
		}
	}
	return states, nil
}

// Position returns the net quantity for the instrument.
func (k *KiteGateway) Position(ctx context.Context, inst models.Instrument) (int, error) {
	if err := k.ensureConnected("position"); err != nil {
		return 0, err
	}
	positions, err := k.client.GetPositions()
	if err != nil {
		return 0, apperrors.NewGatewayError("position", "fetching positions", mapKiteError(err))
	}

	qty := 0
	for _, p := range positions.Net {
		if p.Tradingsymbol == inst.Symbol && p.Exchange == inst.Exchange && p.Product == k.product {
			qty += p.Quantity
		}
	}
	return qty, nil
}

// Updates returns the order update channel.
func (k *KiteGateway) Updates() <-chan models.OrderUpdate {
	return k.updates
}

// Close stops polling and closes the update channel.
func (k *KiteGateway) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.connected = false
	stop := k.stop
	k.mu.Unlock()

	if stop != nil {
		stop()
	}
	k.wg.Wait()
	close(k.updates)
	return nil
}

func (k *KiteGateway) pollOrders(ctx context.Context) {
	defer k.wg.Done()

	ticker := time.NewTicker(k.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := k.pollOnce(ctx); err != nil {
				k.logger.Warn().Err(err).Msg("Order poll failed")
			}
		}
	}
}

func (k *KiteGateway) pollOnce(ctx context.Context) error {
	orders, err := k.client.GetOrders()
	if err != nil {
		return mapKiteError(err)
	}

	for _, o := range orders {
		u := kiteUpdate(o, time.Now())

		k.mu.Lock()
		prev, ours := k.known[o.OrderID]
		if ours && prev != u.Status {
			k.known[o.OrderID] = u.Status
		}
		k.mu.Unlock()

		if !ours || prev == u.Status {
			continue
		}
		select {
		case k.updates <- u:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (k *KiteGateway) ensureConnected(op string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.connected {
		return apperrors.NewGatewayError(op, "kite gateway not connected", apperrors.ErrGatewayDisconnected)
	}
	return nil
}

// kiteStatus maps an order book row onto an order status. Kite keeps a
// partially executed order OPEN; any executed quantity counts as a fill.
func kiteStatus(status string, filled float64) models.OrderStatus {
	switch status {
	case "COMPLETE":
		return models.StatusFilled
	case "CANCELLED":
		if filled > 0 {
			return models.StatusFilled
		}
		return models.StatusCancelled
	case "REJECTED":
		return models.StatusInactive
	case "OPEN", "TRIGGER PENDING":
		if filled > 0 {
			return models.StatusFilled
		}
		return models.StatusActive
	default:
		return models.StatusSubmitted
	}
}

func kiteUpdate(o kiteconnect.Order, now time.Time) models.OrderUpdate {
	u := models.OrderUpdate{
		OrderID:   o.OrderID,
		Status:    kiteStatus(o.Status, o.FilledQuantity),
		FilledQty: int(math.Round(o.FilledQuantity)),
		AvgPrice:  o.AveragePrice,
		Reason:    o.StatusMessage,
		Time:      o.ExchangeUpdateTimestamp.Time,
	}
	if u.Time.IsZero() {
		u.Time = now
	}
	return u
}

func kiteOrderState(o kiteconnect.Order) models.OrderState {
	state := models.OrderState{
		OrderID:  o.OrderID,
		Status:   kiteStatus(o.Status, o.FilledQuantity),
		Side:     models.Side(o.TransactionType),
		Quantity: int(math.Round(o.Quantity - o.FilledQuantity)),
		Tag:      o.Tag,
	}
	switch o.OrderType {
	case kiteconnect.OrderTypeLimit:
		state.Spec = models.OrderSpec{Type: models.OrderTypeLimit, LimitPrice: o.Price}
	case kiteconnect.OrderTypeSLM:
		state.Spec = models.OrderSpec{Type: models.OrderTypeStop, StopPrice: o.TriggerPrice}
	case kiteconnect.OrderTypeSL:
		state.Spec = models.OrderSpec{Type: models.OrderTypeTrailLimit, StopPrice: o.TriggerPrice, LimitOffset: math.Abs(o.Price - o.TriggerPrice)}
	}
	return state
}

// mapKiteError classifies Kite API errors into domain sentinels.
func mapKiteError(err error) error {
	var kerr kiteconnect.Error
	if !errors.As(err, &kerr) {
		var perr *kiteconnect.Error
		if !errors.As(err, &perr) {
			return err
		}
		kerr = *perr
	}

	switch kerr.ErrorType {
	case kiteconnect.OrderError, kiteconnect.InputError, kiteconnect.PermissionError:
		return fmt.Errorf("%s: %w", kerr.Message, apperrors.ErrOrderRejected)
	case kiteconnect.NetworkError, kiteconnect.TokenError:
		return fmt.Errorf("%s: %w", kerr.Message, apperrors.ErrGatewayDisconnected)
	}
	return err
}

// kiteTag truncates tags to Kite's 20 character limit.
func kiteTag(tag string) string {
	if len(tag) > 20 {
		return tag[:20]
	}
	return tag
}
