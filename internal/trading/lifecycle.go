package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trend-trader/internal/broker"
	"trend-trader/internal/config"
	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/logging"
	"trend-trader/internal/models"
	"trend-trader/pkg/utils"
)

// CancelReason selects which orders CancelAll targets.
type CancelReason string

const (
	// CancelStale cancels the entry and every flank.
	CancelStale CancelReason = "stale"
	// CancelReverse cancels the flanks only; the entry already filled.
	CancelReverse CancelReason = "reverse"
)

// AppliedUpdate is a gateway notification that changed a known order.
type AppliedUpdate struct {
	Trade  *models.Trade
	Order  *models.Order
	Update models.OrderUpdate
}

// Lifecycle owns the orders of the current trade and of trades retired by
// a reversal. It is the only writer of Trade and Order fields.
type Lifecycle struct {
	gateway    broker.Gateway
	instrument models.Instrument
	cfg        config.StrategyConfig
	logger     zerolog.Logger

	now   func() time.Time
	newID func() string

	current *models.Trade
	retired []*models.Trade
}

// NewLifecycle creates a lifecycle manager submitting through gw.
func NewLifecycle(gw broker.Gateway, inst models.Instrument, cfg config.StrategyConfig, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		gateway:    gw,
		instrument: inst,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		newID:      utils.NewID,
	}
}

// Current returns the current trade, or nil before the first open.
func (lc *Lifecycle) Current() *models.Trade {
	return lc.current
}

// Trades returns the current trade followed by retired trades that still
// have working orders.
func (lc *Lifecycle) Trades() []*models.Trade {
	var trades []*models.Trade
	if lc.current != nil {
		trades = append(trades, lc.current)
	}
	return append(trades, lc.retired...)
}

// HasOpenOrders reports whether any owned order is still working.
func (lc *Lifecycle) HasOpenOrders() bool {
	for _, t := range lc.Trades() {
		if t.HasOpenOrders() {
			return true
		}
	}
	return false
}

// Open creates a new current trade: an entry limit at ref plus the flanks
// selected by the flank mode. The previous trade is retired. A rejected
// entry leaves the trade in place with the entry Inactive and its flanks
// untransmitted.
func (lc *Lifecycle) Open(ctx context.Context, side models.Side, qty int, ref float64, reason models.TradeReason) (*models.Trade, error) {
	now := lc.now()
	ref = RoundToTick(ref, lc.instrument.TickSize)

	trade := &models.Trade{
		ID: lc.newID(),
		Entry: &models.Order{
			Role:     models.RoleEntry,
			Kind:     models.KindEntry,
			Side:     side,
			Quantity: qty,
			Spec:     models.OrderSpec{Type: models.OrderTypeLimit, LimitPrice: ref},
			Status:   models.StatusInactive,
		},
		Flanks:   lc.flanks(side, ref),
		OpenedAt: now,
		Reason:   reason,
	}
	lc.retire()
	lc.current = trade

	log := logging.WithTrade(lc.logger, trade.ID)
	if err := lc.submit(ctx, trade, trade.Entry, ""); err != nil {
		for _, f := range trade.Flanks {
			f.CancelRequested = true
		}
		log.Warn().Err(err).Str("side", string(side)).Int("qty", qty).Msg("Entry not accepted")
		return trade, err
	}

	if !lc.cfg.LinkedFlanks {
		return trade, nil
	}
	for _, f := range trade.Flanks {
		if err := lc.submit(ctx, trade, f, trade.Entry.ID); err != nil {
			if apperrors.IsFatal(err) {
				return trade, err
			}
			log.Warn().Err(err).Str("kind", string(f.Kind)).Msg("Flank rejected, will resubmit once positioned")
		}
	}
	return trade, nil
}

// ResubmitFlank re-issues flanks that ended Cancelled or Inactive without
// a cancellation of our own. The entry is never touched. It returns the
// flanks that were accepted.
func (lc *Lifecycle) ResubmitFlank(ctx context.Context, trade *models.Trade) ([]*models.Order, error) {
	var parent string
	if lc.cfg.LinkedFlanks {
		parent = trade.Entry.ID
	}

	var accepted []*models.Order
	var errs []error
	for _, f := range trade.FlankGaps() {
		if err := lc.submit(ctx, trade, f, parent); err != nil {
			if apperrors.IsFatal(err) {
				return accepted, err
			}
			errs = append(errs, err)
			continue
		}
		accepted = append(accepted, f)
	}
	return accepted, errors.Join(errs...)
}

// CancelAll requests cancellation of the trade's working orders. It does
// not wait for confirmation. Cancel failures are logged and the order is
// left eligible for the next tick; only a fatal gateway error is returned.
func (lc *Lifecycle) CancelAll(ctx context.Context, trade *models.Trade, reason CancelReason) ([]string, error) {
	if trade == nil {
		return nil, nil
	}
	orders := trade.Flanks
	if reason == CancelStale {
		orders = trade.Orders()
	}
	return lc.cancel(ctx, trade, orders, string(reason))
}

// ReconcileFill cancels the siblings of a filled flank.
func (lc *Lifecycle) ReconcileFill(ctx context.Context, trade *models.Trade) ([]string, error) {
	filled := trade.FilledFlank()
	if filled == nil {
		return nil, nil
	}
	var siblings []*models.Order
	for _, f := range trade.Flanks {
		if f != filled {
			siblings = append(siblings, f)
		}
	}
	return lc.cancel(ctx, trade, siblings, "oco")
}

// PendingSiblings reports whether a flank filled while a sibling is still
// working without a cancellation request.
func PendingSiblings(trade *models.Trade) bool {
	filled := trade.FilledFlank()
	if filled == nil {
		return false
	}
	for _, f := range trade.Flanks {
		if f == filled || f.CancelRequested {
			continue
		}
		if f.IsActive() || !f.Transmitted() {
			return true
		}
	}
	return false
}

func (lc *Lifecycle) cancel(ctx context.Context, trade *models.Trade, orders []*models.Order, reason string) ([]string, error) {
	log := logging.WithTrade(lc.logger, trade.ID)
	var ids []string
	for _, o := range orders {
		if o.CancelRequested {
			continue
		}
		if !o.Transmitted() {
			// held locally, nothing to cancel at the gateway
			if o.Status != models.StatusFilled {
				o.CancelRequested = true
			}
			continue
		}
		if !o.IsActive() {
			continue
		}
		if err := lc.gateway.CancelOrder(ctx, o.ID); err != nil {
			if apperrors.IsFatal(err) {
				return ids, err
			}
			olog := logging.WithOrderID(log, o.ID)
			olog.Warn().Err(err).Str("reason", reason).Msg("Cancel failed")
			continue
		}
		o.CancelRequested = true
		o.UpdatedAt = lc.now()
		ids = append(ids, o.ID)
	}
	return ids, nil
}

// Apply folds a gateway notification into the owning order. Unknown ids
// and notifications for orders that already reached a terminal status are
// ignored.
func (lc *Lifecycle) Apply(u models.OrderUpdate) (AppliedUpdate, bool) {
	trade, order := lc.find(u.OrderID)
	if order == nil {
		lc.logger.Debug().Str("order_id", u.OrderID).Str("status", string(u.Status)).Msg("Update for unknown order")
		return AppliedUpdate{}, false
	}
	if order.Status.IsTerminal() || order.Status == u.Status {
		return AppliedUpdate{}, false
	}

	order.Status = u.Status
	order.UpdatedAt = u.Time
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = lc.now()
	}
	switch u.Status {
	case models.StatusFilled:
		// partial fills count as filled
		order.FilledQty = u.FilledQty
		if order.FilledQty == 0 {
			order.FilledQty = order.Quantity
		}
		order.AvgPrice = u.AvgPrice
		if order.Role == models.RoleEntry {
			lc.rearm(trade)
		}
	case models.StatusInactive:
		order.RejectReason = u.Reason
	}

	lc.prune()
	return AppliedUpdate{Trade: trade, Order: order, Update: u}, true
}

// Drain applies every notification already queued by the gateway without
// blocking.
func (lc *Lifecycle) Drain() []AppliedUpdate {
	var applied []AppliedUpdate
	updates := lc.gateway.Updates()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return applied
			}
			if a, changed := lc.Apply(u); changed {
				applied = append(applied, a)
			}
		default:
			return applied
		}
	}
}

// Reconcile re-derives the status of every locally working order from the
// gateway's open-order snapshot. Orders the gateway no longer reports are
// resolved against the position: an entry is Filled when positioned and
// Cancelled otherwise, a flank is Cancelled.
func (lc *Lifecycle) Reconcile(ctx context.Context, position int) (int, error) {
	states, err := lc.gateway.OpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching open orders: %w", err)
	}
	open := make(map[string]models.OrderStatus, len(states))
	for _, s := range states {
		open[s.OrderID] = s.Status
	}

	now := lc.now()
	changed := 0
	for _, t := range lc.Trades() {
		for _, o := range t.Orders() {
			if !o.Transmitted() || !o.IsActive() {
				continue
			}
			status, ok := open[o.ID]
			switch {
			case ok:
			case o.Role == models.RoleEntry && !NoPosition(position):
				status = models.StatusFilled
				o.FilledQty = o.Quantity
			default:
				status = models.StatusCancelled
			}
			if status != o.Status {
				o.Status = status
				o.UpdatedAt = now
				changed++
				if o.Role == models.RoleEntry && status == models.StatusFilled {
					lc.rearm(t)
				}
			}
		}
	}
	lc.prune()

	if lc.current == nil && !NoPosition(position) {
		lc.Adopt(position, states)
	}
	return changed, nil
}

// Adopt makes a position this session did not open the current trade. The
// entry is recorded as already filled and working exit-side orders from
// states become its flanks. Flanks are built by Arm when none are found.
func (lc *Lifecycle) Adopt(position int, states []models.OrderState) *models.Trade {
	side := models.Buy
	if position < 0 {
		side = models.Sell
	}
	qty := abs(position)
	now := lc.now()

	trade := &models.Trade{
		ID: lc.newID(),
		Entry: &models.Order{
			Role:      models.RoleEntry,
			Kind:      models.KindEntry,
			Side:      side,
			Quantity:  qty,
			Status:    models.StatusFilled,
			FilledQty: qty,
			UpdatedAt: now,
		},
		OpenedAt: now,
		Reason:   models.ReasonAdopted,
	}
	for _, s := range states {
		if s.Side != side.Opposite() || !s.Status.IsActive() {
			continue
		}
		trade.Flanks = append(trade.Flanks, &models.Order{
			ID:          s.OrderID,
			Role:        models.RoleFlank,
			Kind:        adoptedKind(s.Spec.Type),
			Side:        s.Side,
			Quantity:    s.Quantity,
			Spec:        s.Spec,
			Status:      s.Status,
			SubmittedAt: now,
			UpdatedAt:   now,
		})
	}

	lc.retire()
	lc.current = trade
	log := logging.WithTrade(lc.logger, trade.ID)
	log.Warn().
		Int("position", position).
		Int("flanks", len(trade.Flanks)).
		Msg("Adopted a position opened outside this session")
	return trade
}

// Arm builds flanks around ref for an adopted trade that has none. The
// flanks start untransmitted so the resubmission path sends them.
func (lc *Lifecycle) Arm(trade *models.Trade, ref float64) bool {
	if trade == nil || trade.Reason != models.ReasonAdopted || len(trade.Flanks) > 0 {
		return false
	}
	flanks := lc.flanks(trade.Entry.Side, RoundToTick(ref, lc.instrument.TickSize))
	for _, f := range flanks {
		f.Quantity = trade.Entry.Quantity
	}
	trade.Flanks = flanks
	return true
}

func adoptedKind(t models.OrderType) models.FlankKind {
	switch t {
	case models.OrderTypeStop:
		return models.KindStopLoss
	case models.OrderTypeTrailLimit:
		return models.KindTrailingStop
	}
	return models.KindTakeProfit
}

// rearm clears cancellation requests on the unfilled flanks of a trade
// whose entry filled. A stale cancel that lost the race with the fill
// leaves the flanks Cancelled or untransmitted, and the position needs them.
func (lc *Lifecycle) rearm(trade *models.Trade) {
	var cleared int
	for _, f := range trade.Flanks {
		if f.CancelRequested && f.Status != models.StatusFilled {
			f.CancelRequested = false
			cleared++
		}
	}
	if cleared > 0 {
		log := logging.WithTrade(lc.logger, trade.ID)
		log.Warn().
			Int("flanks", cleared).
			Msg("Entry filled after a cancel request, flanks rearmed")
	}
}

func (lc *Lifecycle) submit(ctx context.Context, trade *models.Trade, o *models.Order, parentID string) error {
	req := models.OrderRequest{
		Side:     o.Side,
		Quantity: o.Quantity,
		Spec:     o.Spec,
		ParentID: parentID,
		Tag:      trade.ID,
	}
	id, err := lc.gateway.PlaceOrder(ctx, lc.instrument, req)
	now := lc.now()
	o.UpdatedAt = now
	if err != nil {
		o.Status = models.StatusInactive
		o.RejectReason = err.Error()
		return err
	}
	o.ID = id
	o.ParentID = parentID
	o.Status = models.StatusSubmitted
	o.CancelRequested = false
	o.RejectReason = ""
	o.SubmittedAt = now
	return nil
}

// flanks builds the protective orders for an entry on side at ref. They
// start Inactive and untransmitted.
func (lc *Lifecycle) flanks(side models.Side, ref float64) []*models.Order {
	tick := lc.instrument.TickSize
	sign := float64(side.Sign())
	exit := side.Opposite()
	qty := lc.cfg.BaseOrderSize

	trail := func(offset float64) float64 {
		if lc.cfg.TrailType == config.TrailPercent {
			return RoundToTick(ref*offset/100, tick)
		}
		return offset
	}
	flank := func(kind models.FlankKind, spec models.OrderSpec) *models.Order {
		return &models.Order{
			Role:     models.RoleFlank,
			Kind:     kind,
			Side:     exit,
			Quantity: qty,
			Spec:     spec,
			Status:   models.StatusInactive,
		}
	}

	stop := flank(models.KindStopLoss, models.OrderSpec{
		Type:      models.OrderTypeStop,
		StopPrice: RoundToTick(ref-sign*lc.cfg.StopOffset, tick),
	})

	switch lc.cfg.FlankMode {
	case config.FlankTrailing:
		amt := trail(lc.cfg.StopOffset)
		return []*models.Order{flank(models.KindTrailingStop, models.OrderSpec{
			Type:        models.OrderTypeTrailLimit,
			StopPrice:   RoundToTick(ref-sign*amt, tick),
			TrailAmount: amt,
			LimitOffset: amt,
		})}
	case config.FlankBracketTrailing:
		amt := trail(lc.cfg.ProfitOffset)
		return []*models.Order{stop, flank(models.KindTakeProfit, models.OrderSpec{
			Type:        models.OrderTypeTrailLimit,
			StopPrice:   RoundToTick(ref-sign*amt, tick),
			TrailAmount: amt,
			LimitOffset: amt,
		})}
	default:
		return []*models.Order{stop, flank(models.KindTakeProfit, models.OrderSpec{
			Type:       models.OrderTypeLimit,
			LimitPrice: RoundToTick(ref+sign*lc.cfg.ProfitOffset, tick),
		})}
	}
}

func (lc *Lifecycle) find(id string) (*models.Trade, *models.Order) {
	for _, t := range lc.Trades() {
		if o := t.Order(id); o != nil {
			return t, o
		}
	}
	return nil, nil
}

func (lc *Lifecycle) retire() {
	if lc.current != nil && lc.current.HasOpenOrders() {
		lc.retired = append(lc.retired, lc.current)
	}
	lc.current = nil
}

// prune forgets retired trades whose orders are all terminal.
func (lc *Lifecycle) prune() {
	kept := lc.retired[:0]
	for _, t := range lc.retired {
		if t.HasOpenOrders() {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(lc.retired); i++ {
		lc.retired[i] = nil
	}
	lc.retired = kept
}
