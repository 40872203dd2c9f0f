package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trend-trader/internal/broker"
	"trend-trader/internal/config"
	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/logging"
	"trend-trader/internal/models"
)

// Snapshot is a read-only view of the machine for reporting.
type Snapshot struct {
	State      models.MachineState
	Trade      *models.Trade
	Trend      models.TrendState
	HasTrend   bool
	Position   int
	LastBar    models.Bar
	Halted     bool
	HaltReason string
	Ticks      int64
}

// MachineConfig holds the collaborators of a Machine.
type MachineConfig struct {
	SessionID  string
	Instrument models.Instrument
	Strategy   config.StrategyConfig
	Gateway    broker.Gateway
	// Sink receives transition events. Optional.
	Sink   EventSink
	Logger zerolog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
	// TradeIDs generates trade ids. Defaults to ULIDs.
	TradeIDs        func() string
	HistoryCapacity int
}

// Machine is the per-instrument execution state machine. OnBar evaluates
// one tick to completion and issues at most one action.
type Machine struct {
	sessionID  string
	instrument models.Instrument
	cfg        config.StrategyConfig
	source     models.PriceSource
	gateway    broker.Gateway
	sink       EventSink
	logger     zerolog.Logger
	now        func() time.Time

	tracker   *PositionTracker
	lifecycle *Lifecycle
	history   *PriceHistory

	// tick serializes OnBar, Seed and Reconcile.
	tick sync.Mutex

	mu   sync.RWMutex
	snap Snapshot
}

// NewMachine validates the configuration and creates a machine in
// Flat-NoOrder.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if err := cfg.Instrument.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Gateway == nil {
		return nil, apperrors.NewValidationError("gateway", nil, "required")
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	logger := logging.WithInstrument(logging.WithSession(cfg.Logger, cfg.SessionID, 0), cfg.Instrument)

	lc := NewLifecycle(cfg.Gateway, cfg.Instrument, cfg.Strategy, logger)
	lc.now = now
	if cfg.TradeIDs != nil {
		lc.newID = cfg.TradeIDs
	}

	return &Machine{
		sessionID:  cfg.SessionID,
		instrument: cfg.Instrument,
		cfg:        cfg.Strategy,
		source:     cfg.Strategy.PriceSourceField(),
		gateway:    cfg.Gateway,
		sink:       cfg.Sink,
		logger:     logger,
		now:        now,
		tracker:    NewPositionTracker(cfg.Gateway, cfg.Instrument),
		lifecycle:  lc,
		history:    NewPriceHistory(cfg.HistoryCapacity),
		snap:       Snapshot{State: models.StateFlatNoOrder},
	}, nil
}

// Snapshot returns a copy of the current view. Safe for concurrent use.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snap
	s.Trade = m.snap.Trade.Clone()
	return s
}

// Instrument returns the traded instrument.
func (m *Machine) Instrument() models.Instrument {
	return m.instrument
}

// Seed appends historical bars to the price history without evaluating.
func (m *Machine) Seed(bars []models.Bar) {
	m.tick.Lock()
	defer m.tick.Unlock()
	for _, b := range bars {
		m.history.Append(b.Price(m.source))
	}
}

// OnBar processes one market-data tick. Recoverable errors are logged and
// swallowed; a fatal error halts the machine and is returned.
func (m *Machine) OnBar(ctx context.Context, bar models.Bar) error {
	m.tick.Lock()
	defer m.tick.Unlock()

	m.history.Append(bar.Price(m.source))
	m.update(func(s *Snapshot) {
		s.LastBar = bar
		s.Ticks++
	})

	if halted, reason := m.halted(); halted {
		return apperrors.Wrap(apperrors.ErrGatewayDisconnected, "automation halted: "+reason)
	}

	applied := m.lifecycle.Drain()

	pos, err := m.tracker.Current(ctx)
	if err != nil {
		for _, a := range applied {
			m.emitUpdate(a, m.Snapshot().Position)
		}
		return m.fail(err, "")
	}
	for _, a := range applied {
		m.emitUpdate(a, pos)
	}

	trend, err := Compute(m.history.Tail(m.window()), m.cfg.FastWindow, m.cfg.SlowWindow, m.instrument.TickSize)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Skipping tick")
		m.publish(pos, nil)
		return nil
	}
	logging.LogMarket(m.logger, m.instrument.Symbol, bar, trend, pos)
	if mo, ok := m.sink.(MarketObserver); ok {
		mo.ObserveMarket(bar, trend, pos)
	}

	err = m.evaluate(ctx, trend, pos)
	m.publish(pos, &trend)
	if err != nil {
		return m.fail(err, tradeID(m.lifecycle.Current()))
	}
	return nil
}

// Reconcile re-derives position and order status from the gateway and
// clears a halt. The gateway must be connected again before calling it.
func (m *Machine) Reconcile(ctx context.Context) error {
	m.tick.Lock()
	defer m.tick.Unlock()

	pos, err := m.tracker.Current(ctx)
	if err != nil {
		return fmt.Errorf("reconciling position: %w", err)
	}
	m.lifecycle.Drain()
	before := m.lifecycle.Current()
	changed, err := m.lifecycle.Reconcile(ctx, pos)
	if err != nil {
		return fmt.Errorf("reconciling orders: %w", err)
	}
	if trade := m.lifecycle.Current(); before == nil && trade != nil {
		m.emitAdopt(trade, pos)
	}

	m.update(func(s *Snapshot) {
		s.Halted = false
		s.HaltReason = ""
	})
	m.publish(pos, nil)

	trade := m.lifecycle.Current()
	m.emit(models.Event{
		Action:   models.ActionReconcile,
		TradeID:  tradeID(trade),
		OrderIDs: trade.OrderIDs(),
		Position: pos,
		Reason:   fmt.Sprintf("%d orders re-derived", changed),
	})
	m.recordTrade(trade)
	return nil
}

func (m *Machine) evaluate(ctx context.Context, trend models.TrendState, pos int) error {
	trade := m.lifecycle.Current()
	base := m.cfg.BaseOrderSize

	if !NoPosition(pos) {
		if trade == nil {
			states, err := m.gateway.OpenOrders(ctx)
			if err != nil {
				return err
			}
			trade = m.lifecycle.Adopt(pos, states)
			m.emitAdopt(trade, pos)
		}
		if m.lifecycle.Arm(trade, trend.FastMA) {
			m.recordTrade(trade)
		}
	}

	switch {
	case IsStale(trade, pos, m.now(), m.cfg.StalenessTimeout):
		ids, err := m.lifecycle.CancelAll(ctx, trade, CancelStale)
		m.emit(models.Event{
			Action:   models.ActionCancelStale,
			TradeID:  trade.ID,
			OrderIDs: ids,
			Side:     trade.Entry.Side,
			Quantity: trade.Entry.Quantity,
			Price:    trade.Entry.Spec.LimitPrice,
			Position: pos,
			Reason:   fmt.Sprintf("entry unfilled after %s", m.now().Sub(trade.OpenedAt).Truncate(time.Second)),
		})
		m.recordTrade(trade)
		return err

	case !NoPosition(pos) && trade != nil && trade.Entry.Status == models.StatusFilled &&
		trade.FilledFlank() == nil && len(trade.FlankGaps()) > 0:
		accepted, err := m.lifecycle.ResubmitFlank(ctx, trade)
		if len(accepted) > 0 {
			ids := make([]string, len(accepted))
			for i, f := range accepted {
				ids[i] = f.ID
			}
			m.emit(models.Event{
				Action:   models.ActionResubmitFlank,
				TradeID:  trade.ID,
				OrderIDs: ids,
				Side:     accepted[0].Side,
				Quantity: accepted[0].Quantity,
				Position: pos,
				Reason:   "flank " + string(accepted[0].Kind) + " reissued against entry " + trade.Entry.ID,
			})
		}
		m.rejected(trade, err, pos)
		m.recordTrade(trade)
		return err

	case PendingSiblings(trade):
		filled := trade.FilledFlank()
		ids, err := m.lifecycle.ReconcileFill(ctx, trade)
		m.emit(models.Event{
			Action:   models.ActionReconcileFill,
			TradeID:  trade.ID,
			OrderIDs: ids,
			Side:     filled.Side,
			Quantity: filled.FilledQty,
			Price:    filled.AvgPrice,
			Position: pos,
			Reason:   "flank " + string(filled.Kind) + " filled",
		})
		m.recordTrade(trade)
		return err

	case NoPosition(pos) && !TrendChanged(pos, trend.Direction) && !m.lifecycle.HasOpenOrders():
		action, reason := models.ActionReentry, models.ReasonReentry
		if trade == nil {
			action, reason = models.ActionOpen, models.ReasonOpen
		}
		return m.open(ctx, action, reason, trend, base, pos)

	case !NoPosition(pos) && TrendChanged(pos, trend.Direction) && !(trade.Reversal() && trade.EntryActive()):
		if abs(pos) != base {
			m.logger.Warn().Int("position", pos).Int("base", base).Msg("Reversing a position that is not base size")
		}
		if trade != nil {
			ids, err := m.lifecycle.CancelAll(ctx, trade, CancelReverse)
			m.emit(models.Event{
				Action:   models.ActionCancelReverse,
				TradeID:  trade.ID,
				OrderIDs: ids,
				Position: pos,
				Reason:   "trend turned " + trend.Direction.String(),
			})
			m.recordTrade(trade)
			if err != nil {
				return err
			}
		}
		return m.open(ctx, models.ActionReversal, models.ReasonReversal, trend, 2*base, pos)
	}
	return nil
}

func (m *Machine) open(ctx context.Context, action models.Action, reason models.TradeReason, trend models.TrendState, qty, pos int) error {
	side := trend.Direction.Side()
	trade, err := m.lifecycle.Open(ctx, side, qty, trend.FastMA, reason)
	if trade.Entry.Transmitted() {
		m.emit(models.Event{
			Action:   action,
			TradeID:  trade.ID,
			OrderIDs: trade.OrderIDs(),
			Side:     side,
			Quantity: qty,
			Price:    trade.Entry.Spec.LimitPrice,
			Position: pos,
			Reason:   fmt.Sprintf("trend %s fast=%.2f slow=%.2f", trend.Direction, trend.FastMA, trend.SlowMA),
		})
	}
	m.rejected(trade, err, pos)
	m.recordTrade(trade)
	return err
}

func (m *Machine) emitAdopt(trade *models.Trade, pos int) {
	m.emit(models.Event{
		Action:   models.ActionAdopt,
		TradeID:  trade.ID,
		OrderIDs: trade.OrderIDs(),
		Side:     trade.Entry.Side,
		Quantity: trade.Entry.Quantity,
		Position: pos,
		Reason:   fmt.Sprintf("position %d with %d working flanks", pos, len(trade.Flanks)),
	})
	m.recordTrade(trade)
}

// rejected emits an event for a non-fatal submission failure.
func (m *Machine) rejected(trade *models.Trade, err error, pos int) {
	if err == nil || !errors.Is(err, apperrors.ErrOrderRejected) {
		return
	}
	ev := models.Event{
		Action:   models.ActionReject,
		TradeID:  tradeID(trade),
		Position: pos,
		Reason:   err.Error(),
	}
	if trade != nil && !trade.Entry.Transmitted() {
		ev.Side = trade.Entry.Side
		ev.Quantity = trade.Entry.Quantity
		ev.Price = trade.Entry.Spec.LimitPrice
	}
	m.emit(ev)
}

func (m *Machine) emitUpdate(a AppliedUpdate, pos int) {
	logging.LogOrderUpdate(m.logger, a.Trade.ID, a.Update)
	action := models.ActionOrderUpdate
	if a.Order.Status == models.StatusInactive {
		action = models.ActionReject
	}
	qty := a.Order.Quantity
	if a.Order.Status == models.StatusFilled {
		qty = a.Order.FilledQty
	}
	reason := string(a.Order.Kind) + " " + string(a.Order.Status)
	if a.Update.Reason != "" {
		reason += ": " + a.Update.Reason
	}
	m.emit(models.Event{
		Action:   action,
		TradeID:  a.Trade.ID,
		OrderIDs: []string{a.Order.ID},
		Side:     a.Order.Side,
		Quantity: qty,
		Price:    a.Order.AvgPrice,
		Position: pos,
		Reason:   reason,
	})
	m.recordTrade(a.Trade)
}

// fail halts on fatal errors and logs the rest.
func (m *Machine) fail(err error, trade string) error {
	if !apperrors.IsFatal(err) {
		log := m.logger
		if trade != "" {
			log = logging.WithTrade(log, trade)
		}
		log.Warn().Err(err).Msg("Tick error")
		return nil
	}

	m.update(func(s *Snapshot) {
		s.Halted = true
		s.HaltReason = err.Error()
		s.State = models.StateHalted
	})
	m.logger.Error().Err(err).Msg("Halting automation")
	m.emit(models.Event{
		Action:   models.ActionHalt,
		TradeID:  trade,
		Position: m.Snapshot().Position,
		Reason:   err.Error(),
	})
	return err
}

func (m *Machine) halted() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.Halted, m.snap.HaltReason
}

// emit stamps ev with session, time and resulting state and hands it to
// the sink.
func (m *Machine) emit(ev models.Event) {
	ev.Time = m.now()
	ev.SessionID = m.sessionID
	if halted, _ := m.halted(); halted {
		ev.State = models.StateHalted
	} else {
		ev.State = DeriveState(m.lifecycle.Current(), ev.Position)
	}
	if m.sink == nil {
		logging.LogTransition(m.logger, ev)
		return
	}
	m.sink.Record(ev)
}

func (m *Machine) recordTrade(trade *models.Trade) {
	if trade == nil {
		return
	}
	if ts, ok := m.sink.(TradeSink); ok {
		ts.RecordTrade(trade.Clone())
	}
}

func (m *Machine) publish(pos int, trend *models.TrendState) {
	trade := m.lifecycle.Current().Clone()
	m.update(func(s *Snapshot) {
		s.Position = pos
		s.Trade = trade
		if trend != nil {
			s.Trend = *trend
			s.HasTrend = true
		}
		if s.Halted {
			s.State = models.StateHalted
		} else {
			s.State = DeriveState(trade, pos)
		}
	})
}

func (m *Machine) update(fn func(s *Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.snap)
}

func (m *Machine) window() int {
	if m.cfg.FastWindow > m.cfg.SlowWindow {
		return m.cfg.FastWindow
	}
	return m.cfg.SlowWindow
}

// DeriveState maps the current trade and position to a machine state.
func DeriveState(trade *models.Trade, position int) models.MachineState {
	if NoPosition(position) {
		if trade.EntryActive() && !trade.Entry.CancelRequested {
			return models.StateFlatPendingEntry
		}
		return models.StateFlatNoOrder
	}
	if trade.Reversal() && trade.EntryActive() {
		return models.StatePositionedReversal
	}
	if trade == nil {
		return models.StatePositionedFlankGap
	}
	if trade.FilledFlank() == nil && (!trade.FlankWorking() || len(trade.FlankGaps()) > 0) {
		return models.StatePositionedFlankGap
	}
	return models.StatePositionedProtected
}

func tradeID(t *models.Trade) string {
	if t == nil {
		return ""
	}
	return t.ID
}

func abs(q int) int {
	if q < 0 {
		return -q
	}
	return q
}
