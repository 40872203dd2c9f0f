package trading

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"trend-trader/internal/config"
	"trend-trader/internal/models"
)

const (
	opTickUp = iota
	opTickDown
	opFillFirst
	opFillLast
	opCancelExternally
	opRejectLast
	opAdvanceClock
	opRejectNext
	opRacyCancel
	opCount
)

// step applies one generated operation. Tick operations report their
// events.
func (h *harness) step(op int) ([]models.Event, error) {
	switch op {
	case opTickUp, opTickDown:
		price := upPrice
		if op == opTickDown {
			price = downPrice
		}
		before := len(h.rec.Events())
		if err := h.m.OnBar(h.ctx, models.Bar{Time: h.clock.Now(), Close: price}); err != nil {
			return nil, err
		}
		return h.rec.Events()[before:], nil
	case opFillFirst, opFillLast, opCancelExternally, opRejectLast:
		open, err := h.gw.OpenOrders(h.ctx)
		if err != nil {
			return nil, err
		}
		if op == opFillLast || op == opRejectLast {
			for i, j := 0, len(open)-1; i < j; i, j = i+1, j-1 {
				open[i], open[j] = open[j], open[i]
			}
		}
		for _, o := range open {
			var done bool
			switch op {
			case opFillFirst, opFillLast:
				done = h.gw.Fill(o.OrderID, upPrice)
			case opCancelExternally:
				done = h.gw.CancelExternally(o.OrderID, "operator")
			case opRejectLast:
				done = h.gw.Reject(o.OrderID, "risk")
			}
			if done {
				break
			}
		}
	case opAdvanceClock:
		h.clock.Advance(40 * time.Second)
	case opRejectNext:
		h.gw.RejectNext("margin")
	case opRacyCancel:
		h.race.fillOnCancel = true
	}
	return nil, nil
}

// checkInvariants verifies the machine after a tick.
func (h *harness) checkInvariants(events []models.Event, entries map[string]string) error {
	base := h.m.cfg.BaseOrderSize

	for _, ev := range events {
		switch ev.Action {
		case models.ActionOpen, models.ActionReentry:
			if ev.Quantity != base {
				return fmt.Errorf("%s with quantity %d", ev.Action, ev.Quantity)
			}
			entries[ev.TradeID] = ev.OrderIDs[0]
		case models.ActionReversal:
			if ev.Quantity != 2*base {
				return fmt.Errorf("reversal with quantity %d", ev.Quantity)
			}
			entries[ev.TradeID] = ev.OrderIDs[0]
		case models.ActionResubmitFlank:
			entry := entries[ev.TradeID]
			for _, id := range ev.OrderIDs {
				if id == entry {
					return fmt.Errorf("resubmit reissued entry %s", id)
				}
			}
			if cur := h.m.lifecycle.Current(); cur == nil || cur.Entry.ID != entry {
				return fmt.Errorf("resubmit changed the entry of %s", ev.TradeID)
			}
		case models.ActionCancelStale:
			if ev.Position != 0 {
				return fmt.Errorf("stale cancel while positioned %d", ev.Position)
			}
		}
	}

	activeEntries := 0
	for _, t := range h.m.lifecycle.Trades() {
		if t.Entry.IsActive() {
			activeEntries++
		}
	}
	if activeEntries > 1 {
		return fmt.Errorf("%d working entries", activeEntries)
	}

	// a filled entry on a live position keeps a working flank or is
	// reported as a flank gap the next tick repairs
	snap := h.m.Snapshot()
	if cur := h.m.lifecycle.Current(); cur != nil && !NoPosition(snap.Position) &&
		cur.Entry.Status == models.StatusFilled && cur.FilledFlank() == nil {
		working := false
		for _, f := range cur.Flanks {
			if f.IsActive() && !f.CancelRequested {
				working = true
			}
		}
		if !working && (snap.State != models.StatePositionedFlankGap || len(cur.FlankGaps()) == 0) {
			return fmt.Errorf("position %d of %s unprotected in %s", snap.Position, cur.ID, snap.State)
		}
	}

	if cur := h.m.lifecycle.Current(); cur != nil {
		if filled := cur.FilledFlank(); filled != nil {
			for _, f := range cur.Flanks {
				if f != filled && f.IsActive() && !f.CancelRequested {
					return fmt.Errorf("flank %s left working after %s filled", f.ID, filled.ID)
				}
			}
		}
	}
	return nil
}

// settle ticks until a tick produces no events.
func (h *harness) settle() (bool, error) {
	for i := 0; i < 8; i++ {
		events, err := h.step(opTickUp)
		if err != nil {
			return false, err
		}
		if len(events) == 0 {
			return true, nil
		}
	}
	return false, nil
}

func TestProperty_MachineInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("invariants hold for any sequence of ticks, broker events and lost cancels", prop.ForAll(
		func(ops []int, linked bool) bool {
			h, err := buildHarness(func(c *config.StrategyConfig) { c.LinkedFlanks = linked })
			if err != nil {
				t.Log(err)
				return false
			}
			entries := make(map[string]string)
			for i, op := range ops {
				events, err := h.step(op)
				if err != nil {
					t.Logf("step %d: %v", i, err)
					return false
				}
				if err := h.checkInvariants(events, entries); err != nil {
					t.Logf("step %d (op %d): %v", i, op, err)
					return false
				}
			}
			return true
		},
		gen.SliceOfN(30, gen.IntRange(0, opCount-1)),
		gen.Bool(),
	))

	properties.Property("an unchanged tick issues nothing once settled", prop.ForAll(
		func(ops []int) bool {
			h, err := buildHarness()
			if err != nil {
				return false
			}
			for _, op := range ops {
				if _, err := h.step(op); err != nil {
					return false
				}
			}
			settled, err := h.settle()
			if err != nil || !settled {
				return false
			}
			events, err := h.step(opTickUp)
			return err == nil && len(events) == 0
		},
		gen.SliceOfN(20, gen.IntRange(0, opAdvanceClock)),
	))

	properties.TestingRun(t)
}
