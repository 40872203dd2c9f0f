package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend-trader/internal/models"
)

var testInstrument = models.Instrument{
	Symbol:       "MES",
	Exchange:     "GLOBEX",
	ContractType: models.ContractFuture,
	Expiry:       "202412",
	TickSize:     0.25,
	Currency:     "USD",
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProperty_RecentBarsReturnsNewestInOrder(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	run := 0
	properties.Property("RecentBars returns the last n bars in ascending time", prop.ForAll(
		func(count, n int) bool {
			ctx := context.Background()
			run++
			instrument := testInstrument.Key() + ":" + time.Duration(run).String()

			for i := 0; i < count; i++ {
				bar := models.Bar{
					Time:  base.Add(time.Duration(i) * 5 * time.Second),
					Open:  4100,
					High:  4101,
					Low:   4099,
					Close: 4100 + float64(i),
				}
				if err := s.SaveBar(ctx, instrument, bar); err != nil {
					t.Logf("save: %v", err)
					return false
				}
			}

			bars, err := s.RecentBars(ctx, instrument, n)
			if err != nil {
				t.Logf("recent: %v", err)
				return false
			}

			want := n
			if count < n {
				want = count
			}
			if len(bars) != want {
				t.Logf("got %d bars, want %d", len(bars), want)
				return false
			}
			for i, b := range bars {
				if b.Close != 4100+float64(count-want+i) {
					t.Logf("bar %d close %v", i, b.Close)
					return false
				}
				if i > 0 && !b.Time.After(bars[i-1].Time) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 30),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

func TestSaveBarReplacesSameTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	require.NoError(t, s.SaveBar(ctx, "MES", models.Bar{Time: at, Close: 1}))
	require.NoError(t, s.SaveBar(ctx, "MES", models.Bar{Time: at, Close: 2}))

	bars, err := s.RecentBars(ctx, "MES", 10)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 2.0, bars[0].Close)
	assert.True(t, bars[0].Time.Equal(at))
}

func TestEventsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	events := []models.Event{
		{Time: at, SessionID: "s1", TradeID: "t1", Action: models.ActionOpen, OrderIDs: []string{"o1", "o2", "o3"}, Side: models.Buy, Quantity: 1, Price: 4100.25, State: models.StateFlatPendingEntry, Reason: "trend up"},
		{Time: at.Add(5 * time.Second), SessionID: "s1", TradeID: "t1", Action: models.ActionOrderUpdate, OrderIDs: []string{"o1"}, Position: 1},
		{Time: at.Add(10 * time.Second), SessionID: "s1", TradeID: "t1", Action: models.ActionReconcileFill, OrderIDs: []string{"o3"}, Position: 0},
		{Time: at.Add(15 * time.Second), SessionID: "s2", TradeID: "t2", Action: models.ActionOpen, OrderIDs: []string{"o4"}, Quantity: 1},
	}
	for _, ev := range events {
		require.NoError(t, s.SaveEvent(ctx, ev))
	}

	got, err := s.GetEvents(ctx, EventFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, models.ActionOpen, got[0].Action)
	assert.Equal(t, []string{"o1", "o2", "o3"}, got[0].OrderIDs)
	assert.Equal(t, models.Buy, got[0].Side)
	assert.Equal(t, 4100.25, got[0].Price)
	assert.Equal(t, models.StateFlatPendingEntry, got[0].State)
	assert.Equal(t, "trend up", got[0].Reason)
	assert.True(t, got[0].Time.Equal(at))

	got, err = s.GetEvents(ctx, EventFilter{Action: models.ActionOpen})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.GetEvents(ctx, EventFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.ActionReconcileFill, got[0].Action, "newest events, oldest first")
	assert.Equal(t, "s2", got[1].SessionID)

	got, err = s.GetEvents(ctx, EventFilter{TradeID: "t1", Since: at.Add(5 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func testTrade(id string) *models.Trade {
	return &models.Trade{
		ID:       id,
		Reason:   models.ReasonOpen,
		OpenedAt: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		Entry: &models.Order{
			ID: "o1", Role: models.RoleEntry, Kind: models.KindEntry, Side: models.Buy, Quantity: 1,
			Spec:   models.OrderSpec{Type: models.OrderTypeLimit, LimitPrice: 4100.25},
			Status: models.StatusSubmitted,
		},
		Flanks: []*models.Order{
			{ID: "o2", Role: models.RoleFlank, Kind: models.KindStopLoss, Side: models.Sell, Quantity: 1, ParentID: "o1",
				Spec: models.OrderSpec{Type: models.OrderTypeStop, StopPrice: 4098.25}, Status: models.StatusSubmitted},
			{ID: "o3", Role: models.RoleFlank, Kind: models.KindTakeProfit, Side: models.Sell, Quantity: 1, ParentID: "o1",
				Spec: models.OrderSpec{Type: models.OrderTypeLimit, LimitPrice: 4101.25}, Status: models.StatusSubmitted},
		},
	}
}

func TestSaveTradeUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.StartSession(ctx, SessionInfo{ID: "s1", ClientID: 7, Instrument: "MES", Mode: "paper", StartedAt: time.Now()}))

	trade := testTrade("t1")
	require.NoError(t, s.SaveTrade(ctx, "MES", trade))

	trade.Entry.Status = models.StatusFilled
	trade.Entry.AvgPrice = 4100.25
	trade.Flanks[1].Status = models.StatusFilled
	require.NoError(t, s.SaveTrade(ctx, "MES", trade))
	require.NoError(t, s.SaveTrade(ctx, "MES", nil))

	records, err := s.GetTrades(ctx, TradeFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "s1", r.SessionID)
	assert.Equal(t, "MES", r.Instrument)
	assert.Equal(t, "t1", r.Trade.ID)
	assert.Equal(t, models.ReasonOpen, r.Trade.Reason)
	require.NotNil(t, r.Trade.Entry)
	assert.Equal(t, models.StatusFilled, r.Trade.Entry.Status)
	require.Len(t, r.Trade.Flanks, 2)
	assert.Equal(t, models.KindStopLoss, r.Trade.Flanks[0].Kind)
	assert.Equal(t, 4098.25, r.Trade.Flanks[0].Spec.StopPrice)
	assert.Equal(t, "o3", r.Trade.FilledFlank().ID)

	records, err = s.GetTrades(ctx, TradeFilter{Reason: models.ReasonReversal})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestJournalSink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.StartSession(ctx, SessionInfo{ID: "s1", Instrument: testInstrument.Key(), Mode: "paper", StartedAt: time.Now()}))

	sink := NewJournalSink(s, "s1", testInstrument, zerolog.Nop())
	sink.Record(models.Event{Time: time.Now(), Action: models.ActionOpen, TradeID: "t1"})
	sink.RecordTrade(testTrade("t1"))
	require.NoError(t, sink.RecordBar(testInstrument, models.Bar{Time: time.Now(), Close: 4100}))

	events, err := s.GetEvents(ctx, EventFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "t1", events[0].TradeID)

	trades, err := s.GetTrades(ctx, TradeFilter{Instrument: testInstrument.Key()})
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	bars, err := s.RecentBars(ctx, testInstrument.Key(), 5)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}
