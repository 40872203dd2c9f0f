package trading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend-trader/internal/broker"
	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/models"
)

func TestTrendChanged(t *testing.T) {
	tests := []struct {
		q    int
		dir  models.Direction
		want bool
	}{
		{0, models.Up, false},
		{0, models.Down, false},
		{1, models.Up, false},
		{1, models.Down, true},
		{-2, models.Down, false},
		{-2, models.Up, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TrendChanged(tt.q, tt.dir), "q=%d dir=%s", tt.q, tt.dir)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, models.Flat, Classify(0))
	assert.Equal(t, models.Long, Classify(3))
	assert.Equal(t, models.Short, Classify(-1))
	assert.True(t, NoPosition(0))
	assert.False(t, NoPosition(-1))
}

func TestPositionTrackerQueriesEveryCall(t *testing.T) {
	ctx := context.Background()
	gw := broker.NewPaperGateway(broker.PaperGatewayConfig{InitialPosition: 2})
	require.NoError(t, gw.Connect(ctx))
	pt := NewPositionTracker(gw, testInstrument)

	q, err := pt.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, q)

	gw.SetPosition(-1)
	q, err = pt.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, -1, q)

	gw.Disconnect()
	_, err = pt.Current(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrGatewayDisconnected))
}

func TestIsStale(t *testing.T) {
	opened := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	trade := &models.Trade{
		Entry:    &models.Order{Status: models.StatusActive},
		OpenedAt: opened,
	}
	timeout := 30 * time.Second

	assert.False(t, IsStale(trade, 0, opened.Add(29*time.Second), timeout))
	assert.True(t, IsStale(trade, 0, opened.Add(30*time.Second), timeout))
	assert.True(t, IsStale(trade, 0, opened.Add(35*time.Second), timeout))
	assert.False(t, IsStale(trade, 1, opened.Add(35*time.Second), timeout), "positioned")
	assert.False(t, IsStale(nil, 0, opened.Add(35*time.Second), timeout))

	trade.Entry.CancelRequested = true
	assert.False(t, IsStale(trade, 0, opened.Add(35*time.Second), timeout))

	trade.Entry.CancelRequested = false
	trade.Entry.Status = models.StatusFilled
	assert.False(t, IsStale(trade, 0, opened.Add(35*time.Second), timeout))
}

func TestPriceHistory(t *testing.T) {
	h := NewPriceHistory(3)
	assert.Empty(t, h.Tail(5))

	for _, p := range []float64{1, 2, 3, 4} {
		h.Append(p)
	}
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []float64{2, 3, 4}, h.Tail(10))
	assert.Equal(t, []float64{3, 4}, h.Tail(2))

	tail := h.Tail(2)
	tail[0] = 99
	assert.Equal(t, []float64{3, 4}, h.Tail(2))
}
