package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/feed"
	"trend-trader/internal/models"
)

type barLog struct {
	mu   sync.Mutex
	bars []models.Bar
}

func (b *barLog) RecordBar(inst models.Instrument, bar models.Bar) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bars = append(b.bars, bar)
	return nil
}

func (b *barLog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bars)
}

func TestSessionRunTradesAgainstPaperFills(t *testing.T) {
	h := newHarness(t)
	src := feed.NewChannelFeed(8)
	bars := &barLog{}
	session := NewSession(h.m, src, h.gw, bars, zerolog.Nop())

	// open, entry fills, take-profit fills, re-entry
	src.Push(models.Bar{Open: upPrice, High: upPrice, Low: upPrice, Close: upPrice})
	src.Push(models.Bar{Open: upPrice, High: 4101, Low: 4100, Close: upPrice})
	src.Push(models.Bar{Open: upPrice, High: 4101.5, Low: 4100, Close: upPrice})
	src.Push(models.Bar{Open: upPrice, High: upPrice, Low: upPrice, Close: upPrice})
	src.End()

	err := session.Run(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrFeedTerminated))
	assert.Equal(t, 4, bars.Len())

	assert.Equal(t, []models.Action{
		models.ActionOpen,
		models.ActionReconcileFill,
		models.ActionReentry,
	}, transitions(h.rec.Events()))
	assert.Equal(t, 0, h.m.Snapshot().Position)
}

func TestSessionStopsOnFeedError(t *testing.T) {
	h := newHarness(t)
	src := feed.NewChannelFeed(1)
	gap := apperrors.Wrap(apperrors.ErrFeedGap, "no bar for 15s")
	src.Errs <- gap

	err := NewSession(h.m, src, h.gw, nil, zerolog.Nop()).Run(context.Background())
	assert.Equal(t, gap, err)
}

func TestSessionStopDetachesWithoutCancelling(t *testing.T) {
	h := newHarness(t)
	src := feed.NewChannelFeed(8)
	session := NewSession(h.m, src, h.gw, nil, zerolog.Nop())

	require.NoError(t, session.Start(context.Background()))
	assert.True(t, errors.Is(session.Start(context.Background()), apperrors.ErrSessionRunning))

	src.Push(models.Bar{Close: upPrice})
	require.Eventually(t, func() bool {
		return h.m.Snapshot().Trade != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, session.Stop())
	<-session.Done()

	open, err := h.gw.OpenOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 3, "entry and flanks stay with the broker")
	assert.NoError(t, session.Err())
}
