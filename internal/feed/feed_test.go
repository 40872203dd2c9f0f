package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/models"
)

const replayCSV = `time,open,high,low,close,volume,wap
2024-03-01T14:30:00Z,5100,5101.25,5099.5,5100.75,120,5100.4
2024-03-01T14:30:05Z,5100.75,5102,5100.5,5101.5,80,5101.2
1709303410,5101.5,5101.75,5100,5100.25,60,0
`

func collect(t *testing.T, bars <-chan models.Bar, errs <-chan error) ([]models.Bar, error) {
	t.Helper()
	var got []models.Bar
	timeout := time.After(5 * time.Second)
	for {
		select {
		case b, ok := <-bars:
			if !ok {
				select {
				case err := <-errs:
					return got, err
				default:
					return got, nil
				}
			}
			got = append(got, b)
		case <-timeout:
			t.Fatal("feed did not finish")
		}
	}
}

func TestParseBars(t *testing.T) {
	bars, err := ParseBars(strings.NewReader(replayCSV))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, 5100.75, bars[0].Close)
	assert.Equal(t, int64(120), bars[0].Volume)
	assert.Equal(t, 5100.4, bars[0].WAP)
	assert.Equal(t, time.Unix(1709303410, 0).UTC(), bars[2].Time)

	_, err = ParseBars(strings.NewReader("time,open,high,low,close,volume,wap\nyesterday,1,1,1,1,1,1\n"))
	assert.Error(t, err)
}

func TestReplayFeedStreamsInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(replayCSV), 0644))

	replay, err := LoadReplay(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, replay.Len())

	bars, errs := replay.Stream(context.Background())
	got, err := collect(t, bars, errs)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Time.Before(got[1].Time))
}

func TestGapDetectionTerminatesOnEnd(t *testing.T) {
	src := NewChannelFeed(4)
	src.Push(models.Bar{Close: 1})
	src.Push(models.Bar{Close: 2})
	src.End()

	bars, errs := WithGapDetection(src, time.Minute).Stream(context.Background())
	got, err := collect(t, bars, errs)
	assert.Len(t, got, 2)
	assert.True(t, errors.Is(err, apperrors.ErrFeedTerminated))
}

func TestGapDetectionFiresOnSilence(t *testing.T) {
	src := NewChannelFeed(1)
	src.Push(models.Bar{Close: 1})

	bars, errs := WithGapDetection(src, 50*time.Millisecond).Stream(context.Background())
	got, err := collect(t, bars, errs)
	assert.Len(t, got, 1)
	assert.True(t, errors.Is(err, apperrors.ErrFeedGap))
}

func TestGapDetectionIgnoresSlowConsumer(t *testing.T) {
	src := NewChannelFeed(4)
	for i := 1; i <= 3; i++ {
		src.Push(models.Bar{Close: float64(i)})
	}
	src.End()

	bars, errs := WithGapDetection(src, 30*time.Millisecond).Stream(context.Background())
	var got []models.Bar
	for bar := range bars {
		got = append(got, bar)
		time.Sleep(100 * time.Millisecond)
	}
	assert.Len(t, got, 3)
	err := <-errs
	assert.True(t, errors.Is(err, apperrors.ErrFeedTerminated), "got %v", err)
}

func TestGapDetectionForwardsInnerError(t *testing.T) {
	src := NewChannelFeed(1)
	boom := apperrors.Wrap(apperrors.ErrFeedTerminated, "socket closed")
	src.Errs <- boom

	bars, errs := WithGapDetection(src, time.Minute).Stream(context.Background())
	_, err := collect(t, bars, errs)
	assert.Equal(t, boom, err)
}

func TestWebsocketFeed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 3; i++ {
			msg := barMessage{
				Time:  time.Date(2024, 3, 1, 14, 30, i*5, 0, time.UTC),
				Open:  100,
				High:  101,
				Low:   99,
				Close: 100 + float64(i),
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws := NewWebsocketFeed(url, time.Second, zerolog.Nop())
	bars, errs := ws.Stream(context.Background())
	got, err := collect(t, bars, errs)

	require.Len(t, got, 3)
	assert.Equal(t, 102.0, got[2].Close)
	assert.True(t, errors.Is(err, apperrors.ErrFeedTerminated))
}

func TestBarBuilder(t *testing.T) {
	b := NewBarBuilder(5 * time.Second)
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	_, ok := b.Add(base.Add(1*time.Second), 100, 1000)
	assert.False(t, ok)
	_, ok = b.Add(base.Add(2*time.Second), 102, 1010)
	assert.False(t, ok)
	_, ok = b.Add(base.Add(3*time.Second), 99, 1030)
	assert.False(t, ok)

	bar, ok := b.Add(base.Add(6*time.Second), 101, 1040)
	require.True(t, ok)
	assert.Equal(t, base, bar.Time)
	assert.Equal(t, 100.0, bar.Open)
	assert.Equal(t, 102.0, bar.High)
	assert.Equal(t, 99.0, bar.Low)
	assert.Equal(t, 99.0, bar.Close)
	assert.Equal(t, int64(30), bar.Volume)
	assert.InDelta(t, (102*10+99*20)/30.0, bar.WAP, 1e-9)

	rest, ok := b.Flush()
	require.True(t, ok)
	assert.Equal(t, base.Add(5*time.Second), rest.Time)
	assert.Equal(t, int64(10), rest.Volume)
}
