package feed

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"trend-trader/internal/models"
)

// barRow is one CSV record of a replay file.
type barRow struct {
	Time   string  `csv:"time"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume int64   `csv:"volume"`
	WAP    float64 `csv:"wap"`
}

// ReplayFeed streams bars recorded in a CSV file with a header of
// time,open,high,low,close,volume,wap. Time is RFC3339 or unix seconds.
type ReplayFeed struct {
	bars     []models.Bar
	interval time.Duration
}

// LoadReplay reads a replay file. Interval paces emission; zero replays as
// fast as the consumer reads.
func LoadReplay(path string, interval time.Duration) (*ReplayFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening replay file: %w", err)
	}
	defer f.Close()

	bars, err := ParseBars(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return NewReplayFeed(bars, interval), nil
}

// NewReplayFeed creates a replay feed over bars.
func NewReplayFeed(bars []models.Bar, interval time.Duration) *ReplayFeed {
	return &ReplayFeed{bars: bars, interval: interval}
}

// ParseBars decodes CSV bar records.
func ParseBars(r io.Reader) ([]models.Bar, error) {
	var rows []*barRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("decoding bars: %w", err)
	}

	bars := make([]models.Bar, 0, len(rows))
	for i, row := range rows {
		t, err := parseBarTime(row.Time)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		bars = append(bars, models.Bar{
			Time:   t,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
			WAP:    row.WAP,
		})
	}
	return bars, nil
}

func parseBarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid bar time %q", s)
	}
	return t, nil
}

// Len returns the number of bars to replay.
func (r *ReplayFeed) Len() int {
	return len(r.bars)
}

// Stream emits the recorded bars in order and closes the channel at the end.
func (r *ReplayFeed) Stream(ctx context.Context) (<-chan models.Bar, <-chan error) {
	out := make(chan models.Bar)
	errs := make(chan error, 1)

	go func() {
		defer close(out)

		var tick <-chan time.Time
		if r.interval > 0 {
			t := time.NewTicker(r.interval)
			defer t.Stop()
			tick = t.C
		}

		for _, bar := range r.bars {
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- bar:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs
}
