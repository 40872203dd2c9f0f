package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/models"
)

// KiteFeed builds bars from the Kite Connect ticker for one instrument
// token. Automatic reconnection is disabled: a dropped ticker ends the
// stream so the session re-derives state before trading again.
type KiteFeed struct {
	apiKey      string
	accessToken string
	token       uint32
	interval    time.Duration
	logger      zerolog.Logger
}

// KiteFeedConfig holds configuration for the Kite ticker feed.
type KiteFeedConfig struct {
	APIKey          string
	AccessToken     string
	InstrumentToken uint32
	BarInterval     time.Duration
}

// NewKiteFeed creates a Kite ticker bar feed.
func NewKiteFeed(cfg KiteFeedConfig, logger zerolog.Logger) *KiteFeed {
	interval := cfg.BarInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &KiteFeed{
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		token:       cfg.InstrumentToken,
		interval:    interval,
		logger:      logger.With().Str("feed", "kite").Uint32("token", cfg.InstrumentToken).Logger(),
	}
}

// Stream connects the ticker and emits a bar each time an interval closes.
func (k *KiteFeed) Stream(ctx context.Context) (<-chan models.Bar, <-chan error) {
	out := make(chan models.Bar, 16)
	errs := make(chan error, 1)

	ticker := kiteticker.New(k.apiKey, k.accessToken)
	ticker.SetAutoReconnect(false)

	builder := NewBarBuilder(k.interval)
	var mu sync.Mutex
	var closed bool
	var once sync.Once
	done := make(chan struct{})
	finish := func(err error) {
		once.Do(func() {
			if err != nil {
				sendErr(errs, err)
			}
			close(done)
		})
	}

	ticker.OnConnect(func() {
		k.logger.Info().Msg("Ticker connected")
		if err := ticker.Subscribe([]uint32{k.token}); err != nil {
			finish(apperrors.Wrapf(apperrors.ErrFeedTerminated, "subscribing token %d: %v", k.token, err))
			return
		}
		if err := ticker.SetMode(kiteticker.ModeFull, []uint32{k.token}); err != nil {
			finish(apperrors.Wrapf(apperrors.ErrFeedTerminated, "setting mode: %v", err))
		}
	})

	ticker.OnError(func(err error) {
		k.logger.Warn().Err(err).Msg("Ticker error")
	})

	ticker.OnClose(func(code int, reason string) {
		finish(apperrors.Wrap(apperrors.ErrFeedTerminated, fmt.Sprintf("ticker closed (%d): %s", code, reason)))
	})

	ticker.OnTick(func(tick kitemodels.Tick) {
		if tick.InstrumentToken != k.token {
			return
		}
		at := tick.Timestamp.Time
		if at.IsZero() {
			at = time.Now()
		}

		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		bar, ok := builder.Add(at, tick.LastPrice, int64(tick.VolumeTraded))
		if !ok {
			return
		}
		select {
		case out <- bar:
		case <-done:
		}
	})

	go ticker.Serve()

	go func() {
		select {
		case <-ctx.Done():
			finish(nil)
		case <-done:
		}
		_ = ticker.Close()

		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out, errs
}
