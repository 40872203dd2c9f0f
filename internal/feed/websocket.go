package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/models"
)

// barMessage is the JSON payload of one bar on the websocket feed.
type barMessage struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	WAP    float64   `json:"wap"`
}

// WebsocketFeed reads JSON bars from a websocket endpoint. The connection
// is not re-established; any read failure ends the stream.
type WebsocketFeed struct {
	URL         string
	ReadTimeout time.Duration
	logger      zerolog.Logger
}

// NewWebsocketFeed creates a websocket bar feed.
func NewWebsocketFeed(url string, readTimeout time.Duration, logger zerolog.Logger) *WebsocketFeed {
	return &WebsocketFeed{
		URL:         url,
		ReadTimeout: readTimeout,
		logger:      logger.With().Str("feed", "websocket").Logger(),
	}
}

// Stream dials the endpoint and pumps bars until the connection ends.
func (w *WebsocketFeed) Stream(ctx context.Context) (<-chan models.Bar, <-chan error) {
	out := make(chan models.Bar)
	errs := make(chan error, 1)

	go func() {
		defer close(out)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.URL, nil)
		if err != nil {
			sendErr(errs, apperrors.Wrapf(apperrors.ErrFeedTerminated, "dialing %s: %v", w.URL, err))
			return
		}
		defer conn.Close()
		w.logger.Info().Str("url", w.URL).Msg("Connected to bar feed")

		// Unblock ReadJSON on cancellation.
		stop := context.AfterFunc(ctx, func() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		})
		defer stop()

		for {
			if w.ReadTimeout > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(w.ReadTimeout))
			}
			var msg barMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() != nil {
					return
				}
				sendErr(errs, apperrors.Wrapf(apperrors.ErrFeedTerminated, "reading bar: %v", err))
				return
			}
			bar := models.Bar{
				Time:   msg.Time,
				Open:   msg.Open,
				High:   msg.High,
				Low:    msg.Low,
				Close:  msg.Close,
				Volume: msg.Volume,
				WAP:    msg.WAP,
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
