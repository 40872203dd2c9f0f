package stream

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler streams hub events to websocket clients as JSON messages.
func Handler(h *Hub, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("Event stream upgrade failed")
			return
		}
		defer conn.Close()

		id := uuid.NewString()
		events := h.Subscribe(id)
		defer h.Unsubscribe(events)

		log := logger.With().Str("subscriber", id).Str("remote", r.RemoteAddr).Logger()
		log.Debug().Msg("Event stream subscriber connected")

		// The read loop only detects the client going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				log.Debug().Msg("Event stream subscriber left")
				return
			case ev, ok := <-events:
				if !ok {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
						time.Now().Add(writeWait))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					log.Debug().Err(err).Msg("Event stream write failed")
					return
				}
			}
		}
	})
}
