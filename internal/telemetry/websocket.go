package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radio-control/controlplane/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSSink writes each event as one JSON text frame {id,type,radio,data}.
type WSSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWSSink wraps conn. A positive writeTimeout bounds each frame write.
func NewWSSink(conn *websocket.Conn, writeTimeout time.Duration) *WSSink {
	return &WSSink{conn: conn, writeTimeout: writeTimeout}
}

// WriteEvent implements Sink.
func (s *WSSink) WriteEvent(e Event) error {
	if e.Data == nil {
		e.Data = map[string]interface{}{}
	}
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteJSON(e)
}

// ServeWebSocket streams telemetry over a WebSocket. Resume and scope are
// read as for SSE. Any inbound frame is ignored; a read error ends the
// subscription.
func (h *Hub) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	opts := OptionsFromRequest(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logging.Fields{"error": err})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := h.Subscribe(ctx, NewWSSink(conn, h.config.HeartbeatTimeout), opts)
	if err != nil {
		reason := "subscribe failed"
		if errors.Is(err, ErrHubStopped) {
			reason = "server shutting down"
		}
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.config.HeartbeatTimeout))
		return
	}

	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	_ = sub.Wait()
}
