package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = maxEventBytes
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsStream adapts a WebSocket connection to the hub's stream contract.
// gorilla permits one concurrent writer, which the hub guarantees by
// draining each subscription from a single goroutine.
type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Send(frame []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *wsStream) Close() {
	_ = s.conn.Close()
}

// handleWebSocket serves the bidirectional surface: outbound frames mirror
// the SSE stream, and inbound text messages go through the same ingestion
// path as the POST endpoint. Invalid inbound events close the connection.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(wsReadLimit)

	sub := h.hub.Subscribe(&wsStream{conn: conn})
	h.logger.Debug("websocket subscriber connected", zap.String("remote", r.RemoteAddr))

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if err := h.hub.Ingest(payload); err != nil {
			h.logger.Warn("rejecting websocket event", zap.Error(err))
			break
		}
	}

	h.hub.Unsubscribe(sub)
	h.logger.Debug("websocket subscriber disconnected", zap.String("remote", r.RemoteAddr))
}
