package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	wsWriteWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	wsPongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin access is governed by the CORS policy on the API;
	// the socket carries read-only packet data.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// handleWebSocket mirrors a channel's live packet stream over a WebSocket,
// for clients that prefer a socket to SSE. Same delivery contract: bounded
// queue, eviction on backpressure, one JSON record per message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channel, ok := s.trimChannel(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid channel")
		return
	}
	if s.packetHub == nil {
		s.writeError(w, http.StatusServiceUnavailable, "streaming unavailable")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.requestsFailed.Add(1)
		s.logger.Debug("websocket upgrade failed", "channel", channel, "error", err)
		return
	}

	sub := s.packetHub.Subscribe(channel)
	defer func() {
		s.packetHub.Unsubscribe(sub)
		_ = conn.Close()
	}()

	// Reader goroutine: consume control frames and surface disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-r.Context().Done():
			return

		case record, open := <-sub.C():
			if !open {
				// Evicted: tell the client why before closing.
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "client too slow"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(record); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
