package api

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents upgrades the connection to a WebSocket and streams run
// lifecycle events from the broker. An optional ?network= query limits the
// stream to one network. The stream ends when the client disconnects or the
// broker shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	network := r.URL.Query().Get("network")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	ch, unsub := s.manager.Broker().Subscribe(network)
	defer unsub()

	// Read loop to detect client disconnect; incoming messages are ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Broker shut down.
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "event stream closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
