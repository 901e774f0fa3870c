package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection and streams the owner's status events
// until the client goes away or the hub shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	sub := s.hub.Subscribe(ownerID)
	s.log.Debug("websocket subscriber connected", "owner_id", ownerID)

	// Drain client frames so control messages are processed and a closed
	// connection is noticed even when no events are flowing.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Cancel()
				conn.Close()
				return
			}
		}
	}()

	for ev := range sub.Events() {
		if err := conn.WriteJSON(ev); err != nil {
			break
		}
	}
	sub.Cancel()
	conn.Close()
	s.log.Debug("websocket subscriber disconnected", "owner_id", ownerID)
}
