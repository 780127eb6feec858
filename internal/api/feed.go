package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/auricle-labs/timbre/internal/observe"
)

// feed upgrades the connection to a WebSocket and streams the engine's live
// activity as JSON text frames, one [ident.BusEvent] per frame. A subscriber
// that cannot keep up misses events rather than slowing the engine down.
func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept already wrote the handshake failure response.
		observe.Logger(r.Context()).Warn("feed upgrade failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed terminated")

	events, unsubscribe := s.engine.Bus().Subscribe()
	defer unsubscribe()

	s.metrics.ActiveFeedSubscribers.Add(r.Context(), 1)
	defer s.metrics.ActiveFeedSubscribers.Add(context.Background(), -1)

	// No inbound frames are expected; CloseRead keeps control frames flowing
	// and cancels the context when the client goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
