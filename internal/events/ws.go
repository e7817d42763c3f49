package events

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Handler upgrades the request to a websocket and streams broker events
// for one session until the client disconnects. When sessionID is empty
// every session's events are forwarded.
func Handler(broker *Broker, sessionID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}

		id, ch := broker.Subscribe()
		slog.Debug("event subscriber connected", "subscriber", id, "session", sessionID)

		// Reader goroutine: its only job is noticing the close frame so
		// the writer loop below can exit.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := wsutil.ReadClientData(conn); err != nil {
					return
				}
			}
		}()

		defer func() {
			broker.Unsubscribe(id)
			conn.Close()
			slog.Debug("event subscriber disconnected", "subscriber", id)
		}()

		for {
			select {
			case <-closed:
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if sessionID != "" && evt.SessionID != sessionID {
					continue
				}
				data, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				if err := wsutil.WriteServerMessage(conn, ws.OpText, data); err != nil {
					return
				}
			}
		}
	}
}
