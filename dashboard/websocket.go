package dashboard

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// serveWebsocket sends the status to the client
// every time it changes.
func (h *Handler) serveWebsocket(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// The upgrader has already sent an error response.
		logger.Infof("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	watcher := h.status.Watch()
	defer watcher.Close()

	// Read (and discard) client messages so that we notice when
	// the client goes away.
	go func() {
		defer watcher.Close()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Infof("websocket read error: %v", err)
				}
				return
			}
		}
	}()
	// Keep the connection alive while the status is not changing.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					watcher.Close()
					return
				}
			case <-pingDone:
				return
			}
		}
	}()
	for watcher.Next() {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(newStatusResponse(watcher.Value())); err != nil {
			logger.Infof("cannot send status: %v", err)
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeTimeout),
	)
}
