package main

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"vpnadm/backend/cert"
)

var upgrader = websocket.Upgrader{} // use default options

// wsHub pushes certificate lifecycle events to connected admin UIs.
type wsHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newWsHub() *wsHub {
	return &wsHub{conns: make(map[*websocket.Conn]struct{})}
}

func (h *wsHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *wsHub) broadcast(e cert.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteJSON(e); err != nil {
			log.Debugf("dropping websocket client: %v", err)
			delete(h.conns, conn)
			conn.Close()
		}
	}
}

func (app *VpnAdmin) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	app.hub.add(conn)
	go func() {
		for {
			// Clients are write-only from our side; reads just detect close.
			if _, _, err := conn.ReadMessage(); err != nil {
				app.hub.remove(conn)
				return
			}
		}
	}()
}
