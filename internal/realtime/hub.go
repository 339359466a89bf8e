package realtime

import (
	"sync"

	"github.com/finquiz/backend/pkg/logger"
	"github.com/gofiber/contrib/websocket"
)

// Hub fans out presence snapshots to connected observers (the admin
// dashboard). Connections that fail a write are dropped.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
	_ = conn.Close()
}

func (h *Hub) Broadcast(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		if err := conn.WriteJSON(v); err != nil {
			logger.Warn("presence_observer_dropped", map[string]interface{}{
				"error": err.Error(),
			})
			delete(h.conns, conn)
			_ = conn.Close()
		}
	}
}

func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
