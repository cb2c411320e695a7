// Package gateway fans engine snapshots out to viewer websockets. One hub
// owns the viewer set; each viewer gets a buffered send channel drained by
// its own write pump, so a slow client never blocks the broadcast path.
package gateway

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vishtheendodoc/orderflow-new/internal/app"
)

// initialSnapshotGap spaces the per-symbol snapshots sent to a fresh
// viewer so a client subscribing to hundreds of symbols is not flooded.
const initialSnapshotGap = 20 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub manages viewer clients and broadcast fan-out.
type Hub struct {
	state *app.State

	mu      sync.RWMutex
	clients map[*Client]bool

	// Metrics hooks (optional).
	OnViewerCount func(n int)
	OnBroadcast   func()
}

// NewHub creates the viewer hub.
func NewHub(state *app.State) *Hub {
	return &Hub{
		state:   state,
		clients: make(map[*Client]bool),
	}
}

// Broadcast sends an already-serialized snapshot to every viewer. The
// payload is shared between clients; it is serialized exactly once
// upstream of this call.
func (h *Hub) Broadcast(symbol string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		// Slow or dying viewers drop this update and catch up on the
		// next broadcast. Dead viewers are reaped via the pumps.
		client.trySend(data)
	}
	if h.OnBroadcast != nil {
		h.OnBroadcast()
	}
}

// HandleWS upgrades an HTTP request to a viewer websocket connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade: %v", err)
		return
	}

	client := newClient(h, conn)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] viewer %s connected (%d total)", client.id, count)
	if h.OnViewerCount != nil {
		h.OnViewerCount(count)
	}

	go client.writePump()
	go client.readPump()
	go client.sendInitialState()
}

// removeClient unregisters a client and closes its send channel. The
// close goes through the client's own lock so in-flight initial-state
// sends cannot race it.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		c.close()
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	log.Printf("[gateway] viewer %s disconnected (%d total)", c.id, count)
	if h.OnViewerCount != nil {
		h.OnViewerCount(count)
	}
}

// ViewerCount returns the number of connected viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
