package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"walletsync/pkg/auth"
	"walletsync/pkg/model"
)

// hubConn serializes writes; gorilla allows one concurrent writer per conn.
type hubConn struct {
	conn   *websocket.Conn
	claims *auth.Claims
	wmu    sync.Mutex
}

func (c *hubConn) writeJSON(v interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

// Hub keeps widget socket connections, hands inbound envelopes to onMessage
// and fans push events out to every client.
type Hub struct {
	upgrader  websocket.Upgrader
	mu        sync.RWMutex
	clients   map[*hubConn]struct{}
	onMessage func(claims *auth.Claims, msg model.Envelope)
}

// NewHub builds a hub; onMessage receives every inbound envelope along with
// the claims the connection authenticated with.
func NewHub(onMessage func(*auth.Claims, model.Envelope)) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   map[*hubConn]struct{}{},
		onMessage: onMessage,
	}
}

// HandleWS upgrades the request and registers the connection under the
// claims the auth middleware attached to it.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	hc := &hubConn{conn: c, claims: claimsFrom(r)}
	h.mu.Lock()
	h.clients[hc] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("widget ws connected remote=%s clients=%d", r.RemoteAddr, n)
	go h.readLoop(hc)
}

// Broadcast sends event to every connected client and returns how many
// writes succeeded.
func (h *Hub) Broadcast(event string, payload interface{}) int {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws broadcast marshal failed: %v", err)
		return 0
	}
	msg := model.Envelope{Type: event, Payload: b}
	h.mu.RLock()
	conns := make([]*hubConn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if err := c.writeJSON(msg); err != nil {
			log.Printf("ws broadcast to %s failed: %v", c.conn.RemoteAddr(), err)
			go h.remove(c)
			continue
		}
		sent++
	}
	log.Printf("ws broadcast type=%s delivered=%d", event, sent)
	return sent
}

// Count reports connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.clients
	h.clients = map[*hubConn]struct{}{}
	h.mu.Unlock()
	for c := range conns {
		_ = c.conn.Close()
	}
}

func (h *Hub) readLoop(c *hubConn) {
	defer h.remove(c)
	for {
		var msg model.Envelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		log.Printf("ws recv from %s type=%s", c.conn.RemoteAddr(), msg.Type)
		if h.onMessage != nil {
			h.onMessage(c.claims, msg)
		}
	}
}

func (h *Hub) remove(c *hubConn) {
	_ = c.conn.Close()
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		log.Printf("widget ws disconnected remote=%s", c.conn.RemoteAddr())
	}
}
