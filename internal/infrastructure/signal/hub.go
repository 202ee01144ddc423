package signal

import (
	"encoding/json"
	"sync"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type bindingKey struct {
	room domain.RoomID
	user domain.UserID
}

// Hub tracks open connections and which connection currently speaks for
// each (room, user) pair. Server-pushed events are routed through it.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	bindings map[bindingKey]*Client
	logger   *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		bindings: make(map[bindingKey]*Client),
		logger:   logger,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

// unregister drops c and every binding it still holds. It returns the
// rooms c was bound in.
func (h *Hub) unregister(c *Client) []domain.RoomID {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
	var rooms []domain.RoomID
	for k, owner := range h.bindings {
		if owner == c {
			delete(h.bindings, k)
			rooms = append(rooms, k.room)
		}
	}
	return rooms
}

// bind makes c the connection for user in room and returns the connection
// it displaced, if any. It fails once c has been unregistered.
func (h *Hub) bind(room domain.RoomID, user domain.UserID, c *Client) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.id] != c {
		return nil, false
	}
	key := bindingKey{room, user}
	previous := h.bindings[key]
	h.bindings[key] = c
	if previous == c {
		return nil, true
	}
	return previous, true
}

// restore undoes a bind made for a join that failed.
func (h *Hub) restore(room domain.RoomID, user domain.UserID, c, previous *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := bindingKey{room, user}
	if h.bindings[key] != c {
		return
	}
	if previous == nil {
		delete(h.bindings, key)
	} else {
		h.bindings[key] = previous
	}
}

// unbind removes the binding only if c still holds it.
func (h *Hub) unbind(room domain.RoomID, user domain.UserID, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := bindingKey{room, user}
	if h.bindings[key] != c {
		return false
	}
	delete(h.bindings, key)
	return true
}

func (h *Hub) registered(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[c.id] == c
}

func (h *Hub) owns(room domain.RoomID, user domain.UserID, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bindings[bindingKey{room, user}] == c
}

// NotifyPeer pushes an event to the connection bound to (room, user).
// Events for peers without a live connection are dropped.
func (h *Hub) NotifyPeer(roomID domain.RoomID, userID domain.UserID, event string, payload interface{}) {
	h.mu.RLock()
	c := h.bindings[bindingKey{roomID, userID}]
	h.mu.RUnlock()
	if c == nil {
		return
	}

	data, err := json.Marshal(ServerMessage{T: event, D: payload})
	if err != nil {
		h.logger.Errorw("failed to marshal event", "event", event, "error", err)
		return
	}
	c.trySend(data)
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every connection with a going-away close frame.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

var _ ports.PeerNotifier = (*Hub)(nil)
