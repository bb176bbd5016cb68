package server

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/feltworks/cardroom/internal/metrics"
)

// Hub tracks live connections and game room membership. It implements
// game.Broadcaster: ToGame fans out to every user subscribed to a game,
// ToUser unicasts to a user's current connection.
//
// One connection per user: a second websocket from the same user displaces
// the first. Room membership is keyed by user id, so it survives the swap
// and a reconnecting client keeps receiving its games' events.
type Hub struct {
	logger  *log.Logger
	metrics *metrics.Metrics
	clock   quartz.Clock

	mu    sync.RWMutex
	users map[string]*Connection
	rooms map[string]map[string]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger, m *metrics.Metrics, clock quartz.Clock) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Hub{
		logger:  logger.WithPrefix("hub"),
		metrics: m,
		clock:   clock,
		users:   make(map[string]*Connection),
		rooms:   make(map[string]map[string]struct{}),
	}
}

// register installs c as the user's current connection and returns the
// connection it displaced, if any. The caller closes the displaced one
// outside the hub lock.
func (h *Hub) register(c *Connection) *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.users[c.userID]
	h.users[c.userID] = c
	if prev == nil {
		h.metrics.ActiveConnections.Inc()
	}
	return prev
}

// unregister removes c if it is still the user's current connection and
// returns the games the user was subscribed to. A connection that was
// already displaced removes nothing and reports current=false.
func (h *Hub) unregister(c *Connection) (games []string, current bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[c.userID] != c {
		return nil, false
	}
	delete(h.users, c.userID)
	h.metrics.ActiveConnections.Dec()

	for gameID, members := range h.rooms {
		if _, ok := members[c.userID]; !ok {
			continue
		}
		delete(members, c.userID)
		if len(members) == 0 {
			delete(h.rooms, gameID)
		}
		games = append(games, gameID)
	}
	return games, true
}

// Subscribe adds the user to a game's room.
func (h *Hub) Subscribe(gameID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[gameID]
	if members == nil {
		members = make(map[string]struct{})
		h.rooms[gameID] = members
	}
	members[userID] = struct{}{}
}

// Unsubscribe removes the user from a game's room.
func (h *Hub) Unsubscribe(gameID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[gameID]
	if members == nil {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(h.rooms, gameID)
	}
}

// ToGame sends an event to every connected member of a game's room.
func (h *Hub) ToGame(gameID, event string, payload any) {
	msg := &ServerMessage{Type: event, Data: payload, Timestamp: h.clock.Now()}

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.rooms[gameID]))
	for userID := range h.rooms[gameID] {
		if c := h.users[userID]; c != nil {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.enqueue(msg)
	}
}

// ToUser sends an event to one user's current connection. Events for users
// without a connection are dropped; the registry resyncs them with a fresh
// state view when they come back.
func (h *Hub) ToUser(userID, event string, payload any) {
	h.mu.RLock()
	c := h.users[userID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	c.enqueue(&ServerMessage{Type: event, Data: payload, Timestamp: h.clock.Now()})
}
