// README: Websocket hub. One live connection per user, last connect wins;
// drivers additionally join the shared broadcast group. Delivery is
// best-effort: a client that cannot keep up is dropped, never waited on.
package gateway

import (
	"context"
	"sync"

	"carpool/internal/logger"
	"carpool/internal/types"
)

// Presence is told when a driver connection appears or goes away. Backed by
// the redis pool store in production.
type Presence interface {
	MarkOnline(ctx context.Context, driverID types.ID) error
	MarkOffline(ctx context.Context, driverID types.ID) error
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[types.ID]*Client
	groups   map[string]map[types.ID]*Client
	presence Presence
	log      logger.ILogger
}

func NewHub(presence Presence, log logger.ILogger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients:  make(map[types.ID]*Client),
		groups:   make(map[string]map[types.ID]*Client),
		presence: presence,
		log:      log,
	}
}

// Register binds the client as the user's live connection. An existing
// connection for the same user is closed and replaced.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	old := h.clients[c.UserID]
	h.clients[c.UserID] = c
	if old != nil {
		for _, members := range h.groups {
			if members[c.UserID] == old {
				members[c.UserID] = c
			}
		}
	}
	h.mu.Unlock()

	if old != nil {
		old.closeSend()
	}
	if c.Role == types.RoleDriver && h.presence != nil {
		if err := h.presence.MarkOnline(context.Background(), c.UserID); err != nil {
			h.log.Warning("presence mark online failed",
				logger.String("user_id", string(c.UserID)), logger.Error(err))
		}
	}
}

// Unregister removes the client if it is still the user's current connection.
// A client replaced by a newer connection must not evict its successor.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	current := h.clients[c.UserID] == c
	if current {
		delete(h.clients, c.UserID)
		for _, members := range h.groups {
			if members[c.UserID] == c {
				delete(members, c.UserID)
			}
		}
	}
	h.mu.Unlock()

	if current && c.Role == types.RoleDriver && h.presence != nil {
		if err := h.presence.MarkOffline(context.Background(), c.UserID); err != nil {
			h.log.Warning("presence mark offline failed",
				logger.String("user_id", string(c.UserID)), logger.Error(err))
		}
	}
}

func (h *Hub) Join(group string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[types.ID]*Client)
		h.groups[group] = members
	}
	members[c.UserID] = c
}

// Push delivers to one user. Returns false when the user has no connection
// or the connection's buffer is full.
func (h *Hub) Push(userID types.ID, payload []byte) bool {
	h.mu.RLock()
	c := h.clients[userID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	return c.trySend(payload)
}

// PushGroup fans the payload out to every member of the group and returns
// the users it actually reached.
func (h *Hub) PushGroup(group string, payload []byte) []types.ID {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.groups[group]))
	for _, c := range h.groups[group] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	var delivered []types.ID
	for _, c := range members {
		if c.trySend(payload) {
			delivered = append(delivered, c.UserID)
		}
	}
	return delivered
}

func (h *Hub) Connected(userID types.ID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}
