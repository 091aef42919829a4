package gateway

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

// Hub tracks live connections and their room memberships. A principal may
// hold any number of connections; each joins the same rooms.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*Connection            // connectionID -> connection
	byOwner   map[string]map[string]*Connection // principal key -> connectionID -> connection
	rooms     map[string]map[string]*Connection // room -> connectionID -> connection
	connRooms map[string]map[string]struct{}    // connectionID -> rooms
	metrics   *Metrics
}

// NewHub constructs an empty Hub. m may be nil.
func NewHub(m *Metrics) *Hub {
	return &Hub{
		conns:     make(map[string]*Connection),
		byOwner:   make(map[string]map[string]*Connection),
		rooms:     make(map[string]map[string]*Connection),
		connRooms: make(map[string]map[string]struct{}),
		metrics:   m,
	}
}

// Attach registers conn.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	owner := conn.Principal.Key()
	if h.byOwner[owner] == nil {
		h.byOwner[owner] = make(map[string]*Connection)
	}
	h.byOwner[owner][conn.ID] = conn
	h.connRooms[conn.ID] = make(map[string]struct{})
	h.mu.Unlock()
	h.metrics.connected()
}

// Detach removes conn from the hub and from every room it joined.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	_, ok := h.conns[conn.ID]
	if ok {
		h.detachLocked(conn)
	}
	h.mu.Unlock()
	if ok {
		h.metrics.disconnected()
	}
}

// Join adds conn to room. Unknown connections are ignored.
func (h *Hub) Join(room string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID]; !ok {
		return
	}
	h.joinLocked(room, conn)
}

// Leave removes conn from room.
func (h *Hub) Leave(room string, conn *Connection) {
	h.mu.Lock()
	h.leaveLocked(room, conn.ID)
	h.mu.Unlock()
}

// JoinConversation joins every live connection of both participants to the
// conversation's room.
func (h *Hub) JoinConversation(c domain.Conversation) {
	room := c.Room()
	owners := []string{
		domain.Principal{Kind: domain.RoleUser, ID: c.UserID}.Key(),
		domain.Principal{Kind: domain.RoleCompany, ID: c.CompanyID}.Key(),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, owner := range owners {
		for _, conn := range h.byOwner[owner] {
			h.joinLocked(room, conn)
		}
	}
}

// CloseRoom drops the room of conversationID. Connections stay open.
func (h *Hub) CloseRoom(conversationID string) {
	room := domain.RoomName(conversationID)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.rooms[room] {
		delete(h.connRooms[id], room)
	}
	delete(h.rooms, room)
}

// Broadcast delivers payload to every connection in room except the one
// whose id equals exclude. It returns the number of connections reached.
func (h *Hub) Broadcast(room string, payload []byte, exclude string) int {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.rooms[room]))
	for id, conn := range h.rooms[room] {
		if id == exclude {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.Send(payload) == nil {
			delivered++
		}
	}
	h.metrics.broadcast(delivered)
	return delivered
}

// Rooms returns the rooms conn currently belongs to.
func (h *Hub) Rooms(conn *Connection) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.connRooms[conn.ID]))
	for room := range h.connRooms[conn.ID] {
		out = append(out, room)
	}
	return out
}

// Members returns the number of connections in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Len returns the number of attached connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every connection and resets the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Connection)
	h.byOwner = make(map[string]map[string]*Connection)
	h.rooms = make(map[string]map[string]*Connection)
	h.connRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
		h.metrics.disconnected()
	}
}

func (h *Hub) joinLocked(room string, conn *Connection) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Connection)
		h.rooms[room] = members
	}
	members[conn.ID] = conn
	if h.connRooms[conn.ID] == nil {
		h.connRooms[conn.ID] = make(map[string]struct{})
	}
	h.connRooms[conn.ID][room] = struct{}{}
}

func (h *Hub) detachLocked(conn *Connection) {
	delete(h.conns, conn.ID)
	owner := conn.Principal.Key()
	if set := h.byOwner[owner]; set != nil {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(h.byOwner, owner)
		}
	}
	for room := range h.connRooms[conn.ID] {
		h.leaveLocked(room, conn.ID)
	}
	delete(h.connRooms, conn.ID)
}

func (h *Hub) leaveLocked(room, connID string) {
	if members := h.rooms[room]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if set := h.connRooms[connID]; set != nil {
		delete(set, room)
	}
}
