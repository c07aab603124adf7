// Package push is the realtime fan-out medium: websocket sessions joined
// to partner, order, and admin rooms. It is not a store of record; a lost
// message never corrupts dispatch state, whose timers are authoritative.
package push

import (
	"log/slog"
	"sync"
)

// Conn is the subset of the websocket connection the hub needs. Satisfied
// by *websocket.Conn and by fakes in tests.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session is one connected client. Writes are serialized per session.
type Session struct {
	conn Conn
	mu   sync.Mutex

	// PartnerID is set once the session authenticates.
	PartnerID string
}

func NewSession(conn Conn) *Session { return &Session{conn: conn} }

func (s *Session) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

func (s *Session) Close() error { return s.conn.Close() }

// Hub tracks sessions and room membership.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Session]struct{}
	members map[*Session]map[string]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Session]struct{}),
		members: make(map[*Session]map[string]struct{}),
		logger:  logger.With("component", "push_hub"),
	}
}

func (h *Hub) Join(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Session]struct{})
	}
	h.rooms[room][s] = struct{}{}
	if h.members[s] == nil {
		h.members[s] = make(map[string]struct{})
	}
	h.members[s][room] = struct{}{}
}

func (h *Hub) Leave(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, room)
}

// Drop removes the session from every room, e.g. on disconnect. It
// returns the rooms the session was in so the caller can run
// disconnect bookkeeping (last-online updates for partner rooms).
func (h *Hub) Drop(s *Session) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := make([]string, 0, len(h.members[s]))
	for room := range h.members[s] {
		rooms = append(rooms, room)
		h.leaveLocked(s, room)
	}
	return rooms
}

func (h *Hub) leaveLocked(s *Session, room string) {
	if set, ok := h.rooms[room]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	if set, ok := h.members[s]; ok {
		delete(set, room)
		if len(set) == 0 {
			delete(h.members, s)
		}
	}
}

// Emit sends an event to every session in the room and returns how many
// sessions it reached. An empty room is not an error.
func (h *Hub) Emit(room, event string, data any) int {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	n := 0
	for _, s := range sessions {
		if err := s.Send(Event{Name: event, Data: data}); err != nil {
			h.logger.Warn("push send failed", "room", room, "event", event, "error", err)
			continue
		}
		n++
	}
	return n
}

// Notifier-style helpers used by the dispatcher, monitor, and gate.

func (h *Hub) ToPartner(partnerID, event string, data any) {
	h.Emit(PartnerRoom(partnerID), event, data)
}

func (h *Hub) ToOrder(orderID, event string, data any) {
	h.Emit(OrderRoom(orderID), event, data)
}

func (h *Hub) ToAdmin(event string, data any) {
	h.Emit(AdminRoom, event, data)
}
