package gateway

import (
	"sync"

	"go.uber.org/zap"
)

// Hub maps screening rooms to the sessions that joined them.
type Hub struct {
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Session]struct{}
}

// NewHub returns an empty room registry.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, rooms: make(map[string]map[*Session]struct{})}
}

// Join adds s to room.  Joining twice is a no-op.
func (h *Hub) Join(s *Session, room string) {
	h.mu.Lock()
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
	h.mu.Unlock()
	s.addRoom(room)
}

// Leave removes s from room.
func (h *Hub) Leave(s *Session, room string) {
	h.mu.Lock()
	if members := h.rooms[room]; members != nil {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
	s.removeRoom(room)
}

// LeaveAll removes s from every room it joined.
func (h *Hub) LeaveAll(s *Session) {
	for _, room := range s.Rooms() {
		h.Leave(s, room)
	}
}

// Members returns the number of sessions in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast sends m to every session in room.
func (h *Hub) Broadcast(room string, m Message) {
	data, err := encode(m)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", m.Event), zap.Error(err))
		return
	}
	h.mu.RLock()
	members := make([]*Session, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		members = append(members, s)
	}
	h.mu.RUnlock()

	for _, s := range members {
		if !s.sendRaw(data) {
			h.logger.Debug("session not accepting messages",
				zap.String("session_id", s.ID),
				zap.String("room", room))
		}
	}
}
