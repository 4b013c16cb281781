package gateway

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultQueueSize is the number of outbound messages a session buffers
// before it is considered too slow and closed.
const DefaultQueueSize = 64

// Session is the state of one client connection.  It is created when the
// connection is accepted, handed to every event handler and discarded on
// disconnect.
type Session struct {
	ID     string
	UserID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	rooms map[string]struct{}
}

// NewSession returns an open session for userID.
func NewSession(userID string, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

// Send queues m for delivery.  It never blocks: a full queue closes the
// session and the message is dropped.
func (s *Session) Send(m Message) bool {
	data, err := encode(m)
	if err != nil {
		return false
	}
	return s.sendRaw(data)
}

func (s *Session) sendRaw(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		s.Close()
		return false
	}
}

// Outbound is drained by the connection's writer.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the session.  It is safe to call more than once.
func (s *Session) Close() { s.closeOnce.Do(func() { close(s.done) }) }

// Rooms lists the screenings the session has joined.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	return out
}

func (s *Session) addRoom(room string) {
	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) removeRoom(room string) {
	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
}
