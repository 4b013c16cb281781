package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/apperr"
	"github.com/iliyamo/cinema-seat-hold/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// TokenVerifier authenticates the bearer credential of a connection.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

// Server accepts websocket connections and runs one session per
// connection.
type Server struct {
	gw           *Gateway
	verifier     TokenVerifier
	pingInterval time.Duration
	queueSize    int
	upgrader     websocket.Upgrader
	logger       *zap.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closing  bool
	active   sync.WaitGroup
}

// NewServer returns the websocket endpoint.  Connections silent for two
// ping intervals are closed.
func NewServer(gw *Gateway, verifier TokenVerifier, pingInterval time.Duration, logger *zap.Logger) *Server {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		gw:           gw,
		verifier:     verifier,
		pingInterval: pingInterval,
		queueSize:    DefaultQueueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:   logger.Named("ws"),
		sessions: make(map[*Session]struct{}),
	}
}

// Handle is the echo handler for GET /ws.  The token comes from the
// Authorization header or the token query parameter, since browsers
// cannot set headers on websocket requests.
func (s *Server) Handle(c echo.Context) error {
	raw, ok := auth.BearerToken(c.Request().Header.Get("Authorization"))
	if !ok {
		raw = c.QueryParam("token")
	}
	if raw == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token", "code": apperr.CodeUnauthorized})
	}
	id, err := s.verifier.Verify(raw)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token", "code": apperr.CodeUnauthorized})
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "server shutting down", "code": apperr.CodeServerError})
	}
	s.active.Add(1)
	s.mu.Unlock()
	defer s.active.Done()

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		s.logger.Warn("upgrade failed", zap.Error(err))
		return nil
	}
	s.serve(c, conn, id)
	return nil
}

func (s *Server) serve(c echo.Context, conn *websocket.Conn, id auth.Identity) {
	ctx := c.Request().Context()
	sess := NewSession(id.UserID, s.queueSize)
	s.track(sess)
	defer s.untrack(sess)
	log := s.logger.With(zap.String("session_id", sess.ID), zap.String("user_id", id.UserID))
	log.Info("client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(conn, sess, log)
	}()

	s.readPump(c, conn, sess, log)

	sess.Close()
	<-writerDone
	s.gw.Disconnect(ctx, sess)
	log.Info("client disconnected")
}

// Shutdown closes every open session and waits until each has released
// its holds, or until ctx is done.  New connections are refused.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	n := len(s.sessions)
	for sess := range s.sessions {
		sess.Close()
	}
	s.mu.Unlock()
	s.logger.Info("closing sessions", zap.Int("sessions", n))

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		sess.Close()
		return
	}
	s.sessions[sess] = struct{}{}
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) readPump(c echo.Context, conn *websocket.Conn, sess *Session, log *zap.Logger) {
	ctx := c.Request().Context()
	idle := 2 * s.pingInterval
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		s.gw.Dispatch(ctx, sess, data)
	}
}

// writePump is the only writer on conn.  It exits when the session
// closes or a write fails, and closes the connection so the reader
// unblocks.
func (s *Server) writePump(conn *websocket.Conn, sess *Session, log *zap.Logger) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg := <-sess.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
