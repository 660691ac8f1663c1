// Package session tracks live WebSocket sessions and the rooms they are in.
package session

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/alis2001/chat-service/internal/auth"
	"github.com/alis2001/chat-service/internal/merr"
)

// writeWait bounds a single frame write.
const writeWait = 10 * time.Second

// Conn is the part of *websocket.Conn a session writes through.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// State is the protocol state of a session.
type State int

const (
	StateConnected State = iota
	StateAuthenticated
	StateInRoom
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateInRoom:
		return "in_room"
	}
	return "unknown"
}

// Session is one accepted connection. Identity and room are guarded by mu;
// frame writes are serialized by writeMu.
type Session struct {
	id         string
	remoteAddr string
	conn       Conn
	seq        uint64

	mu       sync.RWMutex
	identity auth.Identity
	roomID   string

	authenticated atomic.Bool
	lastActivity  atomic.Time
	tornDown      atomic.Bool
	closed        atomic.Bool

	writeMu sync.Mutex
}

// New wraps conn in a session with a fresh id.
func New(conn Conn, remoteAddr string, now time.Time) *Session {
	s := &Session{
		id:         uuid.NewString(),
		remoteAddr: remoteAddr,
		conn:       conn,
	}
	s.lastActivity.Store(now)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) RemoteAddr() string { return s.remoteAddr }

func (s *Session) IsAuthenticated() bool { return s.authenticated.Load() }

// Identity returns the verified identity; it is zero before Authenticate.
func (s *Session) Identity() auth.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.UserID
}

func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *Session) State() State {
	if !s.IsAuthenticated() {
		return StateConnected
	}
	if s.RoomID() == "" {
		return StateAuthenticated
	}
	return StateInRoom
}

// Authenticate records id and marks the session authenticated. When the
// session was authenticated as a different user, it leaves its room; the
// previous identity and room are returned so the caller can announce it.
func (s *Session) Authenticate(id auth.Identity) (prev auth.Identity, prevRoom string) {
	s.mu.Lock()
	prev = s.identity
	if prev.UserID != "" && prev.UserID != id.UserID {
		prevRoom = s.roomID
		s.roomID = ""
	}
	s.identity = id
	s.mu.Unlock()
	s.authenticated.Store(true)
	return prev, prevRoom
}

// JoinRoom moves the session into roomID and returns the room it left, if
// any.
func (s *Session) JoinRoom(roomID string) (string, error) {
	if !s.IsAuthenticated() {
		return "", merr.Wrap(merr.ErrInvalidState, "join before auth")
	}
	if roomID == "" {
		return "", merr.Wrap(merr.ErrMissingField, "room id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.roomID
	s.roomID = roomID
	if prev == roomID {
		return "", nil
	}
	return prev, nil
}

// LeaveRoom clears the room and returns it.
func (s *Session) LeaveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.roomID
	s.roomID = ""
	return prev
}

// Touch records inbound activity.
func (s *Session) Touch(now time.Time) {
	s.lastActivity.Store(now)
}

func (s *Session) LastActivity() time.Time {
	return s.lastActivity.Load()
}

// Send writes one text frame. Concurrent callers are serialized.
func (s *Session) Send(payload []byte) error {
	if s.closed.Load() {
		return merr.ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return merr.WrapErrTransport(err, "set write deadline")
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return merr.WrapErrTransport(err, "write frame")
	}
	return nil
}

// BeginTeardown reports true to exactly one caller over the session's life.
func (s *Session) BeginTeardown() bool {
	return s.tornDown.CompareAndSwap(false, true)
}

// Close closes the underlying connection once. Later calls are no-ops.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return errors.Wrap(err, "close connection")
	}
	return nil
}

type controlWriter interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// CloseWithCode sends a close frame carrying code and text when the
// connection supports control frames, then closes it.
func (s *Session) CloseWithCode(code int, text string) error {
	if cw, ok := s.conn.(controlWriter); ok && !s.closed.Load() {
		msg := websocket.FormatCloseMessage(code, text)
		_ = cw.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	return s.Close()
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}
