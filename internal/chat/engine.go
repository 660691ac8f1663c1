// Package chat implements the chat protocol: the per-session state machine,
// room fan-out, typing indicators and idle session reaping.
package chat

import (
	"context"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alis2001/chat-service/internal/auth"
	"github.com/alis2001/chat-service/internal/conc"
	"github.com/alis2001/chat-service/internal/log"
	"github.com/alis2001/chat-service/internal/metrics"
	"github.com/alis2001/chat-service/internal/protocol"
	"github.com/alis2001/chat-service/internal/session"
	"github.com/alis2001/chat-service/internal/store"
)

// DisconnectReason says why a session was torn down.
type DisconnectReason string

const (
	ReasonClosed   DisconnectReason = "connection closed"
	ReasonIdle     DisconnectReason = "idle timeout"
	ReasonShutdown DisconnectReason = "server shutting down"
	ReasonError    DisconnectReason = "transport error"
)

// Config tunes the engine.
type Config struct {
	// HistoryLimit is how many recent messages are replayed on join.
	HistoryLimit int
	// MaxContentLength bounds message content in bytes; 0 means unbounded.
	MaxContentLength int
	TypingTTL        time.Duration
	// StoreTimeout bounds every Store call made while handling a frame.
	StoreTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		HistoryLimit:     20,
		MaxContentLength: 4000,
		TypingTTL:        DefaultTypingTTL,
		StoreTimeout:     5 * time.Second,
	}
}

// Engine dispatches inbound frames of every session.
type Engine struct {
	cfg         Config
	registry    *session.Registry
	store       store.Store
	auth        auth.Authenticator
	broadcaster *Broadcaster
	typing      *TypingTracker
	pool        *conc.Pool
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine. Messages are persisted on pool.
func NewEngine(cfg Config, registry *session.Registry, st store.Store, authn auth.Authenticator, pool *conc.Pool, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg,
		registry:    registry,
		store:       st,
		auth:        authn,
		broadcaster: NewBroadcaster(registry),
		pool:        pool,
		now:         time.Now,
		logger:      log.With(log.FieldComponent("engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.StoreTimeout <= 0 {
		e.cfg.StoreTimeout = DefaultConfig().StoreTimeout
	}
	e.typing = NewTypingTracker(st, cfg.TypingTTL, e.now)
	return e
}

func (e *Engine) Typing() *TypingTracker { return e.typing }

func (e *Engine) Registry() *session.Registry { return e.registry }

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.now() }

// HandleFrame processes one inbound text frame. Only transport errors are
// returned; everything else is answered on the wire.
func (e *Engine) HandleFrame(ctx context.Context, s *session.Session, raw []byte) error {
	s.Touch(e.now())

	in, err := protocol.Decode(raw)
	if err != nil {
		metrics.FramesTotal.WithLabelValues("invalid").Inc()
		e.logger.Debug("malformed frame", log.FieldSession(s.ID()), zap.Error(err))
		return e.SendError(s, protocol.ErrTextInvalidFormat)
	}

	switch in.Type {
	case protocol.TypeAuth:
		metrics.FramesTotal.WithLabelValues(in.Type).Inc()
		return e.handleAuth(ctx, s, &in)
	case protocol.TypeJoinRoom:
		metrics.FramesTotal.WithLabelValues(in.Type).Inc()
		return e.handleJoinRoom(ctx, s, &in)
	case protocol.TypeMessage:
		metrics.FramesTotal.WithLabelValues(in.Type).Inc()
		return e.handleMessage(ctx, s, &in)
	case protocol.TypeTyping:
		metrics.FramesTotal.WithLabelValues(in.Type).Inc()
		return e.handleTyping(ctx, s, &in)
	case protocol.TypeLeaveRoom:
		metrics.FramesTotal.WithLabelValues(in.Type).Inc()
		return e.handleLeaveRoom(ctx, s)
	case protocol.TypeGetRooms:
		metrics.FramesTotal.WithLabelValues(in.Type).Inc()
		return e.handleGetRooms(ctx, s)
	case protocol.TypePing:
		metrics.FramesTotal.WithLabelValues(in.Type).Inc()
		return e.send(s, protocol.Pong{Type: protocol.TypePong, Timestamp: millis(e.now())})
	default:
		metrics.FramesTotal.WithLabelValues("unknown").Inc()
		e.logger.Info("unknown message type", log.FieldSession(s.ID()), zap.String("type", in.Type))
		return e.SendError(s, protocol.ErrTextUnknownType+": "+in.Type)
	}
}

// HandleBinary answers a binary frame, which the protocol does not use.
func (e *Engine) HandleBinary(_ context.Context, s *session.Session) error {
	s.Touch(e.now())
	metrics.FramesTotal.WithLabelValues("invalid").Inc()
	return e.SendError(s, protocol.ErrTextInvalidFormat)
}

// SendError writes an error envelope to s.
func (e *Engine) SendError(s *session.Session, text string) error {
	return s.Send(protocol.ErrorFrame(text))
}

func (e *Engine) send(s *session.Session, v any) error {
	payload, err := protocol.Encode(v)
	if err != nil {
		e.logger.Error("encode envelope", log.FieldSession(s.ID()), zap.Error(err))
		return nil
	}
	return s.Send(payload)
}

// Disconnect tears s down: it is removed from the registry, its connection is
// closed, its user is marked offline when no other session of the user
// remains, and its room is told it left. Only the first call for a session
// does anything; it reports whether this call did the teardown.
func (e *Engine) Disconnect(ctx context.Context, s *session.Session, reason DisconnectReason) bool {
	if !s.BeginTeardown() {
		return false
	}
	// presence must be written even when the caller is shutting down
	ctx = context.WithoutCancel(ctx)

	e.registry.Deregister(s.ID())
	switch reason {
	case ReasonIdle, ReasonShutdown:
		_ = s.CloseWithCode(websocket.CloseGoingAway, string(reason))
	default:
		_ = s.Close()
	}

	if s.IsAuthenticated() {
		id := s.Identity()
		e.markOffline(ctx, id.UserID)
		if room := s.RoomID(); room != "" {
			e.announceLeave(ctx, room, id)
		}
		metrics.SessionsAuthenticated.Set(float64(e.registry.CountAuthenticated()))
	}

	e.logger.Info("session closed",
		log.FieldSession(s.ID()),
		log.FieldUser(s.UserID()),
		log.FieldRemote(s.RemoteAddr()),
		zap.String("reason", string(reason)))
	return true
}

// markOffline writes offline presence for userID when none of its sessions
// is registered. A session of the user that registers while the write is in
// flight gets its online presence written back.
func (e *Engine) markOffline(ctx context.Context, userID string) {
	if e.registry.CountUser(userID) > 0 {
		return
	}
	e.storeCall(ctx, "update_user_status", func(ctx context.Context) error {
		return e.store.UpdateUserStatus(ctx, userID, false)
	})
	if e.registry.CountUser(userID) > 0 {
		e.storeCall(ctx, "update_user_status", func(ctx context.Context) error {
			return e.store.UpdateUserStatus(ctx, userID, true)
		})
	}
}

// DisconnectAll tears down every registered session.
func (e *Engine) DisconnectAll(ctx context.Context, reason DisconnectReason) int {
	n := 0
	for _, s := range e.registry.Snapshot() {
		if e.Disconnect(ctx, s, reason) {
			n++
		}
	}
	return n
}

// storeCall runs fn with the store timeout. Failures are logged and counted
// but never surface to the caller.
func (e *Engine) storeCall(ctx context.Context, op string, fn func(ctx context.Context) error) bool {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		metrics.StoreErrors.WithLabelValues(op).Inc()
		e.logger.Warn("store call failed", zap.String("op", op), zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.StoreTimeout)
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
