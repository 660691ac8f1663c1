package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alis2001/chat-service/internal/chat"
	"github.com/alis2001/chat-service/internal/log"
	"github.com/alis2001/chat-service/internal/merr"
	"github.com/alis2001/chat-service/internal/metrics"
	"github.com/alis2001/chat-service/internal/protocol"
	"github.com/alis2001/chat-service/internal/session"
)

// client drives one upgraded connection: it reads frames into the engine and
// keeps the connection alive with pings until either side goes away.
type client struct {
	conn        *websocket.Conn
	sess        *session.Session
	engine      *chat.Engine
	cfg         Config
	rateLimiter *rateLimiter
	logger      *zap.Logger
}

func newClient(conn *websocket.Conn, sess *session.Session, engine *chat.Engine, cfg Config) *client {
	conn.SetReadLimit(cfg.MaxMessageSize)
	return &client{
		conn:        conn,
		sess:        sess,
		engine:      engine,
		cfg:         cfg,
		rateLimiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		logger: log.With(
			log.FieldComponent("client"),
			log.FieldSession(sess.ID()),
			log.FieldRemote(sess.RemoteAddr())),
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *client) setupReadConnection() {
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})
}

func (c *client) extendReadDeadline() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("set read deadline failed", zap.Error(err))
	}
}

// handleReadError logs the read failure and maps it to a disconnect reason.
func (c *client) handleReadError(err error) chat.DisconnectReason {
	// torn down by the reaper or shutdown; the read just observed it
	if c.sess.Closed() {
		return chat.ReasonClosed
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("frame exceeded maximum size", zap.Int64("maxMessageSize", c.cfg.MaxMessageSize))
		return chat.ReasonError
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		c.logger.Debug("client disconnected", zap.Error(err))
		return chat.ReasonClosed
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err) {
		c.logger.Debug("connection closed", zap.Error(err))
		return chat.ReasonClosed
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.logger.Info("no pong before read deadline", zap.Duration("pongWait", c.cfg.PongWait))
		return chat.ReasonError
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Warn("unexpected websocket close", zap.Error(err))
		return chat.ReasonError
	}

	c.logger.Warn("websocket read error", zap.Error(err))
	return chat.ReasonError
}

// checkRateLimit reports whether the frame may be processed. Over the limit
// the client is told so and the frame is dropped.
func (c *client) checkRateLimit() error {
	if c.rateLimiter.allow() {
		return nil
	}
	metrics.FramesTotal.WithLabelValues("rate_limited").Inc()
	c.logger.Debug("rate limit exceeded",
		zap.Int("burst", c.cfg.RateLimit.Burst),
		zap.Duration("refillInterval", c.cfg.RateLimit.RefillInterval))
	if err := c.engine.SendError(c.sess, protocol.ErrTextRateLimited); err != nil {
		return err
	}
	return merr.ErrRateLimited
}

// keepalive pings the peer until done is closed or a ping cannot be written.
func (c *client) keepalive(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Debug("ping failed", zap.Error(err))
				}
				return
			}
		}
	}
}

// serve runs the read loop until the connection ends, then disconnects the
// session. Frames are handled in arrival order.
func (c *client) serve(ctx context.Context) {
	reason := chat.ReasonClosed
	done := make(chan struct{})
	defer func() {
		close(done)
		c.engine.Disconnect(ctx, c.sess, reason)
	}()

	c.setupReadConnection()
	go c.keepalive(done)

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			reason = c.handleReadError(err)
			return
		}
		c.extendReadDeadline()

		if err := c.checkRateLimit(); err != nil {
			if merr.Is(err, merr.ErrRateLimited) {
				continue
			}
			reason = c.writeFailed(err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			err = c.engine.HandleFrame(ctx, c.sess, raw)
		default:
			err = c.engine.HandleBinary(ctx, c.sess)
		}
		if err != nil {
			reason = c.writeFailed(err)
			return
		}
	}
}

func (c *client) writeFailed(err error) chat.DisconnectReason {
	if merr.Is(err, merr.ErrSessionClosed) || isExpectedCloseError(err) {
		return chat.ReasonClosed
	}
	c.logger.Warn("write to client failed", zap.Error(err))
	return chat.ReasonError
}
