package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/alis2001/chat-service/internal/auth"
	"github.com/alis2001/chat-service/internal/log"
	"github.com/alis2001/chat-service/internal/metrics"
	"github.com/alis2001/chat-service/internal/protocol"
	"github.com/alis2001/chat-service/internal/session"
	"github.com/alis2001/chat-service/internal/store"
)

const joinedRoomText = "Successfully joined room"

func (e *Engine) handleAuth(ctx context.Context, s *session.Session, in *protocol.Inbound) error {
	if in.Token == "" {
		return s.Send(protocol.AuthErrorFrame(protocol.ErrTextTokenRequired))
	}

	vctx, cancel := e.storeContext(ctx)
	id, err := e.auth.Verify(vctx, in.Token)
	cancel()
	if err != nil {
		e.logger.Info("authentication failed",
			log.FieldSession(s.ID()),
			log.FieldRemote(s.RemoteAddr()),
			zap.Error(err))
		return s.Send(protocol.AuthErrorFrame(protocol.ErrTextInvalidToken))
	}

	prev, prevRoom := s.Authenticate(id)
	if prev.UserID != "" && prev.UserID != id.UserID {
		e.markOffline(ctx, prev.UserID)
		if prevRoom != "" {
			e.announceLeave(ctx, prevRoom, prev)
		}
	}
	metrics.SessionsAuthenticated.Set(float64(e.registry.CountAuthenticated()))

	e.storeCall(ctx, "sync_user", func(ctx context.Context) error {
		return e.store.SyncUser(ctx, store.User{
			ID:          id.UserID,
			Username:    id.Username,
			DisplayName: id.DisplayName,
			Email:       id.Email,
			AvatarURL:   id.AvatarURL,
		})
	})
	e.storeCall(ctx, "update_user_status", func(ctx context.Context) error {
		return e.store.UpdateUserStatus(ctx, id.UserID, true)
	})

	e.logger.Info("session authenticated",
		log.FieldSession(s.ID()),
		log.FieldUser(id.UserID),
		zap.String("username", id.Username))

	if err := e.send(s, protocol.AuthSuccess{
		Type:        protocol.TypeAuthSuccess,
		UserID:      id.UserID,
		Username:    id.Username,
		DisplayName: id.Name(),
	}); err != nil {
		return err
	}

	e.storeCall(ctx, "ensure_default_room", func(ctx context.Context) error {
		return e.store.EnsureUserInDefaultRoom(ctx, id.UserID)
	})
	return e.sendRooms(ctx, s, false)
}

// sendRooms writes the user's rooms. A Store failure is reported to the
// client only when it asked for the list explicitly.
func (e *Engine) sendRooms(ctx context.Context, s *session.Session, explicit bool) error {
	sctx, cancel := e.storeContext(ctx)
	rooms, err := e.store.GetUserRooms(sctx, s.UserID())
	cancel()
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get_user_rooms").Inc()
		e.logger.Warn("load rooms failed", log.FieldUser(s.UserID()), zap.Error(err))
		if explicit {
			return e.SendError(s, protocol.ErrTextRoomsUnavailable)
		}
		return nil
	}
	summaries := lo.Map(rooms, func(r store.Room, _ int) protocol.RoomSummary {
		return protocol.RoomSummary{ID: r.ID, Name: r.Name, Type: r.Type, IsOnline: true}
	})
	return e.send(s, protocol.RoomsList{Type: protocol.TypeRoomsList, Rooms: summaries})
}

func (e *Engine) handleJoinRoom(ctx context.Context, s *session.Session, in *protocol.Inbound) error {
	if !s.IsAuthenticated() {
		return e.SendError(s, protocol.ErrTextAuthRequired)
	}
	roomID := in.Room()
	if roomID == "" {
		return e.SendError(s, protocol.ErrTextRoomIDRequired)
	}
	id := s.Identity()

	sctx, cancel := e.storeContext(ctx)
	allowed, err := e.store.CanUserJoinRoom(sctx, id.UserID, roomID)
	cancel()
	if err != nil {
		// no access decision without the Store
		metrics.StoreErrors.WithLabelValues("can_user_join_room").Inc()
		e.logger.Warn("room access check failed",
			log.FieldUser(id.UserID), log.FieldRoom(roomID), zap.Error(err))
		return e.SendError(s, protocol.ErrTextJoinFailed)
	}
	if !allowed {
		e.logger.Info("room access denied", log.FieldUser(id.UserID), log.FieldRoom(roomID))
		return e.SendError(s, protocol.ErrTextAccessDenied)
	}

	prevRoom, err := s.JoinRoom(roomID)
	if err != nil {
		return e.SendError(s, protocol.ErrTextJoinFailed)
	}
	if prevRoom != "" {
		e.announceLeave(ctx, prevRoom, id)
	}

	e.storeCall(ctx, "add_participant", func(ctx context.Context) error {
		return e.store.AddParticipant(ctx, roomID, id.UserID, store.RoleMember)
	})

	if err := e.send(s, protocol.RoomJoined{
		Type:    protocol.TypeRoomJoined,
		RoomID:  roomID,
		Message: joinedRoomText,
	}); err != nil {
		return err
	}
	if err := e.replayHistory(ctx, s, roomID); err != nil {
		return err
	}
	// torn down mid-join; its teardown may already have announced the leave
	if s.Closed() {
		return nil
	}

	e.broadcaster.BroadcastEnvelope(roomID, protocol.Presence{
		Type:        protocol.TypeUserJoined,
		RoomID:      roomID,
		UserID:      id.UserID,
		Username:    id.Username,
		DisplayName: id.Name(),
	}, id.UserID)

	e.logger.Info("joined room", log.FieldSession(s.ID()), log.FieldUser(id.UserID), log.FieldRoom(roomID))
	return nil
}

// replayHistory sends recent messages of roomID oldest first.
func (e *Engine) replayHistory(ctx context.Context, s *session.Session, roomID string) error {
	if e.cfg.HistoryLimit <= 0 {
		return nil
	}
	sctx, cancel := e.storeContext(ctx)
	msgs, err := e.store.GetRoomMessages(sctx, roomID, e.cfg.HistoryLimit)
	cancel()
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get_room_messages").Inc()
		e.logger.Warn("load history failed", log.FieldRoom(roomID), zap.Error(err))
		return nil
	}

	names := make(map[string]string)
	for _, m := range lo.Reverse(msgs) {
		if err := e.send(s, protocol.NewMessage{
			Type:        protocol.TypeNewMessage,
			MessageID:   m.ID,
			RoomID:      m.RoomID,
			SenderID:    m.SenderID,
			SenderName:  e.senderName(ctx, m, names),
			Content:     m.Content,
			Timestamp:   millis(m.CreatedAt),
			MessageType: lo.Ternary(m.Type == "", store.MessageTypeText, m.Type),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) senderName(ctx context.Context, m store.Message, cache map[string]string) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	if name, ok := cache[m.SenderID]; ok {
		return name
	}
	name := m.SenderID
	sctx, cancel := e.storeContext(ctx)
	u, ok, err := e.store.GetUser(sctx, m.SenderID)
	cancel()
	if err == nil && ok && u.Name() != "" {
		name = u.Name()
	}
	cache[m.SenderID] = name
	return name
}

func (e *Engine) handleMessage(ctx context.Context, s *session.Session, in *protocol.Inbound) error {
	if !s.IsAuthenticated() {
		return e.SendError(s, protocol.ErrTextAuthRequired)
	}
	current := s.RoomID()
	if current == "" {
		return e.SendError(s, protocol.ErrTextNotInRoom)
	}
	roomID := in.Room()
	if roomID == "" || strings.TrimSpace(in.Content) == "" {
		return e.SendError(s, protocol.ErrTextRoomAndContent)
	}
	if roomID != current {
		return e.SendError(s, protocol.ErrTextNotInRoom)
	}
	if e.cfg.MaxContentLength > 0 && len(in.Content) > e.cfg.MaxContentLength {
		return e.SendError(s, protocol.ErrTextContentTooLong)
	}
	msgType := lo.Ternary(in.MessageType == "", store.MessageTypeText, in.MessageType)
	if !store.ValidMessageType(msgType) {
		return e.SendError(s, protocol.ErrTextInvalidFormat)
	}

	id := s.Identity()
	now := e.now()
	msg := store.Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderID:   id.UserID,
		SenderName: id.Name(),
		Content:    in.Content,
		Type:       msgType,
		CreatedAt:  now,
	}

	res := e.broadcaster.BroadcastEnvelope(roomID, protocol.NewMessage{
		Type:        protocol.TypeNewMessage,
		MessageID:   msg.ID,
		RoomID:      roomID,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		Content:     msg.Content,
		Timestamp:   millis(now),
		MessageType: msgType,
	}, id.UserID)
	e.logger.Debug("message broadcast",
		log.FieldRoom(roomID),
		log.FieldUser(id.UserID),
		zap.Int("eligible", res.Eligible),
		zap.Int("delivered", res.Delivered))

	e.persist(msg)

	return e.send(s, protocol.MessageSent{
		Type:      protocol.TypeMessageSent,
		MessageID: msg.ID,
		RoomID:    roomID,
		Timestamp: millis(now),
	})
}

// persist saves msg on the worker pool. The broadcast never waits for it.
func (e *Engine) persist(msg store.Message) {
	task := func() {
		e.storeCall(context.Background(), "save_message", func(ctx context.Context) error {
			_, err := e.store.SaveMessage(ctx, msg)
			return err
		})
	}
	if e.pool == nil {
		go task()
		return
	}
	if err := e.pool.Submit(task); err != nil {
		metrics.PersistDropped.Inc()
		e.logger.Warn("message not persisted", zap.String("messageID", msg.ID), zap.Error(err))
	}
}

func (e *Engine) handleTyping(ctx context.Context, s *session.Session, in *protocol.Inbound) error {
	if !s.IsAuthenticated() {
		return e.SendError(s, protocol.ErrTextAuthRequired)
	}
	current := s.RoomID()
	if current == "" {
		return e.SendError(s, protocol.ErrTextNotInRoom)
	}
	if room := in.Room(); room != "" && room != current {
		return e.SendError(s, protocol.ErrTextNotInRoom)
	}

	id := s.Identity()
	typing := in.IsTyping == nil || *in.IsTyping
	e.storeCall(ctx, "typing_indicator", func(ctx context.Context) error {
		if typing {
			return e.typing.SetTyping(ctx, current, id.UserID)
		}
		return e.typing.ClearTyping(ctx, current, id.UserID)
	})

	e.broadcaster.BroadcastEnvelope(current, protocol.Typing{
		Type:     protocol.TypeTyping,
		RoomID:   current,
		UserID:   id.UserID,
		Username: id.Username,
		IsTyping: typing,
	}, id.UserID)
	return nil
}

func (e *Engine) handleLeaveRoom(ctx context.Context, s *session.Session) error {
	if !s.IsAuthenticated() {
		return e.SendError(s, protocol.ErrTextAuthRequired)
	}
	roomID := s.LeaveRoom()
	if roomID == "" {
		return e.SendError(s, protocol.ErrTextNotInRoom)
	}
	e.announceLeave(ctx, roomID, s.Identity())
	return e.send(s, protocol.RoomLeft{Type: protocol.TypeRoomLeft, RoomID: roomID})
}

func (e *Engine) handleGetRooms(ctx context.Context, s *session.Session) error {
	if !s.IsAuthenticated() {
		return e.SendError(s, protocol.ErrTextAuthRequired)
	}
	return e.sendRooms(ctx, s, true)
}

// announceLeave clears id's typing indicator in roomID and tells the room.
func (e *Engine) announceLeave(ctx context.Context, roomID string, id auth.Identity) {
	e.storeCall(ctx, "clear_typing", func(ctx context.Context) error {
		return e.typing.ClearTyping(ctx, roomID, id.UserID)
	})
	e.broadcaster.BroadcastEnvelope(roomID, protocol.Presence{
		Type:        protocol.TypeUserLeft,
		RoomID:      roomID,
		UserID:      id.UserID,
		Username:    id.Username,
		DisplayName: id.Name(),
	}, id.UserID)
}
