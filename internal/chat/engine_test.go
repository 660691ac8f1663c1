package chat

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alis2001/chat-service/internal/metrics"
	"github.com/alis2001/chat-service/internal/protocol"
	"github.com/alis2001/chat-service/internal/session"
	"github.com/alis2001/chat-service/internal/store"
	"github.com/alis2001/chat-service/internal/testhelpers"
)

func TestMessageBeforeAuth(t *testing.T) {
	h := newHarness(t)
	s, conn := h.connect()

	h.send(s, `{"type":"message","room_id":"R","content":"x"}`)

	require.Len(t, conn.Frames(), 1)
	assert.JSONEq(t, `{"type":"error","error":"Authentication required"}`, conn.FrameStrings()[0])
	assert.Equal(t, session.StateConnected, s.State())
}

func TestInvalidStateTransitions(t *testing.T) {
	tests := []struct {
		name      string
		authed    bool
		frame     string
		wantError string
	}{
		{"join before auth", false, `{"type":"join_room","room_id":"R"}`, protocol.ErrTextAuthRequired},
		{"typing before auth", false, `{"type":"typing","room_id":"R"}`, protocol.ErrTextAuthRequired},
		{"leave before auth", false, `{"type":"leave_room"}`, protocol.ErrTextAuthRequired},
		{"rooms before auth", false, `{"type":"get_rooms"}`, protocol.ErrTextAuthRequired},
		{"message before join", true, `{"type":"message","room_id":"R","content":"x"}`, protocol.ErrTextNotInRoom},
		{"typing before join", true, `{"type":"typing","room_id":"R"}`, protocol.ErrTextNotInRoom},
		{"leave before join", true, `{"type":"leave_room"}`, protocol.ErrTextNotInRoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			var (
				s    *session.Session
				conn *testhelpers.FakeConn
				want session.State
			)
			if tt.authed {
				s, conn = h.login("u1", "alice")
				want = session.StateAuthenticated
			} else {
				s, conn = h.connect()
				want = session.StateConnected
			}

			h.send(s, tt.frame)

			frames := decodeFrames(t, conn)
			require.Len(t, frames, 1)
			assert.Equal(t, "error", frames[0]["type"])
			assert.Equal(t, tt.wantError, frames[0]["error"])
			assert.Equal(t, want, s.State())
		})
	}
}

func TestAuth(t *testing.T) {
	h := newHarness(t)

	s, conn := h.connect()
	h.send(s, `{"type":"auth"}`)
	assert.JSONEq(t, `{"type":"auth_error","error":"Token required"}`, conn.FrameStrings()[0])

	conn.Reset()
	h.send(s, `{"type":"auth","token":"forged.token.value"}`)
	assert.JSONEq(t, `{"type":"auth_error","error":"Invalid token"}`, conn.FrameStrings()[0])
	assert.Equal(t, session.StateConnected, s.State())

	conn.Reset()
	h.send(s, map[string]string{"type": "auth", "token": h.token("u1", "alice")})
	assert.Equal(t, session.StateAuthenticated, s.State())

	frames := decodeFrames(t, conn)
	require.Len(t, frames, 2)
	assert.Equal(t, map[string]any{
		"type":         "auth_success",
		"user_id":      "u1",
		"username":     "alice",
		"display_name": "alice",
	}, frames[0])
	assert.Equal(t, "rooms_list", frames[1]["type"])
	rooms := frames[1]["rooms"].([]any)
	require.Len(t, rooms, 1)
	assert.Equal(t, store.DefaultRoomID, rooms[0].(map[string]any)["id"])
	assert.Equal(t, true, rooms[0].(map[string]any)["isOnline"])

	u, ok, err := h.store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, u.IsOnline)
}

func TestJoinAndMessage(t *testing.T) {
	h := newHarness(t)
	a, aConn := h.login("uA", "alice")
	b, bConn := h.login("uB", "bob")
	h.join(a, aConn, store.DefaultRoomID)

	h.send(b, map[string]string{"type": "join_room", "room_id": store.DefaultRoomID})
	assert.Equal(t, []string{"room_joined"}, frameTypes(t, bConn))
	assert.Equal(t, "Successfully joined room", decodeFrames(t, bConn)[0]["message"])

	joined := decodeFrames(t, aConn)
	require.Len(t, joined, 1)
	assert.Equal(t, "user_joined", joined[0]["type"])
	assert.Equal(t, "uB", joined[0]["user_id"])

	aConn.Reset()
	bConn.Reset()
	h.send(a, map[string]string{"type": "message", "room_id": store.DefaultRoomID, "content": "hello"})

	got := decodeFrames(t, bConn)
	require.Len(t, got, 1)
	assert.Equal(t, "new_message", got[0]["type"])
	assert.Equal(t, "hello", got[0]["content"])
	assert.Equal(t, "uA", got[0]["sender_id"])
	assert.Equal(t, "alice", got[0]["sender_name"])
	assert.Equal(t, "text", got[0]["message_type"])

	// the sender gets a confirmation and never its own broadcast
	assert.Equal(t, []string{"message_sent"}, frameTypes(t, aConn))
	assert.Equal(t, got[0]["message_id"], decodeFrames(t, aConn)[0]["message_id"])

	require.Eventually(t, func() bool {
		msgs, err := h.store.GetRoomMessages(context.Background(), store.DefaultRoomID, 10)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMessageAcceptsRoomIDAlias(t *testing.T) {
	h := newHarness(t)
	a, aConn := h.login("uA", "alice")
	b, bConn := h.login("uB", "bob")
	h.join(a, aConn, store.DefaultRoomID)
	h.join(b, bConn, store.DefaultRoomID)
	aConn.Reset()

	h.send(a, map[string]string{"type": "message", "roomId": store.DefaultRoomID, "content": "via alias"})
	got := decodeFrames(t, bConn)
	require.Len(t, got, 1)
	assert.Equal(t, "via alias", got[0]["content"])
}

func TestMessageValidation(t *testing.T) {
	h := newHarness(t)
	a, aConn := h.login("uA", "alice")
	h.join(a, aConn, store.DefaultRoomID)

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"missing content", `{"type":"message","room_id":"` + store.DefaultRoomID + `"}`, protocol.ErrTextRoomAndContent},
		{"blank content", `{"type":"message","room_id":"` + store.DefaultRoomID + `","content":"   "}`, protocol.ErrTextRoomAndContent},
		{"missing room", `{"type":"message","content":"x"}`, protocol.ErrTextRoomAndContent},
		{"other room", `{"type":"message","room_id":"elsewhere","content":"x"}`, protocol.ErrTextNotInRoom},
		{"bad message type", `{"type":"message","room_id":"` + store.DefaultRoomID + `","content":"x","message_type":"video"}`, protocol.ErrTextInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aConn.Reset()
			h.send(a, tt.frame)
			frames := decodeFrames(t, aConn)
			require.Len(t, frames, 1)
			assert.Equal(t, tt.want, frames[0]["error"])
			assert.Equal(t, store.DefaultRoomID, a.RoomID())
		})
	}
}

func TestJoinDenied(t *testing.T) {
	h := newHarness(t)
	direct, err := h.store.CreateRoom(context.Background(), "dm", store.RoomTypeDirect, "someone-else")
	require.NoError(t, err)

	a, aConn := h.login("uA", "alice")
	h.send(a, map[string]string{"type": "join_room", "room_id": direct})
	assert.JSONEq(t, `{"type":"error","error":"Access denied to room"}`, aConn.FrameStrings()[0])
	assert.Empty(t, a.RoomID())

	aConn.Reset()
	h.send(a, `{"type":"join_room"}`)
	assert.JSONEq(t, `{"type":"error","error":"Room ID required"}`, aConn.FrameStrings()[0])
}

func TestJoinFailsClosedWhenStoreFails(t *testing.T) {
	h := newHarness(t)
	a, aConn := h.login("uA", "alice")
	h.store.failJoin = true

	h.send(a, map[string]string{"type": "join_room", "room_id": store.DefaultRoomID})
	assert.JSONEq(t, `{"type":"error","error":"Failed to join room"}`, aConn.FrameStrings()[0])
	assert.Empty(t, a.RoomID())
	assert.Equal(t, session.StateAuthenticated, a.State())
}

func TestPersistenceFailureDoesNotAffectBroadcast(t *testing.T) {
	h := newHarness(t)
	a, aConn := h.login("uA", "alice")
	b, bConn := h.login("uB", "bob")
	h.join(a, aConn, store.DefaultRoomID)
	h.join(b, bConn, store.DefaultRoomID)
	aConn.Reset()
	h.store.failSave = true

	h.send(a, map[string]string{"type": "message", "room_id": store.DefaultRoomID, "content": "still delivered"})

	assert.Equal(t, []string{"new_message"}, frameTypes(t, bConn))
	assert.Equal(t, []string{"message_sent"}, frameTypes(t, aConn))
	require.Eventually(t, func() bool { return h.store.saveAttempts() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHistoryReplayOldestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.EnsureUserInDefaultRoom(ctx, "seed"))
	require.NoError(t, h.store.SyncUser(ctx, store.User{ID: "seed", Username: "seeder", DisplayName: "Seed"}))
	base := time.Now()
	for i, content := range []string{"first", "second", "third"} {
		_, err := h.store.SaveMessage(ctx, store.Message{
			RoomID:    store.DefaultRoomID,
			SenderID:  "seed",
			Content:   content,
			Type:      store.MessageTypeText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	a, aConn := h.login("uA", "alice")
	h.send(a, map[string]string{"type": "join_room", "room_id": store.DefaultRoomID})

	frames := decodeFrames(t, aConn)
	require.Len(t, frames, 4)
	assert.Equal(t, "room_joined", frames[0]["type"])
	for i, want := range []string{"first", "second", "third"} {
		assert.Equal(t, "new_message", frames[i+1]["type"])
		assert.Equal(t, want, frames[i+1]["content"])
		assert.Equal(t, "Seed", frames[i+1]["sender_name"])
	}
}

func TestHistoryFailureStillJoins(t *testing.T) {
	h := newHarness(t)
	h.store.failHistory = true
	a, aConn := h.login("uA", "alice")
	h.send(a, map[string]string{"type": "join_room", "room_id": store.DefaultRoomID})
	assert.Equal(t, []string{"room_joined"}, frameTypes(t, aConn))
	assert.Equal(t, store.DefaultRoomID, a.RoomID())
}

func TestMalformedFrames(t *testing.T) {
	h := newHarness(t)
	s, conn := h.connect()

	for _, raw := range []string{"garbage", `["auth"]`, `{"token":"x"}`, `{"type":`} {
		conn.Reset()
		h.send(s, raw)
		assert.JSONEq(t, `{"type":"error","error":"Invalid message format"}`, conn.FrameStrings()[0], raw)
	}

	conn.Reset()
	h.send(s, `{"type":"dance"}`)
	assert.JSONEq(t, `{"type":"error","error":"Unknown message type: dance"}`, conn.FrameStrings()[0])

	conn.Reset()
	require.NoError(t, h.engine.HandleBinary(context.Background(), s))
	assert.JSONEq(t, `{"type":"error","error":"Invalid message format"}`, conn.FrameStrings()[0])
	assert.False(t, s.Closed())
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	s, conn := h.connect()
	h.send(s, `{"type":"ping"}`)
	frames := decodeFrames(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, "pong", frames[0]["type"])
	assert.NotEmpty(t, frames[0]["timestamp"])
}

func TestTypingAndLeave(t *testing.T) {
	h := newHarness(t)
	a, aConn := h.login("uA", "alice")
	b, bConn := h.login("uB", "bob")
	h.join(a, aConn, store.DefaultRoomID)
	h.join(b, bConn, store.DefaultRoomID)
	aConn.Reset()

	h.send(a, `{"type":"typing"}`)
	got := decodeFrames(t, bConn)
	require.Len(t, got, 1)
	assert.Equal(t, "typing", got[0]["type"])
	assert.Equal(t, true, got[0]["is_typing"])
	assert.Empty(t, aConn.Frames())

	active, err := h.engine.Typing().ActiveUsers(context.Background(), store.DefaultRoomID)
	require.NoError(t, err)
	assert.Equal(t, []string{"uA"}, active)

	bConn.Reset()
	h.send(a, `{"type":"leave_room"}`)
	assert.Equal(t, []string{"room_left"}, frameTypes(t, aConn))
	assert.Equal(t, []string{"user_left"}, frameTypes(t, bConn))
	assert.Empty(t, a.RoomID())

	active, err = h.engine.Typing().ActiveUsers(context.Background(), store.DefaultRoomID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSwitchingRoomsAnnouncesLeave(t *testing.T) {
	h := newHarness(t)
	other, err := h.store.CreateRoom(context.Background(), "side", store.RoomTypeGroup, "x")
	require.NoError(t, err)

	a, aConn := h.login("uA", "alice")
	b, bConn := h.login("uB", "bob")
	h.join(a, aConn, store.DefaultRoomID)
	h.join(b, bConn, store.DefaultRoomID)

	h.send(a, map[string]string{"type": "join_room", "room_id": other})
	assert.Equal(t, []string{"user_left"}, frameTypes(t, bConn))
	assert.Equal(t, other, a.RoomID())
}

func TestDisconnectOnce(t *testing.T) {
	h := newHarness(t)
	a, aConn := h.login("uA", "alice")
	b, bConn := h.login("uB", "bob")
	h.join(a, aConn, store.DefaultRoomID)
	h.join(b, bConn, store.DefaultRoomID)

	assert.True(t, h.engine.Disconnect(context.Background(), a, ReasonClosed))
	assert.False(t, h.engine.Disconnect(context.Background(), a, ReasonIdle))

	assert.True(t, aConn.Closed())
	_, ok := h.registry.Get(a.ID())
	assert.False(t, ok)
	assert.Equal(t, 1, h.store.offlineCount("uA"))
	assert.Equal(t, []string{"user_left"}, frameTypes(t, bConn))
}

func TestDisconnectKeepsUserOnlineWithOtherSession(t *testing.T) {
	h := newHarness(t)
	first, _ := h.login("uA", "alice")
	second, _ := h.login("uA", "alice")

	h.engine.Disconnect(context.Background(), first, ReasonClosed)
	assert.Equal(t, 0, h.store.offlineCount("uA"))

	h.engine.Disconnect(context.Background(), second, ReasonClosed)
	assert.Equal(t, 1, h.store.offlineCount("uA"))
}

func TestDisconnectUnauthenticated(t *testing.T) {
	h := newHarness(t)
	s, conn := h.connect()
	assert.True(t, h.engine.Disconnect(context.Background(), s, ReasonError))
	assert.True(t, conn.Closed())
	assert.Equal(t, 0, h.registry.Count())
}

func TestDisconnectAll(t *testing.T) {
	h := newHarness(t)
	h.login("uA", "alice")
	h.login("uB", "bob")
	h.connect()

	assert.Equal(t, 3, h.engine.DisconnectAll(context.Background(), ReasonShutdown))
	assert.Equal(t, 0, h.registry.Count())
	assert.Equal(t, 1, h.store.offlineCount("uA"))
	assert.Equal(t, 1, h.store.offlineCount("uB"))
}

func TestBusyStoreDoesNotBlockSender(t *testing.T) {
	h := newHarnessWithPool(t, 1)
	ctx := context.Background()
	a, aConn := h.login("uA", "alice")
	b, bConn := h.login("uB", "bob")
	h.join(a, aConn, store.DefaultRoomID)
	h.join(b, bConn, store.DefaultRoomID)
	aConn.Reset()

	release := make(chan struct{})
	h.store.setSaveHook(func() { <-release })
	t.Cleanup(func() { close(release) })
	dropped := testutil.ToFloat64(metrics.PersistDropped)

	frame := []byte(`{"type":"message","room_id":"` + store.DefaultRoomID + `","content":"hi"}`)
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 3; i++ {
			if err := h.engine.HandleFrame(ctx, a, frame); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sender stalled while the store was saving")
	}

	assert.Equal(t, []string{"message_sent", "message_sent", "message_sent"}, frameTypes(t, aConn))
	assert.Equal(t, []string{"new_message", "new_message", "new_message"}, frameTypes(t, bConn))
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.PersistDropped)-dropped, 1.0)
}

func TestDisconnectRestoresPresenceOfReconnectedUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, _ := h.login("uA", "alice")

	// the user reconnects after the session count but before the offline write
	var second *session.Session
	h.store.setStatusHook(func(_ string, online bool) {
		if online || second != nil {
			return
		}
		second, _ = h.login("uA", "alice")
	})

	require.True(t, h.engine.Disconnect(ctx, first, ReasonClosed))
	require.NotNil(t, second)

	u, ok, err := h.store.GetUser(ctx, "uA")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, u.IsOnline)
	assert.Equal(t, 1, h.registry.CountUser("uA"))
}

func TestJoinTornDownMidwayIsNotAnnounced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _ := h.login("uA", "alice")
	b, bConn := h.login("uB", "bob")
	h.join(b, bConn, store.DefaultRoomID)

	h.store.setHistoryHook(func() {
		h.engine.Disconnect(ctx, a, ReasonIdle)
	})

	frame := []byte(`{"type":"join_room","room_id":"` + store.DefaultRoomID + `"}`)
	require.NoError(t, h.engine.HandleFrame(ctx, a, frame))

	assert.Equal(t, []string{"user_left"}, frameTypes(t, bConn))
	_, ok := h.registry.Get(a.ID())
	assert.False(t, ok)
}
