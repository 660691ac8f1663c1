package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alis2001/chat-service/internal/merr"
)

func TestMemoryUsers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.SyncUser(ctx, User{ID: "u1", Username: "alice"}))
	require.NoError(t, m.UpdateUserStatus(ctx, "u1", true))
	require.NoError(t, m.SyncUser(ctx, User{ID: "u1", Username: "alice", DisplayName: "Alice"}))

	u, ok, err := m.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice", u.Name())
	assert.True(t, u.IsOnline, "sync keeps presence")

	require.NoError(t, m.UpdateUserStatus(ctx, "u1", false))
	u, _, _ = m.GetUser(ctx, "u1")
	assert.False(t, u.IsOnline)
}

func TestMemoryRoomAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	direct, err := m.CreateRoom(ctx, "dm", RoomTypeDirect, "owner")
	require.NoError(t, err)
	group, err := m.CreateRoom(ctx, "club", RoomTypeGroup, "owner")
	require.NoError(t, err)

	tests := []struct {
		name string
		user string
		room string
		want bool
	}{
		{"creator of direct room", "owner", direct, true},
		{"stranger in direct room", "stranger", direct, false},
		{"stranger in group room", "stranger", group, true},
		{"missing room", "owner", "nope", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := m.CanUserJoinRoom(ctx, tt.user, tt.room)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	require.NoError(t, m.AddParticipant(ctx, direct, "friend", RoleMember))
	ok, err := m.CanUserJoinRoom(ctx, "friend", direct)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, m.AddParticipant(ctx, "nope", "friend", RoleMember), merr.ErrPersistence)
}

func TestMemoryDefaultRoomAndRoomOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	require.NoError(t, m.EnsureUserInDefaultRoom(ctx, "u1"))
	require.NoError(t, m.EnsureUserInDefaultRoom(ctx, "u1"))
	other, err := m.CreateRoom(ctx, "other", RoomTypeGroup, "u1")
	require.NoError(t, err)

	_, err = m.SaveMessage(ctx, Message{RoomID: DefaultRoomID, SenderID: "u1", Content: "hi", CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)

	rooms, err := m.GetUserRooms(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, DefaultRoomID, rooms[0].ID)
	assert.Equal(t, DefaultRoomName, rooms[0].Name)
	assert.Equal(t, other, rooms[1].ID)
}

func TestMemoryMessagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SyncUser(ctx, User{ID: "u1", Username: "alice"}))
	base := time.Now()
	for i := 0; i < 30; i++ {
		_, err := m.SaveMessage(ctx, Message{
			RoomID:    "r",
			SenderID:  "u1",
			Content:   fmt.Sprintf("m%d", i),
			Type:      MessageTypeText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	msgs, err := m.GetRoomMessages(ctx, "r", 20)
	require.NoError(t, err)
	require.Len(t, msgs, 20)
	assert.Equal(t, "m29", msgs[0].Content)
	assert.Equal(t, "m10", msgs[19].Content)
	assert.Equal(t, "alice", msgs[0].SenderName)

	// the stored order is untouched by the read
	again, err := m.GetRoomMessages(ctx, "r", 1)
	require.NoError(t, err)
	assert.Equal(t, "m29", again[0].Content)
}

func TestMemoryStatsAndClose(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SyncUser(ctx, User{ID: "u1"}))
	require.NoError(t, m.UpdateUserStatus(ctx, "u1", true))
	require.NoError(t, m.EnsureUserInDefaultRoom(ctx, "u1"))
	_, err := m.SaveMessage(ctx, Message{RoomID: DefaultRoomID, SenderID: "u1", Content: "x"})
	require.NoError(t, err)

	s, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Users: 1, OnlineUsers: 1, Rooms: 1, Messages: 1}, s)

	require.NoError(t, m.Ping(ctx))
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Ping(ctx), merr.ErrStoreClosed)
	_, _, err = m.GetUser(ctx, "u1")
	assert.True(t, merr.IsKind(err, merr.KindPersistence))
}

func TestValidMessageType(t *testing.T) {
	assert.True(t, ValidMessageType(MessageTypeLocation))
	assert.False(t, ValidMessageType("video"))
}
