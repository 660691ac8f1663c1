// Package store persists users, rooms, messages and typing indicators.
package store

import (
	"context"
	"time"
)

// DefaultRoomID is the room every authenticated user is placed in.
const (
	DefaultRoomID          = "550e8400-e29b-41d4-a716-446655440000"
	DefaultRoomName        = "General Chat"
	DefaultRoomDescription = "Welcome! Start chatting with everyone here."
)

// Room types.
const (
	RoomTypeDirect = "direct"
	RoomTypeGroup  = "group"
)

// Participant roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Message type tags.
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeFile     = "file"
	MessageTypeLocation = "location"
	MessageTypeSystem   = "system"
)

// ValidMessageType reports whether t is a known message type tag.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeLocation, MessageTypeSystem:
		return true
	}
	return false
}

type User struct {
	ID          string
	Username    string
	DisplayName string
	Email       string
	AvatarURL   string
	IsOnline    bool
	LastSeen    time.Time
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

type Room struct {
	ID           string
	Name         string
	Type         string
	Description  string
	CreatedBy    string
	LastActivity time.Time
	CreatedAt    time.Time
}

type Message struct {
	ID         string
	RoomID     string
	SenderID   string
	SenderName string
	Content    string
	Type       string
	CreatedAt  time.Time
}

// Stats is a point-in-time count of stored entities.
type Stats struct {
	Users       int64 `json:"users"`
	OnlineUsers int64 `json:"online_users"`
	Rooms       int64 `json:"rooms"`
	Messages    int64 `json:"messages"`
}

// Store is the persistence boundary of the chat engine. Every method is
// safe for concurrent use.
type Store interface {
	// SyncUser inserts or updates u's profile.
	SyncUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, userID string) (User, bool, error)
	UpdateUserStatus(ctx context.Context, userID string, online bool) error

	// CreateRoom creates a room with createdBy as admin and returns its id.
	CreateRoom(ctx context.Context, name, roomType, createdBy string) (string, error)
	AddParticipant(ctx context.Context, roomID, userID, role string) error
	CanUserJoinRoom(ctx context.Context, userID, roomID string) (bool, error)
	// GetUserRooms lists the user's rooms, most recently active first.
	GetUserRooms(ctx context.Context, userID string) ([]Room, error)
	// EnsureUserInDefaultRoom creates the default room when missing and makes
	// userID a member of it.
	EnsureUserInDefaultRoom(ctx context.Context, userID string) error

	// SaveMessage stores m and returns its id.
	SaveMessage(ctx context.Context, m Message) (string, error)
	// GetRoomMessages returns up to limit messages, newest first.
	GetRoomMessages(ctx context.Context, roomID string, limit int) ([]Message, error)

	SetTypingIndicator(ctx context.Context, roomID, userID string, expiresAt time.Time) error
	ClearTypingIndicator(ctx context.Context, roomID, userID string) error
	// GetTypingUsers returns users in roomID whose indicator expires after now.
	GetTypingUsers(ctx context.Context, roomID string, now time.Time) ([]string, error)
	// CleanupExpiredTypingIndicators removes indicators that expired at or
	// before now and returns how many were removed.
	CleanupExpiredTypingIndicators(ctx context.Context, now time.Time) (int64, error)

	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}
