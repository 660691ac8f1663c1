// Package protocol defines the JSON envelopes exchanged over the chat
// WebSocket and their codec.
package protocol

// Inbound envelope types.
const (
	TypeAuth      = "auth"
	TypeJoinRoom  = "join_room"
	TypeLeaveRoom = "leave_room"
	TypeMessage   = "message"
	TypeTyping    = "typing"
	TypeGetRooms  = "get_rooms"
	TypePing      = "ping"
)

// Outbound envelope types.
const (
	TypeAuthSuccess = "auth_success"
	TypeAuthError   = "auth_error"
	TypeRoomJoined  = "room_joined"
	TypeRoomLeft    = "room_left"
	TypeUserJoined  = "user_joined"
	TypeUserLeft    = "user_left"
	TypeNewMessage  = "new_message"
	TypeMessageSent = "message_sent"
	TypeRoomsList   = "rooms_list"
	TypePong        = "pong"
	TypeError       = "error"
)

// Error texts sent to clients.
const (
	ErrTextTokenRequired    = "Token required"
	ErrTextInvalidToken     = "Invalid token"
	ErrTextAuthRequired     = "Authentication required"
	ErrTextRoomIDRequired   = "Room ID required"
	ErrTextRoomAndContent   = "Room ID and content required"
	ErrTextAccessDenied     = "Access denied to room"
	ErrTextJoinFailed       = "Failed to join room"
	ErrTextNotInRoom        = "Must join a room first"
	ErrTextInvalidFormat    = "Invalid message format"
	ErrTextUnknownType      = "Unknown message type"
	ErrTextRateLimited      = "Rate limit exceeded"
	ErrTextRoomsUnavailable = "Failed to load rooms"
	ErrTextContentTooLong   = "Message content too long"
)

// Inbound is the union of all client envelopes. Fields not used by a type
// are left empty.
type Inbound struct {
	Type        string `json:"type"`
	Token       string `json:"token,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
	RoomIDAlt   string `json:"roomId,omitempty"`
	Content     string `json:"content,omitempty"`
	MessageType string `json:"message_type,omitempty"`
	IsTyping    *bool  `json:"is_typing,omitempty"`
}

// Room returns room_id, or roomId when room_id is absent.
func (in *Inbound) Room() string {
	if in.RoomID != "" {
		return in.RoomID
	}
	return in.RoomIDAlt
}

type AuthSuccess struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type ErrorEnvelope struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type RoomJoined struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

type RoomLeft struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// Presence is used for user_joined and user_left.
type Presence struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

type NewMessage struct {
	Type        string `json:"type"`
	MessageID   string `json:"message_id"`
	RoomID      string `json:"room_id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
	MessageType string `json:"message_type"`
}

type MessageSent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
	Timestamp string `json:"timestamp"`
}

type Typing struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type RoomSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsOnline bool   `json:"isOnline"`
}

type RoomsList struct {
	Type  string        `json:"type"`
	Rooms []RoomSummary `json:"rooms"`
}

type Pong struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}
