package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/alis2001/chat-service/internal/merr"
)

// Memory is a Store kept in process memory. It backs tests and deployments
// that run without a database.
type Memory struct {
	mu           sync.Mutex
	users        map[string]User
	rooms        map[string]Room
	participants map[string]map[string]string // room -> user -> role
	messages     map[string][]Message         // room -> oldest first
	typing       map[string]map[string]time.Time
	closed       bool
	now          func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]User),
		rooms:        make(map[string]Room),
		participants: make(map[string]map[string]string),
		messages:     make(map[string][]Message),
		typing:       make(map[string]map[string]time.Time),
		now:          time.Now,
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) check() error {
	if m.closed {
		return merr.ErrStoreClosed
	}
	return nil
}

func (m *Memory) SyncUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	prev, ok := m.users[u.ID]
	if ok {
		u.IsOnline = prev.IsOnline
		u.LastSeen = prev.LastSeen
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, userID string) (User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return User{}, false, err
	}
	u, ok := m.users[userID]
	return u, ok, nil
}

func (m *Memory) UpdateUserStatus(_ context.Context, userID string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	u, ok := m.users[userID]
	if !ok {
		u = User{ID: userID}
	}
	u.IsOnline = online
	u.LastSeen = m.now()
	m.users[userID] = u
	return nil
}

func (m *Memory) CreateRoom(_ context.Context, name, roomType, createdBy string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	now := m.now()
	m.rooms[id] = Room{ID: id, Name: name, Type: roomType, CreatedBy: createdBy, CreatedAt: now, LastActivity: now}
	m.addParticipantLocked(id, createdBy, RoleAdmin)
	return id, nil
}

func (m *Memory) addParticipantLocked(roomID, userID, role string) {
	members, ok := m.participants[roomID]
	if !ok {
		members = make(map[string]string)
		m.participants[roomID] = members
	}
	if _, exists := members[userID]; !exists {
		members[userID] = role
	}
}

func (m *Memory) AddParticipant(_ context.Context, roomID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.rooms[roomID]; !ok {
		return merr.Wrapf(merr.ErrPersistence, "room %s not found", roomID)
	}
	m.addParticipantLocked(roomID, userID, role)
	return nil
}

// CanUserJoinRoom allows members of any room and anyone into group rooms.
func (m *Memory) CanUserJoinRoom(_ context.Context, userID, roomID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return false, nil
	}
	if _, member := m.participants[roomID][userID]; member {
		return true, nil
	}
	return room.Type == RoomTypeGroup, nil
}

func (m *Memory) GetUserRooms(_ context.Context, userID string) ([]Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var rooms []Room
	for roomID, members := range m.participants {
		if _, ok := members[userID]; ok {
			rooms = append(rooms, m.rooms[roomID])
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].LastActivity.After(rooms[j].LastActivity)
	})
	return rooms, nil
}

func (m *Memory) EnsureUserInDefaultRoom(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.rooms[DefaultRoomID]; !ok {
		now := m.now()
		m.rooms[DefaultRoomID] = Room{
			ID:           DefaultRoomID,
			Name:         DefaultRoomName,
			Type:         RoomTypeGroup,
			Description:  DefaultRoomDescription,
			CreatedBy:    userID,
			CreatedAt:    now,
			LastActivity: now,
		}
	}
	m.addParticipantLocked(DefaultRoomID, userID, RoleMember)
	return nil
}

func (m *Memory) SaveMessage(_ context.Context, msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return "", err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], msg)
	if room, ok := m.rooms[msg.RoomID]; ok {
		room.LastActivity = msg.CreatedAt
		m.rooms[msg.RoomID] = room
	}
	return msg.ID, nil
}

func (m *Memory) GetRoomMessages(_ context.Context, roomID string, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	all := m.messages[roomID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := lo.Reverse(append([]Message(nil), all...))
	for i := range out {
		if u, ok := m.users[out[i].SenderID]; ok && out[i].SenderName == "" {
			out[i].SenderName = u.Name()
		}
	}
	return out, nil
}

func (m *Memory) SetTypingIndicator(_ context.Context, roomID, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	users, ok := m.typing[roomID]
	if !ok {
		users = make(map[string]time.Time)
		m.typing[roomID] = users
	}
	users[userID] = expiresAt
	return nil
}

func (m *Memory) ClearTypingIndicator(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	delete(m.typing[roomID], userID)
	return nil
}

func (m *Memory) GetTypingUsers(_ context.Context, roomID string, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var users []string
	for user, exp := range m.typing[roomID] {
		if exp.After(now) {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (m *Memory) CleanupExpiredTypingIndicators(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	var n int64
	for room, users := range m.typing {
		for user, exp := range users {
			if !exp.After(now) {
				delete(users, user)
				n++
			}
		}
		if len(users) == 0 {
			delete(m.typing, room)
		}
	}
	return n, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return Stats{}, err
	}
	s := Stats{Users: int64(len(m.users)), Rooms: int64(len(m.rooms))}
	for _, u := range m.users {
		if u.IsOnline {
			s.OnlineUsers++
		}
	}
	for _, msgs := range m.messages {
		s.Messages += int64(len(msgs))
	}
	return s, nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
