package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/alis2001/chat-service/internal/log"
	"github.com/alis2001/chat-service/internal/merr"
)

const (
	sqlSyncUser = `INSERT INTO chat_users (id, username, display_name, email, profile_pic_url, synced_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (id) DO UPDATE SET
username = EXCLUDED.username,
display_name = EXCLUDED.display_name,
email = EXCLUDED.email,
profile_pic_url = EXCLUDED.profile_pic_url,
synced_at = NOW()`

	sqlGetUser = `SELECT id, username, display_name, email, profile_pic_url, is_online, last_seen
FROM chat_users WHERE id = $1`

	sqlUpdateUserStatus = `UPDATE chat_users SET is_online = $2, last_seen = NOW() WHERE id = $1`

	sqlInsertRoom = `INSERT INTO chat_rooms (id, name, type, created_by, description)
VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`

	sqlAddParticipant = `INSERT INTO room_participants (room_id, user_id, role)
VALUES ($1, $2, $3)
ON CONFLICT (room_id, user_id) DO UPDATE SET is_active = true`

	sqlCanJoin = `SELECT cr.type, EXISTS (
    SELECT 1 FROM room_participants rp
    WHERE rp.room_id = cr.id AND rp.user_id = $2 AND rp.is_active = true)
FROM chat_rooms cr WHERE cr.id = $1 AND cr.is_active = true`

	sqlGetUserRooms = `SELECT cr.id, cr.name, cr.type, cr.description, cr.created_by, cr.last_activity, cr.created_at
FROM chat_rooms cr
JOIN room_participants rp ON cr.id = rp.room_id
WHERE rp.user_id = $1 AND rp.is_active = true AND cr.is_active = true
ORDER BY cr.last_activity DESC`

	sqlSaveMessage = `INSERT INTO messages (id, room_id, sender_id, content, message_type, created_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	sqlTouchRoom = `UPDATE chat_rooms SET last_activity = $2 WHERE id = $1`

	sqlGetMessages = `SELECT m.id, m.room_id, m.sender_id, m.content, m.message_type, m.created_at,
COALESCE(NULLIF(u.display_name, ''), u.username, '')
FROM messages m
LEFT JOIN chat_users u ON m.sender_id = u.id
WHERE m.room_id = $1 AND m.is_deleted = false
ORDER BY m.created_at DESC LIMIT $2`

	sqlSetTyping = `INSERT INTO typing_indicators (room_id, user_id, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (room_id, user_id) DO UPDATE SET started_at = NOW(), expires_at = EXCLUDED.expires_at`

	sqlClearTyping = `DELETE FROM typing_indicators WHERE room_id = $1 AND user_id = $2`

	sqlGetTyping = `SELECT user_id FROM typing_indicators
WHERE room_id = $1 AND expires_at > $2 ORDER BY user_id`

	sqlCleanupTyping = `DELETE FROM typing_indicators WHERE expires_at <= $1`

	sqlStats = `SELECT
(SELECT COUNT(*) FROM chat_users),
(SELECT COUNT(*) FROM chat_users WHERE is_online = true),
(SELECT COUNT(*) FROM chat_rooms WHERE is_active = true),
(SELECT COUNT(*) FROM messages WHERE is_deleted = false)`
)

// Postgres is a Store on a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an open database handle. The schema is not touched.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to dsn, retrying the first ping with exponential
// backoff until maxWait elapses, and runs the schema migration.
func OpenPostgres(ctx context.Context, dsn string, maxWait time.Duration) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = maxWait
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	notify := func(err error, next time.Duration) {
		log.Warn("postgres not ready, retrying", zap.Error(err), zap.Duration("next", next))
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(bo, ctx), notify); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("postgres store ready")
	return NewPostgres(db), nil
}

func (p *Postgres) SyncUser(ctx context.Context, u User) error {
	_, err := p.db.ExecContext(ctx, sqlSyncUser, u.ID, u.Username, u.DisplayName, u.Email, u.AvatarURL)
	return merr.WrapErrPersistence(err, "sync user")
}

func (p *Postgres) GetUser(ctx context.Context, userID string) (User, bool, error) {
	var u User
	err := p.db.QueryRowContext(ctx, sqlGetUser, userID).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.AvatarURL, &u.IsOnline, &u.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, merr.WrapErrPersistence(err, "get user")
	}
	return u, true, nil
}

func (p *Postgres) UpdateUserStatus(ctx context.Context, userID string, online bool) error {
	_, err := p.db.ExecContext(ctx, sqlUpdateUserStatus, userID, online)
	return merr.WrapErrPersistence(err, "update user status")
}

func (p *Postgres) CreateRoom(ctx context.Context, name, roomType, createdBy string) (string, error) {
	id := uuid.NewString()
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlInsertRoom, id, name, roomType, createdBy, ""); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, sqlAddParticipant, id, createdBy, RoleAdmin)
		return err
	})
	if err != nil {
		return "", merr.WrapErrPersistence(err, "create room")
	}
	return id, nil
}

func (p *Postgres) AddParticipant(ctx context.Context, roomID, userID, role string) error {
	_, err := p.db.ExecContext(ctx, sqlAddParticipant, roomID, userID, role)
	return merr.WrapErrPersistence(err, "add participant")
}

// CanUserJoinRoom allows active members of any room and anyone into active
// group rooms.
func (p *Postgres) CanUserJoinRoom(ctx context.Context, userID, roomID string) (bool, error) {
	var (
		roomType string
		member   bool
	)
	err := p.db.QueryRowContext(ctx, sqlCanJoin, roomID, userID).Scan(&roomType, &member)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, merr.WrapErrPersistence(err, "can user join room")
	}
	return member || roomType == RoomTypeGroup, nil
}

func (p *Postgres) GetUserRooms(ctx context.Context, userID string) ([]Room, error) {
	rows, err := p.db.QueryContext(ctx, sqlGetUserRooms, userID)
	if err != nil {
		return nil, merr.WrapErrPersistence(err, "get user rooms")
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Type, &r.Description, &r.CreatedBy, &r.LastActivity, &r.CreatedAt); err != nil {
			return nil, merr.WrapErrPersistence(err, "scan room")
		}
		rooms = append(rooms, r)
	}
	return rooms, merr.WrapErrPersistence(rows.Err(), "iterate rooms")
}

func (p *Postgres) EnsureUserInDefaultRoom(ctx context.Context, userID string) error {
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlInsertRoom,
			DefaultRoomID, DefaultRoomName, RoomTypeGroup, userID, DefaultRoomDescription); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, sqlAddParticipant, DefaultRoomID, userID, RoleMember)
		return err
	})
	return merr.WrapErrPersistence(err, "ensure default room")
}

func (p *Postgres) SaveMessage(ctx context.Context, m Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	var id string
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, sqlSaveMessage,
			m.ID, m.RoomID, m.SenderID, m.Content, m.Type, m.CreatedAt).Scan(&id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, sqlTouchRoom, m.RoomID, m.CreatedAt)
		return err
	})
	if err != nil {
		return "", merr.WrapErrPersistence(err, "save message")
	}
	return id, nil
}

func (p *Postgres) GetRoomMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	rows, err := p.db.QueryContext(ctx, sqlGetMessages, roomID, limit)
	if err != nil {
		return nil, merr.WrapErrPersistence(err, "get room messages")
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.Type, &m.CreatedAt, &m.SenderName); err != nil {
			return nil, merr.WrapErrPersistence(err, "scan message")
		}
		msgs = append(msgs, m)
	}
	return msgs, merr.WrapErrPersistence(rows.Err(), "iterate messages")
}

func (p *Postgres) SetTypingIndicator(ctx context.Context, roomID, userID string, expiresAt time.Time) error {
	_, err := p.db.ExecContext(ctx, sqlSetTyping, roomID, userID, expiresAt)
	return merr.WrapErrPersistence(err, "set typing indicator")
}

func (p *Postgres) ClearTypingIndicator(ctx context.Context, roomID, userID string) error {
	_, err := p.db.ExecContext(ctx, sqlClearTyping, roomID, userID)
	return merr.WrapErrPersistence(err, "clear typing indicator")
}

func (p *Postgres) GetTypingUsers(ctx context.Context, roomID string, now time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, sqlGetTyping, roomID, now)
	if err != nil {
		return nil, merr.WrapErrPersistence(err, "get typing users")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, merr.WrapErrPersistence(err, "scan typing user")
		}
		users = append(users, u)
	}
	return users, merr.WrapErrPersistence(rows.Err(), "iterate typing users")
}

func (p *Postgres) CleanupExpiredTypingIndicators(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, sqlCleanupTyping, now)
	if err != nil {
		return 0, merr.WrapErrPersistence(err, "cleanup typing indicators")
	}
	n, err := res.RowsAffected()
	return n, merr.WrapErrPersistence(err, "cleanup typing indicators")
}

func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := p.db.QueryRowContext(ctx, sqlStats).Scan(&s.Users, &s.OnlineUsers, &s.Rooms, &s.Messages)
	return s, merr.WrapErrPersistence(err, "stats")
}

func (p *Postgres) Ping(ctx context.Context) error {
	return merr.WrapErrPersistence(p.db.PingContext(ctx), "ping")
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
