package store

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
)

const chatMigration = `
CREATE TABLE IF NOT EXISTS chat_users (
    id text PRIMARY KEY,
    username text NOT NULL,
    display_name text NOT NULL DEFAULT '',
    email text NOT NULL DEFAULT '',
    profile_pic_url text NOT NULL DEFAULT '',
    is_online boolean NOT NULL DEFAULT false,
    last_seen timestamptz NOT NULL DEFAULT NOW(),
    synced_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_rooms (
    id text PRIMARY KEY,
    name text NOT NULL,
    type text NOT NULL CHECK (type IN ('direct', 'group')),
    description text NOT NULL DEFAULT '',
    created_by text NOT NULL,
    is_active boolean NOT NULL DEFAULT true,
    last_activity timestamptz NOT NULL DEFAULT NOW(),
    created_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS room_participants (
    room_id text NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
    user_id text NOT NULL,
    role text NOT NULL DEFAULT 'member',
    is_active boolean NOT NULL DEFAULT true,
    joined_at timestamptz NOT NULL DEFAULT NOW(),
    PRIMARY KEY (room_id, user_id)
);

CREATE INDEX IF NOT EXISTS room_participants_user_idx
ON room_participants (user_id);

CREATE TABLE IF NOT EXISTS messages (
    id text PRIMARY KEY,
    room_id text NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
    sender_id text NOT NULL,
    content text NOT NULL,
    message_type text NOT NULL DEFAULT 'text',
    is_deleted boolean NOT NULL DEFAULT false,
    created_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS messages_room_created_idx
ON messages (room_id, created_at DESC);

CREATE TABLE IF NOT EXISTS typing_indicators (
    room_id text NOT NULL,
    user_id text NOT NULL,
    started_at timestamptz NOT NULL DEFAULT NOW(),
    expires_at timestamptz NOT NULL,
    PRIMARY KEY (room_id, user_id)
);
`

// Migrate creates the chat schema when it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, chatMigration); err != nil {
		return errors.Wrap(err, "run chat migration")
	}
	return nil
}
