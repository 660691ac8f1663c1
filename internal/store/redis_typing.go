package store

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/alis2001/chat-service/internal/merr"
)

const typingKeyPrefix = "chat:typing:"

// RedisTyping keeps typing indicators in Redis and delegates everything else
// to the wrapped Store. Each room is a sorted set of user ids scored by the
// indicator's expiry in unix milliseconds.
type RedisTyping struct {
	Store
	rdb redis.UniversalClient
}

var _ Store = (*RedisTyping)(nil)

func NewRedisTyping(base Store, rdb redis.UniversalClient) *RedisTyping {
	return &RedisTyping{Store: base, rdb: rdb}
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}
	return client, nil
}

func typingKey(roomID string) string {
	return typingKeyPrefix + roomID
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (r *RedisTyping) SetTypingIndicator(ctx context.Context, roomID, userID string, expiresAt time.Time) error {
	key := typingKey(roomID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiresAt.UnixMilli()), Member: userID})
		// the key outlives its newest indicator by a little so the sweep can
		// still count what expired
		pipe.PExpireAt(ctx, key, expiresAt.Add(time.Minute))
		return nil
	})
	return merr.WrapErrPersistence(err, "redis set typing indicator")
}

func (r *RedisTyping) ClearTypingIndicator(ctx context.Context, roomID, userID string) error {
	err := r.rdb.ZRem(ctx, typingKey(roomID), userID).Err()
	return merr.WrapErrPersistence(err, "redis clear typing indicator")
}

func (r *RedisTyping) GetTypingUsers(ctx context.Context, roomID string, now time.Time) ([]string, error) {
	users, err := r.rdb.ZRangeByScore(ctx, typingKey(roomID), &redis.ZRangeBy{
		Min: "(" + score(now),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, merr.WrapErrPersistence(err, "redis get typing users")
	}
	return users, nil
}

func (r *RedisTyping) CleanupExpiredTypingIndicators(ctx context.Context, now time.Time) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, typingKeyPrefix+"*", 100).Result()
		if err != nil {
			return removed, merr.WrapErrPersistence(err, "redis scan typing keys")
		}
		for _, key := range keys {
			n, err := r.rdb.ZRemRangeByScore(ctx, key, "-inf", score(now)).Result()
			if err != nil {
				return removed, merr.WrapErrPersistence(err, "redis remove expired typing")
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

// Close closes the Redis client and then the wrapped Store.
func (r *RedisTyping) Close() error {
	return merr.Combine(r.rdb.Close(), r.Store.Close())
}
