package chat

import (
	"context"
	"time"

	"github.com/alis2001/chat-service/internal/metrics"
	"github.com/alis2001/chat-service/internal/store"
)

// DefaultTypingTTL is how long a typing indicator stays active.
const DefaultTypingTTL = 10 * time.Second

// TypingTracker records who is typing in which room. Indicators live in the
// Store; reads filter by the current time so an expired indicator is never
// reported even before the sweep removes it.
type TypingTracker struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewTypingTracker(st store.Store, ttl time.Duration, now func() time.Time) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TypingTracker{store: st, ttl: ttl, now: now}
}

// SetTyping marks userID as typing in roomID until now+TTL.
func (t *TypingTracker) SetTyping(ctx context.Context, roomID, userID string) error {
	return t.store.SetTypingIndicator(ctx, roomID, userID, t.now().Add(t.ttl))
}

func (t *TypingTracker) ClearTyping(ctx context.Context, roomID, userID string) error {
	return t.store.ClearTypingIndicator(ctx, roomID, userID)
}

// ActiveUsers lists the users typing in roomID right now.
func (t *TypingTracker) ActiveUsers(ctx context.Context, roomID string) ([]string, error) {
	return t.store.GetTypingUsers(ctx, roomID, t.now())
}

func (t *TypingTracker) IsTyping(ctx context.Context, roomID, userID string) (bool, error) {
	users, err := t.ActiveUsers(ctx, roomID)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

// Sweep deletes expired indicators from the Store.
func (t *TypingTracker) Sweep(ctx context.Context) (int64, error) {
	n, err := t.store.CleanupExpiredTypingIndicators(ctx, t.now())
	if n > 0 {
		metrics.TypingSwept.Add(float64(n))
	}
	return n, err
}
