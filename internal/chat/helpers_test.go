package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/alis2001/chat-service/internal/auth"
	"github.com/alis2001/chat-service/internal/conc"
	"github.com/alis2001/chat-service/internal/session"
	"github.com/alis2001/chat-service/internal/store"
	"github.com/alis2001/chat-service/internal/testhelpers"
)

const testSecret = "test-secret"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().Truncate(time.Millisecond)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// testStore wraps the in-memory store with failure switches and counters.
type testStore struct {
	*store.Memory

	mu          sync.Mutex
	failJoin    bool
	failSave    bool
	offline     map[string]int
	saved       int
	failHistory bool

	// hooks run outside mu before the call reaches Memory
	saveHook    func()
	statusHook  func(userID string, online bool)
	historyHook func()
}

func (s *testStore) setSaveHook(fn func()) {
	s.mu.Lock()
	s.saveHook = fn
	s.mu.Unlock()
}

func (s *testStore) setStatusHook(fn func(userID string, online bool)) {
	s.mu.Lock()
	s.statusHook = fn
	s.mu.Unlock()
}

func (s *testStore) setHistoryHook(fn func()) {
	s.mu.Lock()
	s.historyHook = fn
	s.mu.Unlock()
}

func newTestStore() *testStore {
	return &testStore{Memory: store.NewMemory(), offline: make(map[string]int)}
}

var errStoreDown = errors.New("store down")

func (s *testStore) CanUserJoinRoom(ctx context.Context, userID, roomID string) (bool, error) {
	s.mu.Lock()
	fail := s.failJoin
	s.mu.Unlock()
	if fail {
		return false, errStoreDown
	}
	return s.Memory.CanUserJoinRoom(ctx, userID, roomID)
}

func (s *testStore) SaveMessage(ctx context.Context, m store.Message) (string, error) {
	s.mu.Lock()
	fail := s.failSave
	s.saved++
	hook := s.saveHook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail {
		return "", errStoreDown
	}
	return s.Memory.SaveMessage(ctx, m)
}

func (s *testStore) GetRoomMessages(ctx context.Context, roomID string, limit int) ([]store.Message, error) {
	s.mu.Lock()
	fail := s.failHistory
	hook := s.historyHook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail {
		return nil, errStoreDown
	}
	return s.Memory.GetRoomMessages(ctx, roomID, limit)
}

func (s *testStore) UpdateUserStatus(ctx context.Context, userID string, online bool) error {
	s.mu.Lock()
	if !online {
		s.offline[userID]++
	}
	hook := s.statusHook
	s.mu.Unlock()
	if hook != nil {
		hook(userID, online)
	}
	return s.Memory.UpdateUserStatus(ctx, userID, online)
}

func (s *testStore) offlineCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline[userID]
}

func (s *testStore) saveAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

type harness struct {
	t        *testing.T
	engine   *Engine
	store    *testStore
	registry *session.Registry
	clock    *fakeClock
	authn    *auth.JWTAuthenticator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithPool(t, 4)
}

// newHarnessWithPool builds a harness whose persistence pool has size
// workers and drops work when they are all busy.
func newHarnessWithPool(t *testing.T, size int) *harness {
	t.Helper()
	authn, err := auth.NewJWTAuthenticator(testSecret)
	require.NoError(t, err)
	pool, err := conc.NewPool(size, conc.WithNonBlocking(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Release(time.Second) })

	st := newTestStore()
	clock := newFakeClock()
	registry := session.NewRegistry()
	e := NewEngine(DefaultConfig(), registry, st, authn, pool, WithClock(clock.Now))
	return &harness{t: t, engine: e, store: st, registry: registry, clock: clock, authn: authn}
}

func (h *harness) connect() (*session.Session, *testhelpers.FakeConn) {
	h.t.Helper()
	conn := testhelpers.NewFakeConn()
	s := session.New(conn, "127.0.0.1:0", h.clock.Now())
	require.NoError(h.t, h.registry.Register(s))
	return s, conn
}

func (h *harness) token(userID, username string) string {
	h.t.Helper()
	tok, err := h.authn.Sign(auth.Identity{UserID: userID, Username: username}, "", time.Hour)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) send(s *session.Session, frame any) {
	h.t.Helper()
	raw, ok := frame.(string)
	if !ok {
		data, err := json.Marshal(frame)
		require.NoError(h.t, err)
		raw = string(data)
	}
	require.NoError(h.t, h.engine.HandleFrame(context.Background(), s, []byte(raw)))
}

// login connects and authenticates a session and forgets the frames it got.
func (h *harness) login(userID, username string) (*session.Session, *testhelpers.FakeConn) {
	h.t.Helper()
	s, conn := h.connect()
	h.send(s, map[string]string{"type": "auth", "token": h.token(userID, username)})
	require.True(h.t, s.IsAuthenticated())
	conn.Reset()
	return s, conn
}

func (h *harness) join(s *session.Session, conn *testhelpers.FakeConn, roomID string) {
	h.t.Helper()
	h.send(s, map[string]string{"type": "join_room", "room_id": roomID})
	require.Equal(h.t, roomID, s.RoomID())
	conn.Reset()
}

func decodeFrames(t *testing.T, conn *testhelpers.FakeConn) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, f := range conn.Frames() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func frameTypes(t *testing.T, conn *testhelpers.FakeConn) []string {
	t.Helper()
	var types []string
	for _, f := range decodeFrames(t, conn) {
		types = append(types, f["type"].(string))
	}
	return types
}
