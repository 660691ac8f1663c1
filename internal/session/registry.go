package session

import (
	"sort"
	"sync"

	"github.com/alis2001/chat-service/internal/merr"
	"github.com/alis2001/chat-service/internal/metrics"
)

// Registry is the set of live sessions. One mutex guards the map; callers
// receive copies and do their I/O after the lock is released.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	nextSeq  uint64
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds s. A second session with the same id is rejected.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	if _, ok := r.sessions[s.id]; ok {
		r.mu.Unlock()
		return merr.Wrapf(merr.ErrDuplicate, "session %s already registered", s.id)
	}
	r.nextSeq++
	s.seq = r.nextSeq
	r.sessions[s.id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionsActive.Set(float64(n))
	return nil
}

// Deregister removes id and reports whether it was present.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if ok {
		metrics.SessionsActive.Set(float64(n))
	}
	return ok
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// SnapshotByRoom returns the sessions currently in roomID, in registration
// order.
func (r *Registry) SnapshotByRoom(roomID string) []*Session {
	if roomID == "" {
		return nil
	}
	r.mu.Lock()
	out := make([]*Session, 0)
	for _, s := range r.sessions {
		if s.RoomID() == roomID {
			out = append(out, s)
		}
	}
	r.mu.Unlock()

	sortBySeq(out)
	return out
}

// Snapshot returns every registered session in registration order.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sortBySeq(out)
	return out
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) CountAuthenticated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.IsAuthenticated() {
			n++
		}
	}
	return n
}

// CountUser returns how many registered sessions are authenticated as userID.
func (r *Registry) CountUser(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.IsAuthenticated() && s.UserID() == userID {
			n++
		}
	}
	return n
}

func sortBySeq(ss []*Session) {
	sort.Slice(ss, func(i, j int) bool { return ss[i].seq < ss[j].seq })
}
