package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry holds the live, in-process Session objects (with their real
// streams and pending requests) for stateful mode. It is distinct from
// Store: Store persists the projection so a session can be recognized
// across a restart or a second server instance; Registry is what the
// transport actually dispatches against while a session is alive -- the
// split mirrors gate4ai's server/mcp.Manager (live sessions) sitting next
// to shared/config (durable config), adapted here to live session vs.
// persisted session data.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    Store
	logger   *zap.Logger
}

func NewRegistry(store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		store:    store,
		logger:   logger,
	}
}

func (r *Registry) Create(id string, logger *zap.Logger) *Session {
	s := New(id, false, logger)
	r.Put(s)
	return s
}

// Put registers an already-constructed Session. The transport uses it for
// every session it builds itself: sessions created by initialize, in
// either mode, and stateless ephemeral sessions, which skip Create's
// "stateful by construction" assumption.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// RemoveLocal drops the in-process entry without touching Store -- used
// to discard a stateless request's ephemeral session at request end,
// since stateless sessions are never persisted (invariant 5).
func (r *Registry) RemoveLocal(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get looks up a live session in memory, then falls back to Store per
// section 4.1.3's "look up by header in memory then in SessionStore".
// A Store hit without a live in-process Session means the id is known but
// its streams/pending-requests were never local to this process; it is
// reported as found but with a nil Session pointer is not useful, so the
// in-memory registry is authoritative for this single-process transport
// and the Store hit only confirms the id is not stale.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s, true
	}
	if r.store != nil {
		if _, found := r.store.Get(id); found {
			return nil, true // recognized by the store, but this process holds no live streams for it
		}
	}
	return nil, false
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Terminate()
	}
	if r.store != nil {
		r.store.Delete(id)
	}
}

// Persist writes the session's current projection into Store with the
// given TTL, called on every inbound message per the "TTL timer reset on
// every inbound message" refresh rule.
func (r *Registry) Persist(s *Session, ttl time.Duration) {
	if r.store == nil {
		return
	}
	r.store.Set(s.ID, &Data{
		ID:              s.ID,
		Initialized:     s.Status() == StatusInitialized,
		ProtocolVersion: s.ProtocolVersion(),
		LastActivity:    s.LastActivity(),
	}, ttl)
}

// CleanupIdle terminates and removes every live session whose last
// activity exceeds timeout, the backstop sweep grounded on
// server/mcp.Manager.CleanupIdleSessions, run alongside the precise
// per-entry Store timers rather than instead of them.
func (r *Registry) CleanupIdle(timeout time.Duration) {
	r.mu.RLock()
	stale := make([]string, 0)
	now := time.Now()
	for id, s := range r.sessions {
		if s.LastActivity().Add(timeout).Before(now) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range stale {
		r.logger.Info("idle session expired", zap.String("session_id", id))
		r.Remove(id)
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Remove(id)
		}(id)
	}
	wg.Wait()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
