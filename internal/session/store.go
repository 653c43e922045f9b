package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Data is the persistable projection of a Session: no streams, no pending
// requests, no timers, just enough to resume identity and gating state --
// matching section 4.2's "SessionData is the persistable projection".
type Data struct {
	ID              string
	Initialized     bool
	ProtocolVersion string
	LastActivity    time.Time
}

// Store is the three-operation persistence contract of section 4.2. The
// in-memory implementation is synchronous; an external key-value store
// (Redis, etc.) would satisfy the same interface asynchronously under the
// hood via its own client, with TTL realized natively rather than via
// time.AfterFunc.
type Store interface {
	Get(id string) (*Data, bool)
	Set(id string, data *Data, ttl time.Duration)
	Delete(id string)
}

// MemoryStore is the default SessionStore: an in-memory map with a
// per-entry time.AfterFunc that removes the entry on TTL expiry, reset on
// every Set call, grounded on the teacher's combination of a per-session
// idle check (server/mcp/manager.go CleanupIdleSessions) and an explicit
// timer-based approach for the "calling set resets it" requirement that a
// periodic sweep alone cannot satisfy precisely.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*storeEntry
	logger  *zap.Logger
}

type storeEntry struct {
	data  *Data
	timer *time.Timer
}

func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		entries: make(map[string]*storeEntry),
		logger:  logger,
	}
}

func (m *MemoryStore) Get(id string) (*Data, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	cp := *e.data
	return &cp, true
}

func (m *MemoryStore) Set(id string, data *Data, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok && e.timer != nil {
		e.timer.Stop()
	}
	entry := &storeEntry{data: data}
	entry.timer = time.AfterFunc(ttl, func() {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
		m.logger.Debug("session store entry expired", zap.String("session_id", id))
	})
	m.entries[id] = entry
}

func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(m.entries, id)
	}
}

// Len reports the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
