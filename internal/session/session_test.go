package session_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"github.com/gate4ai/streamhttp/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSession_InitializeGating(t *testing.T) {
	s := session.New("sess-1", false, zap.NewNop())
	assert.Equal(t, session.StatusUninitialized, s.Status())

	s.BeginInitialize()
	assert.Equal(t, session.StatusInitializing, s.Status())

	s.CompleteInitialize()
	assert.Equal(t, session.StatusInitialized, s.Status())
}

func TestSession_RecordEvent_IDsAreMonotonic(t *testing.T) {
	s := session.New("sess-2", false, zap.NewNop())
	var last uint64
	for i := 0; i < 10; i++ {
		id := s.RecordEvent(nil, false)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestPendingRequest_ResolvedExactlyOnce(t *testing.T) {
	id := jsonrpc.NewNumberID(1)
	calls := 0
	pr := &session.PendingRequest{ID: id, Timer: time.NewTimer(time.Hour)}

	first := pr.Resolve(&jsonrpc.Message{ID: &id}, func(*jsonrpc.Message) { calls++ })
	second := pr.Resolve(&jsonrpc.Message{ID: &id}, func(*jsonrpc.Message) { calls++ })

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 1, calls)
	assert.True(t, pr.Resolved())
}

func TestSession_Terminate_ResolvesPendingRequestsAndClosesStreams(t *testing.T) {
	s := session.New("sess-3", false, zap.NewNop())

	delivered := make(chan *jsonrpc.Message, 1)
	id := jsonrpc.NewNumberID(5)
	pr := &session.PendingRequest{
		ID:     id,
		Timer:  time.NewTimer(time.Hour),
		Waiter: session.Waiter{JSONChan: delivered},
	}
	s.RegisterPendingRequest(pr)

	closed := &fakeStream{id: "stream-1"}
	s.AddStream(closed)

	s.Terminate()

	select {
	case msg := <-delivered:
		require.NotNil(t, msg.Error)
		assert.Equal(t, jsonrpc.ErrCodeTransportOrSession, msg.Error.Code)
		assert.Equal(t, "Session terminated", msg.Error.Message)
	default:
		t.Fatal("expected pending request to be resolved with a termination error")
	}
	assert.True(t, closed.closed)
	assert.Equal(t, session.StatusTerminated, s.Status())

	// Idempotent: calling Terminate twice must not panic or double-deliver.
	s.Terminate()
}

func TestSession_RecordEvent_ReplayAfterFiltersAndOrders(t *testing.T) {
	s := session.New("sess-history", false, zap.NewNop())

	var ids []uint64
	for i := int64(1); i <= 4; i++ {
		result := json.RawMessage(`{}`)
		id := jsonrpc.NewNumberID(i)
		ids = append(ids, s.RecordEvent(&jsonrpc.Message{ID: &id, Result: &result}, true))
	}

	entries := s.ReplayAfter(ids[1])
	require.Len(t, entries, 2)
	assert.Equal(t, ids[2], entries[0].EventID)
	assert.Equal(t, ids[3], entries[1].EventID)
}

func TestSession_RecordEvent_SurvivesStreamDisconnect(t *testing.T) {
	// The whole point of session-level history: it must still be there
	// after the Stream object that was live when it was recorded is gone.
	s := session.New("sess-reconnect", false, zap.NewNop())
	stream := &fakeStream{id: "gone"}
	s.AddStream(stream)

	result := json.RawMessage(`{}`)
	id := jsonrpc.NewNumberID(1)
	recordedID := s.RecordEvent(&jsonrpc.Message{ID: &id, Result: &result}, true)

	s.RemoveStream("gone")
	stream.Close()

	entries := s.ReplayAfter(0)
	require.Len(t, entries, 1)
	assert.Equal(t, recordedID, entries[0].EventID)
}

func TestSession_RecordEvent_HistoryRing_BoundedAt100(t *testing.T) {
	s := session.New("sess-bounded", false, zap.NewNop())
	var lastID uint64
	for i := int64(1); i <= 150; i++ {
		result := json.RawMessage(`{}`)
		id := jsonrpc.NewNumberID(i)
		lastID = s.RecordEvent(&jsonrpc.Message{ID: &id, Result: &result}, true)
	}

	entries := s.ReplayAfter(0)
	assert.LessOrEqual(t, len(entries), 100)
	assert.Equal(t, lastID, entries[len(entries)-1].EventID)
}

func TestSession_RecordEvent_ConcurrentCallsStayInOrder(t *testing.T) {
	// Regression test: id allocation and ring insertion used to be two
	// separate critical sections, so two goroutines racing through
	// deliverServerInitiated could allocate ids 5 and 6 but append to
	// history in the order 6, 5. RecordEvent now does both under one
	// lock, so however the goroutines interleave, history must end up
	// sorted by EventID.
	s := session.New("sess-concurrent", false, zap.NewNop())

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			result := json.RawMessage(`{}`)
			id := jsonrpc.NewNumberID(int64(i))
			s.RecordEvent(&jsonrpc.Message{ID: &id, Result: &result}, true)
		}(i)
	}
	wg.Wait()

	entries := s.ReplayAfter(0)
	require.Len(t, entries, n)
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].EventID, entries[i].EventID, "history ring must stay sorted by EventID even under concurrent RecordEvent calls")
	}
}

type fakeStream struct {
	id     string
	closed bool
}

func (f *fakeStream) ID() string { return f.id }
func (f *fakeStream) Close()     { f.closed = true }

func TestMemoryStore_SetGetDelete(t *testing.T) {
	store := session.NewMemoryStore(zap.NewNop())
	store.Set("a", &session.Data{ID: "a", Initialized: true}, 50*time.Millisecond)

	data, ok := store.Get("a")
	require.True(t, ok)
	assert.True(t, data.Initialized)

	store.Delete("a")
	_, ok = store.Get("a")
	assert.False(t, ok)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := session.NewMemoryStore(zap.NewNop())
	store.Set("b", &session.Data{ID: "b"}, 20*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	_, ok := store.Get("b")
	assert.False(t, ok)
}

func TestRegistry_CreateGetRemove(t *testing.T) {
	store := session.NewMemoryStore(zap.NewNop())
	reg := session.NewRegistry(store, zap.NewNop())

	s := reg.Create("sess-x", zap.NewNop())
	got, ok := reg.Get("sess-x")
	require.True(t, ok)
	assert.Same(t, s, got)

	reg.Remove("sess-x")
	_, ok = reg.Get("sess-x")
	assert.False(t, ok)
}
