package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/moneymentor/mentor/pkg/adapters/memory"
	"github.com/moneymentor/mentor/pkg/domain"
	"github.com/moneymentor/mentor/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenStore fails every call, simulating a durable store outage.
type brokenStore struct{}

func (brokenStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	return nil, errors.New("store unreachable")
}

func (brokenStore) Upsert(ctx context.Context, id string, s *domain.Session) error {
	return errors.New("store unreachable")
}

func (brokenStore) Delete(ctx context.Context, id string) error {
	return errors.New("store unreachable")
}

func (brokenStore) List(ctx context.Context) ([]string, error) {
	return nil, errors.New("store unreachable")
}

// gateStore delays the first durable upsert until released, holding a
// write-behind flush in flight.
type gateStore struct {
	*memory.Store

	mu    sync.Mutex
	gated bool
	gate  chan struct{}
}

func newGateStore() *gateStore {
	return &gateStore{
		Store: memory.NewStore(),
		gated: true,
		gate:  make(chan struct{}),
	}
}

func (g *gateStore) Upsert(ctx context.Context, id string, s *domain.Session) error {
	g.mu.Lock()
	first := g.gated
	g.gated = false
	g.mu.Unlock()

	if first {
		<-g.gate
	}
	return g.Store.Upsert(ctx, id, s)
}

func (g *gateStore) release() {
	close(g.gate)
}

func fastFlush() session.Option {
	return session.WithReconciler(session.ReconcilerConfig{
		Workers:     2,
		QueueSize:   64,
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	})
}

func TestManager_CreateThenRead(t *testing.T) {
	m := session.NewManager(memory.NewStore(), fastFlush())
	defer m.Close()
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "sess-1", "learner-7")
	require.NoError(t, err)
	require.Equal(t, "sess-1", created.ID)

	got, err := m.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "learner-7", got.UserID)
	assert.Empty(t, got.ChatHistory)
	assert.Empty(t, got.QuizHistory)
	assert.Empty(t, got.Progress)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
}

func TestManager_CreateGeneratesID(t *testing.T) {
	m := session.NewManager(memory.NewStore(), fastFlush())
	defer m.Close()
	ctx := context.Background()

	first, err := m.CreateSession(ctx, "", "learner-1")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := m.CreateSession(ctx, "  ", "learner-1")
	require.NoError(t, err)
	assert.NotEmpty(t, second.ID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestManager_CreateDuplicateID(t *testing.T) {
	m := session.NewManager(memory.NewStore(), fastFlush())
	defer m.Close()
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "dup", "learner-1")
	require.NoError(t, err)

	_, err = m.CreateSession(ctx, "dup", "learner-2")
	assert.ErrorIs(t, err, domain.ErrSessionExists)
}

func TestManager_ConcurrentAppends(t *testing.T) {
	for _, n := range []int{1, 2, 50} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			m := session.NewManager(memory.NewStore(), fastFlush())
			defer m.Close()
			ctx := context.Background()

			_, err := m.CreateSession(ctx, "chat", "learner-1")
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := m.AppendChatMessage(ctx, "chat", domain.Message{
						Role:    "user",
						Content: fmt.Sprintf("msg-%d", i),
					})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			got, err := m.GetSession(ctx, "chat")
			require.NoError(t, err)
			require.Len(t, got.ChatHistory, n)

			seen := make(map[string]int)
			for _, msg := range got.ChatHistory {
				seen[msg.Content]++
			}
			for i := 0; i < n; i++ {
				assert.Equal(t, 1, seen[fmt.Sprintf("msg-%d", i)], "every message present exactly once")
			}
		})
	}
}

func TestManager_MergeProgress(t *testing.T) {
	m := session.NewManager(memory.NewStore(), fastFlush())
	defer m.Close()
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "progress", "learner-1")
	require.NoError(t, err)

	_, err = m.MergeProgress(ctx, "progress", map[string]any{"a": 1})
	require.NoError(t, err)

	got, err := m.MergeProgress(ctx, "progress", map[string]any{"b": 2})
	require.NoError(t, err)

	// Union-overwrite, not replace: earlier keys survive.
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, got.Progress)

	// Idempotent: the same partial twice yields the same map.
	again, err := m.MergeProgress(ctx, "progress", map[string]any{"b": 2})
	require.NoError(t, err)
	assert.Equal(t, got.Progress, again.Progress)
}

func TestManager_WriteBehindIsolation(t *testing.T) {
	// With the durable store failing on every call, the mutation API must
	// keep working and the cache must reflect every update.
	m := session.NewManager(brokenStore{}, fastFlush())
	defer m.Close()
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "offline", "learner-1")
	require.NoError(t, err)

	_, err = m.AppendChatMessage(ctx, "offline", domain.Message{Role: "user", Content: "hello"})
	require.NoError(t, err)

	_, err = m.AppendQuizRecord(ctx, "offline", domain.QuizRecord{"quiz_id": "q1"})
	require.NoError(t, err)

	got, err := m.MergeProgress(ctx, "offline", map[string]any{"topic": "budgeting"})
	require.NoError(t, err)

	assert.Len(t, got.ChatHistory, 1)
	assert.Len(t, got.QuizHistory, 1)
	assert.Equal(t, "budgeting", got.Progress["topic"])
}

func TestManager_EmptyIDIsNotFound(t *testing.T) {
	// Empty ids must read as absent without consulting the store: backends
	// that reject empty keys would otherwise surface as an outage.
	m := session.NewManager(brokenStore{}, fastFlush())
	defer m.Close()
	ctx := context.Background()

	for _, id := range []string{"", "   "} {
		_, err := m.GetSession(ctx, id)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)

		_, err = m.AppendChatMessage(ctx, id, domain.Message{Role: "user", Content: "hi"})
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	}
}

func TestManager_MissWithUnreachableStore(t *testing.T) {
	m := session.NewManager(brokenStore{}, fastFlush())
	defer m.Close()

	_, err := m.GetSession(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_DeleteRemovesBothLayers(t *testing.T) {
	store := memory.NewStore()
	m := session.NewManager(store, fastFlush())
	defer m.Close()
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "doomed", "learner-1")
	require.NoError(t, err)

	// Wait for the write-behind flush so no stray upsert lands after the
	// delete.
	require.Eventually(t, func() bool {
		_, err := store.Load(ctx, "doomed")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.DeleteSession(ctx, "doomed"))

	_, err = m.GetSession(ctx, "doomed")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = store.Load(ctx, "doomed")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_ClearPreservesIdentity(t *testing.T) {
	m := session.NewManager(memory.NewStore(), fastFlush())
	defer m.Close()
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "clearable", "learner-1")
	require.NoError(t, err)

	_, err = m.AppendChatMessage(ctx, "clearable", domain.Message{Role: "user", Content: "hi"})
	require.NoError(t, err)
	_, err = m.AppendQuizRecord(ctx, "clearable", domain.QuizRecord{"quiz_id": "q1"})
	require.NoError(t, err)
	_, err = m.MergeProgress(ctx, "clearable", map[string]any{"unit": 3})
	require.NoError(t, err)

	require.NoError(t, m.ClearHistory(ctx, "clearable"))

	got, err := m.GetSession(ctx, "clearable")
	require.NoError(t, err)
	assert.Equal(t, "clearable", got.ID)
	assert.Equal(t, "learner-1", got.UserID)
	assert.Equal(t, map[string]any{"unit": 3}, got.Progress)
	assert.Empty(t, got.ChatHistory)
	assert.Empty(t, got.QuizHistory)
}

func TestManager_MutateUnknownID(t *testing.T) {
	m := session.NewManager(memory.NewStore(), fastFlush())
	defer m.Close()
	ctx := context.Background()

	_, err := m.AppendChatMessage(ctx, "never-created", domain.Message{Role: "user", Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = m.GetSession(ctx, "never-created")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound, "mutation must not fabricate a session")
}

func TestManager_MissPopulatesFromStore(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	// Seed the durable store directly, as if written by a previous process.
	seeded := domain.NewSession("revived", "learner-9", time.Now().UTC())
	seeded.Progress["unit"] = "saving"
	require.NoError(t, store.Upsert(ctx, "revived", seeded))

	m := session.NewManager(store, fastFlush())
	defer m.Close()

	got, err := m.GetSession(ctx, "revived")
	require.NoError(t, err)
	assert.Equal(t, "learner-9", got.UserID)
	assert.Equal(t, "saving", got.Progress["unit"])

	// Mutations now go through the cache.
	_, err = m.AppendChatMessage(ctx, "revived", domain.Message{Role: "user", Content: "back again"})
	require.NoError(t, err)
}

func TestManager_UpdatedAtBumpsOnMutation(t *testing.T) {
	m := session.NewManager(memory.NewStore(), fastFlush())
	defer m.Close()
	ctx := context.Background()

	created, err := m.CreateSession(ctx, "clocked", "learner-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	got, err := m.AppendChatMessage(ctx, "clocked", domain.Message{Role: "user", Content: "hi"})
	require.NoError(t, err)

	assert.True(t, got.UpdatedAt.After(created.UpdatedAt))
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestManager_IdleEviction(t *testing.T) {
	store := memory.NewStore()
	m := session.NewManager(store, fastFlush(),
		session.WithIdleEviction(30*time.Millisecond, 10*time.Millisecond))
	defer m.Close()
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "idle", "learner-1")
	require.NoError(t, err)
	_, err = m.MergeProgress(ctx, "idle", map[string]any{"unit": "credit"})
	require.NoError(t, err)

	// The sweeper flushes then evicts once the session goes idle.
	require.Eventually(t, func() bool {
		return len(m.Snapshot(ctx)) == 0
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := store.Load(ctx, "idle")
	require.NoError(t, err, "eviction must flush before dropping")
	assert.Equal(t, "credit", stored.Progress["unit"])

	// Next access repopulates through the ordinary miss path.
	got, err := m.GetSession(ctx, "idle")
	require.NoError(t, err)
	assert.Equal(t, "credit", got.Progress["unit"])
}

func TestManager_EvictionWaitsForPendingFlush(t *testing.T) {
	// With a single worker stalled on the first flush, a later mutation's
	// flush sits queued behind it. Evicting now would let the stalled older
	// snapshot land after the eviction flush and win; the next load would
	// then repopulate the cache without the acknowledged append.
	store := newGateStore()
	m := session.NewManager(store,
		session.WithReconciler(session.ReconcilerConfig{
			Workers:      1,
			QueueSize:    8,
			MaxAttempts:  2,
			BaseBackoff:  time.Millisecond,
			FlushTimeout: 2 * time.Second,
		}),
		session.WithIdleEviction(20*time.Millisecond, 10*time.Millisecond))
	defer m.Close()
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "held", "learner-1")
	require.NoError(t, err)
	_, err = m.AppendChatMessage(ctx, "held", domain.Message{Role: "user", Content: "compound interest?"})
	require.NoError(t, err)

	// Several sweep intervals pass while the first flush is stuck; the
	// session must stay cached.
	time.Sleep(100 * time.Millisecond)
	require.Len(t, m.Snapshot(ctx), 1, "must not evict while flushes are queued or in flight")

	store.release()

	// Once the queue clears, the sweeper flushes the current state and
	// evicts as usual.
	require.Eventually(t, func() bool {
		return len(m.Snapshot(ctx)) == 0
	}, 2*time.Second, 10*time.Millisecond)

	got, err := m.GetSession(ctx, "held")
	require.NoError(t, err)
	require.Len(t, got.ChatHistory, 1, "acknowledged append must survive eviction")
	assert.Equal(t, "compound interest?", got.ChatHistory[0].Content)
}

func TestManager_CreateOverEvictedDurableSession(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	// A session known only to the durable store, as after idle eviction or a
	// process restart.
	seeded := domain.NewSession("evicted", "learner-1", time.Now().UTC())
	seeded.ChatHistory = append(seeded.ChatHistory, domain.Message{Role: "user", Content: "hello"})
	require.NoError(t, store.Upsert(ctx, "evicted", seeded))

	m := session.NewManager(store, fastFlush())
	defer m.Close()

	_, err := m.CreateSession(ctx, "evicted", "learner-2")
	assert.ErrorIs(t, err, domain.ErrSessionExists, "re-creating must not clobber durable history")

	got, err := m.GetSession(ctx, "evicted")
	require.NoError(t, err)
	assert.Equal(t, "learner-1", got.UserID)
	require.Len(t, got.ChatHistory, 1)
}
