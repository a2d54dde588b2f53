package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/moneymentor/mentor/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetMiss(t *testing.T) {
	c := NewCache()
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestCache_PutGetIsolation(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	original := domain.NewSession("s1", "u1", now)
	c.Put("s1", original)

	// Mutating the record we put in must not affect the cached copy.
	original.Progress["leaked"] = true

	got, ok := c.Get("s1")
	require.True(t, ok)
	assert.Empty(t, got.Progress)

	// Mutating the record we got back must not affect the cached copy either.
	got.ChatHistory = append(got.ChatHistory, domain.Message{Role: "user", Content: "hi"})

	again, ok := c.Get("s1")
	require.True(t, ok)
	assert.Empty(t, again.ChatHistory)
}

func TestCache_PutIfAbsent(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	assert.True(t, c.PutIfAbsent("s1", domain.NewSession("s1", "u1", now)))
	assert.False(t, c.PutIfAbsent("s1", domain.NewSession("s1", "u2", now)))

	got, ok := c.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "u1", got.UserID, "first writer wins")
}

func TestCache_MutateInPlace_Miss(t *testing.T) {
	c := NewCache()
	_, ok := c.MutateInPlace("nope", func(s *domain.Session) {
		t.Fatal("fn must not run for an absent ID")
	})
	assert.False(t, ok)
}

func TestCache_MutateInPlace_ConcurrentAppends(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()
	c.Put("s1", domain.NewSession("s1", "u1", now))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok := c.MutateInPlace("s1", func(s *domain.Session) {
				s.ChatHistory = append(s.ChatHistory, domain.Message{
					Role:    "user",
					Content: fmt.Sprintf("msg-%d", i),
				})
			})
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	got, ok := c.Get("s1")
	require.True(t, ok)
	require.Len(t, got.ChatHistory, n)

	seen := make(map[string]int)
	for _, msg := range got.ChatHistory {
		seen[msg.Content]++
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, 1, seen[fmt.Sprintf("msg-%d", i)], "every append present exactly once")
	}
}

func TestCache_RemoveDuringMutate(t *testing.T) {
	// A session removed while a mutation is in flight must stay removed.
	c := NewCache()
	now := time.Now().UTC()
	c.Put("s1", domain.NewSession("s1", "u1", now))

	_, ok := c.MutateInPlace("s1", func(s *domain.Session) {
		c.Remove("s1")
		s.ChatHistory = append(s.ChatHistory, domain.Message{Role: "user", Content: "late"})
	})
	assert.False(t, ok)

	_, ok = c.Get("s1")
	assert.False(t, ok)
}

func TestCache_LockRefCounting(t *testing.T) {
	c := NewCache()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.WithLock("s1", func() error { return nil })
		}()
	}
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.locks, "lock entries are garbage collected at refs == 0")
}

func TestCache_IdleIDs(t *testing.T) {
	c := NewCache()

	current := time.Now()
	c.now = func() time.Time { return current }

	c.Put("old", domain.NewSession("old", "u1", current))

	current = current.Add(time.Hour)
	c.Put("fresh", domain.NewSession("fresh", "u1", current))

	idle := c.idleIDs(current.Add(-30 * time.Minute))
	assert.Equal(t, []string{"old"}, idle)

	// Touching via Get resets the idle clock.
	_, _ = c.Get("old")
	assert.Empty(t, c.idleIDs(current.Add(-30*time.Minute)))
}

func TestCache_SnapshotAndIDs(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()
	c.Put("a", domain.NewSession("a", "u1", now))
	c.Put("b", domain.NewSession("b", "u2", now))

	assert.Equal(t, 2, c.Len())
	assert.ElementsMatch(t, []string{"a", "b"}, c.IDs())

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	for _, s := range snap {
		s.Progress["leaked"] = true
	}
	got, _ := c.Get("a")
	assert.Empty(t, got.Progress)
}
