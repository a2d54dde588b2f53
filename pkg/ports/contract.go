package ports

import (
	"context"
	"testing"
	"time"

	"github.com/moneymentor/mentor/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore
// implementation adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("Upsert and Load", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		session := domain.NewSession(sessionID, "learner-1", now)
		session.ChatHistory = append(session.ChatHistory, domain.Message{
			Role:      "user",
			Content:   "what is compound interest?",
			Timestamp: now,
		})
		session.Progress["topic"] = "compound-interest"

		err := store.Upsert(ctx, sessionID, session)
		require.NoError(t, err, "Upsert should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, sessionID, loaded.ID)
		assert.Equal(t, "learner-1", loaded.UserID)
		require.Len(t, loaded.ChatHistory, 1)
		assert.Equal(t, "user", loaded.ChatHistory[0].Role)
		// JSON persistence may normalize value types, so only check presence.
		assert.NotNil(t, loaded.Progress["topic"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Upsert Replaces", func(t *testing.T) {
		now := time.Now().UTC()
		session := domain.NewSession(sessionID, "learner-1", now)
		session.Progress["score"] = 2

		require.NoError(t, store.Upsert(ctx, sessionID, session))

		session.Progress["score"] = 5
		require.NoError(t, store.Upsert(ctx, sessionID, session))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Len(t, loaded.Progress, 1)
	})

	t.Run("Delete", func(t *testing.T) {
		now := time.Now().UTC()
		err := store.Upsert(ctx, sessionID, domain.NewSession(sessionID, "learner-1", now))
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")

		// Deleting an absent session is idempotent.
		assert.NoError(t, store.Delete(ctx, sessionID))
	})

	t.Run("List", func(t *testing.T) {
		now := time.Now().UTC()
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.Upsert(ctx, id1, domain.NewSession(id1, "learner-1", now))
		_ = store.Upsert(ctx, id2, domain.NewSession(id2, "learner-2", now))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}
