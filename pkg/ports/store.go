package ports

import (
	"context"

	"github.com/moneymentor/mentor/pkg/domain"
)

// SessionStore defines the interface for the durable session store.
//
// The store is treated as an unreliable, unowned external resource: calls may
// be slow or fail, and the in-process cache remains the source of truth for
// the lifetime of the process. Implementations must be safe for concurrent
// use.
type SessionStore interface {
	// Load retrieves the session for the given ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Upsert inserts or replaces the full session record.
	Upsert(ctx context.Context, sessionID string, session *domain.Session) error

	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of all stored sessions.
	List(ctx context.Context) ([]string, error)
}
