package domain

import "errors"

// ErrSessionNotFound is returned when a session ID cannot be found in the
// cache or the durable store.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when creation is attempted with an ID that is
// already live.
var ErrSessionExists = errors.New("session already exists")

// ErrStoreUnavailable is returned when a cache miss could not be resolved
// because the durable store was unreachable. It is distinct from
// ErrSessionNotFound so callers can tell "safe to recreate" apart from
// "indeterminate".
var ErrStoreUnavailable = errors.New("durable store unavailable")
