package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/moneymentor/mentor/internal/logging"
	"github.com/moneymentor/mentor/internal/metrics"
	"github.com/moneymentor/mentor/pkg/domain"
	"github.com/moneymentor/mentor/pkg/ports"
)

// createCheckTimeout bounds the durable existence check on CreateSession so a
// slow store cannot stall session creation.
const createCheckTimeout = time.Second

// Manager is the public session API used by request handlers and background
// collaborators. It owns the write-behind policy: the cache is the truth, the
// durable store is a lagging, best-effort replica.
//
// Every mutating call other than DeleteSession completes as soon as the cache
// reflects the new state; the durable write is scheduled on the Reconciler
// and its outcome is only logged, never propagated back to the caller.
type Manager struct {
	cache   *Cache
	store   ports.SessionStore
	flusher *Reconciler

	locker  ports.DistributedLocker
	lockTTL time.Duration

	logger  *slog.Logger
	metrics *metrics.Set

	sweeper *sweeper
}

// Option configures the Manager.
type Option func(*managerConfig)

type managerConfig struct {
	logger     *slog.Logger
	metrics    *metrics.Set
	locker     ports.DistributedLocker
	lockTTL    time.Duration
	reconciler ReconcilerConfig
	idleTTL    time.Duration
	sweepEvery time.Duration
}

// WithLogger configures a logger for the Manager and its reconciler.
func WithLogger(logger *slog.Logger) Option {
	return func(c *managerConfig) {
		c.logger = logger
	}
}

// WithMetrics configures the Prometheus instrument set.
func WithMetrics(set *metrics.Set) Option {
	return func(c *managerConfig) {
		c.metrics = set
	}
}

// WithLocker enables distributed locking on store-facing critical sections,
// for deployments running more than one replica against the same store.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(c *managerConfig) {
		c.locker = locker
	}
}

// WithReconciler tunes the write-behind worker pool.
func WithReconciler(cfg ReconcilerConfig) Option {
	return func(c *managerConfig) {
		c.reconciler = cfg
	}
}

// WithIdleEviction enables the background sweep that flushes and evicts
// sessions idle for longer than ttl, checking every interval.
func WithIdleEviction(ttl, interval time.Duration) Option {
	return func(c *managerConfig) {
		c.idleTTL = ttl
		c.sweepEvery = interval
	}
}

// NewManager creates a session Manager backed by the given durable store and
// starts its background machinery. Call Close to drain pending flushes.
func NewManager(store ports.SessionStore, opts ...Option) *Manager {
	cfg := &managerConfig{
		logger:  logging.NewNop(),
		lockTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = metrics.NewNop()
	}

	m := &Manager{
		cache:   NewCache(),
		store:   store,
		locker:  cfg.locker,
		lockTTL: cfg.lockTTL,
		logger:  cfg.logger,
		metrics: cfg.metrics,
	}
	m.flusher = NewReconciler(store, cfg.reconciler, cfg.logger, cfg.metrics)

	if cfg.idleTTL > 0 && cfg.sweepEvery > 0 {
		m.sweeper = newSweeper(m, cfg.idleTTL, cfg.sweepEvery)
		m.sweeper.start()
	}
	return m
}

// Close stops the eviction sweep and drains scheduled durable writes.
func (m *Manager) Close() {
	if m.sweeper != nil {
		m.sweeper.stop()
	}
	m.flusher.Close()
}

// withLock executes fn while holding the in-process per-ID lock and, when
// configured, the distributed lock for the session ID.
func (m *Manager) withLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	return m.cache.WithLock(sessionID, func() error {
		if m.locker != nil {
			unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
			if err != nil {
				return fmt.Errorf("failed to acquire distributed lock: %w", err)
			}
			defer func() {
				if err := unlock(ctx); err != nil {
					m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
						"session_id", sessionID,
						"err", err,
					)
				}
			}()
		}
		return fn(ctx)
	})
}

// CreateSession materializes a fresh session in the cache and schedules its
// first durable write. If id is empty a new one is generated; a supplied id
// already taken in either layer is rejected with domain.ErrSessionExists. The
// call never fails due to durable-store unavailability.
func (m *Manager) CreateSession(ctx context.Context, id, userID string) (*domain.Session, error) {
	id = strings.TrimSpace(id)
	supplied := id != ""
	if !supplied {
		id = uuid.NewString()
	}

	if supplied {
		// A supplied id may name a session that lives only durably, evicted
		// from the cache or written by a previous process. Creating over it
		// would clobber its history on the first flush. Best effort: an
		// unreachable store does not block creation.
		checkCtx, cancel := context.WithTimeout(ctx, createCheckTimeout)
		_, err := m.store.Load(checkCtx, id)
		cancel()
		if err == nil {
			return nil, fmt.Errorf("create session %q: %w", id, domain.ErrSessionExists)
		}
	}

	sess := domain.NewSession(id, userID, time.Now().UTC())
	if !m.cache.PutIfAbsent(id, sess) {
		return nil, fmt.Errorf("create session %q: %w", id, domain.ErrSessionExists)
	}
	m.metrics.CacheSize.Set(float64(m.cache.Len()))

	m.scheduleFlush(sess)
	return sess, nil
}

// GetSession returns the cached session, falling back to a durable load on a
// miss. Absence everywhere is domain.ErrSessionNotFound; an unreachable store
// is domain.ErrStoreUnavailable so callers can tell the two apart.
func (m *Manager) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	// Empty ids never name a session. Asking the store about them would turn
	// a malformed id into a spurious ErrStoreUnavailable on backends that
	// reject empty keys outright.
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrSessionNotFound
	}

	if sess, ok := m.cache.Get(id); ok {
		return sess, nil
	}

	var sess *domain.Session
	err := m.withLock(ctx, id, func(ctx context.Context) error {
		// Another caller may have populated the cache while we waited.
		if cached, ok := m.cache.Get(id); ok {
			sess = cached
			return nil
		}

		loaded, err := m.store.Load(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			m.logger.Error("durable load failed", "session_id", id, "err", err)
			return fmt.Errorf("load session %q: %w", id, domain.ErrStoreUnavailable)
		}

		m.cache.Put(id, loaded)
		m.metrics.CacheSize.Set(float64(m.cache.Len()))
		sess = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendChatMessage appends a chat turn and bumps updated_at. The session is
// pulled from the durable store on a cache miss; a session that exists
// nowhere yields domain.ErrSessionNotFound rather than being fabricated.
func (m *Manager) AppendChatMessage(ctx context.Context, id string, msg domain.Message) (*domain.Session, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return m.mutate(ctx, id, func(s *domain.Session) {
		s.ChatHistory = append(s.ChatHistory, msg)
	})
}

// AppendQuizRecord appends an opaque quiz record and bumps updated_at.
func (m *Manager) AppendQuizRecord(ctx context.Context, id string, rec domain.QuizRecord) (*domain.Session, error) {
	return m.mutate(ctx, id, func(s *domain.Session) {
		s.QuizHistory = append(s.QuizHistory, rec)
	})
}

// MergeProgress merges partial into the progress map. Keys in partial
// overwrite, all other existing keys survive. Applying the same partial twice
// without interleaving mutations is idempotent.
func (m *Manager) MergeProgress(ctx context.Context, id string, partial map[string]any) (*domain.Session, error) {
	return m.mutate(ctx, id, func(s *domain.Session) {
		for k, v := range partial {
			s.Progress[k] = v
		}
	})
}

// ClearHistory resets both history sequences to empty without touching the
// session identity or its progress map. Clearing is an administrative
// operation, not a delete: the record stays live in both layers.
func (m *Manager) ClearHistory(ctx context.Context, id string) error {
	_, err := m.mutate(ctx, id, func(s *domain.Session) {
		s.ChatHistory = []domain.Message{}
		s.QuizHistory = []domain.QuizRecord{}
	})
	return err
}

// DeleteSession evicts the session from the cache and deletes it durably
// in-line. Deletion is a rare, deliberate operation, so unlike the
// high-frequency appends it is not write-behind. A durable delete failure is
// logged and counted, never surfaced.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	return m.withLock(ctx, id, func(ctx context.Context) error {
		m.cache.Remove(id)
		m.metrics.CacheSize.Set(float64(m.cache.Len()))

		if err := m.store.Delete(ctx, id); err != nil {
			m.logger.Error("durable delete failed", "session_id", id, "err", err)
			m.metrics.DeleteFailures.Inc()
		}
		return nil
	})
}

// Snapshot returns copies of every cached session, for reporting jobs.
func (m *Manager) Snapshot(ctx context.Context) []*domain.Session {
	return m.cache.Snapshot()
}

// mutate applies fn under the per-ID lock, populating the cache from the
// durable store first if needed, and schedules the write-behind flush.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*domain.Session)) (*domain.Session, error) {
	apply := func(s *domain.Session) {
		fn(s)
		touch(s)
	}

	if sess, ok := m.cache.MutateInPlace(id, apply); ok {
		m.scheduleFlush(sess)
		return sess, nil
	}

	// Cache miss: try to pull the session in, then mutate for real.
	if _, err := m.GetSession(ctx, id); err != nil {
		return nil, err
	}
	sess, ok := m.cache.MutateInPlace(id, apply)
	if !ok {
		// Deleted between the load and the mutation.
		return nil, domain.ErrSessionNotFound
	}
	m.scheduleFlush(sess)
	return sess, nil
}

// scheduleFlush hands a snapshot to the reconciler. sess must already be a
// caller-private copy.
func (m *Manager) scheduleFlush(sess *domain.Session) {
	m.flusher.Enqueue(sess.ID, sess.Clone())
}

// touch bumps updated_at, keeping it monotonically non-decreasing.
func touch(s *domain.Session) {
	if now := time.Now().UTC(); now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
}
